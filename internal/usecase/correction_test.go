package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

func TestCorrectStage_Success(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	booked := time.Now().Add(-time.Hour)
	contact := &model.Contact{
		ID:              "contact-1",
		TenantID:        testTenantID,
		Stage:           model.StageMeetingBooked,
		MeetingBookedAt: &booked,
	}

	f.contactRepo.On("FindByID", mock.Anything, "contact-1").Return(contact, nil)
	f.contactRepo.On("Update", mock.Anything, mock.AnythingOfType("*model.Contact")).Return(nil)
	f.journalRepo.On("Append", mock.Anything, mock.AnythingOfType("*model.InboundEvent")).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	req := model.StageCorrectionRequest{
		ContactID: "contact-1",
		Stage:     model.StageQualified,
		Reason:    "booked by mistake",
		Operator:  "ops@leadops.test",
	}

	event, err := f.service.CorrectStage(ctx, req)

	require.NoError(t, err)
	// Corrections bypass the forward-only guard, so the stage regresses.
	assert.Equal(t, model.StageQualified, contact.Stage)
	assert.Equal(t, model.SourceOperator, event.Source)
	assert.Equal(t, model.EventStageCorrected, event.EventType)
	assert.Equal(t, model.OutcomeMatched, event.Outcome)
	require.NotNil(t, event.ContactID)
	assert.Equal(t, "contact-1", *event.ContactID)
	// The earlier meeting_booked_at survives, timestamps are first-write-wins.
	assert.Equal(t, &booked, contact.MeetingBookedAt)
}

func TestCorrectStage_UnknownStage(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	req := model.StageCorrectionRequest{
		ContactID: "contact-1",
		Stage:     model.Stage("jumbo"),
	}

	event, err := f.service.CorrectStage(ctx, req)

	require.Error(t, err)
	assert.Nil(t, event)
	assert.True(t, apperrors.IsBadRequestError(err))
	f.contactRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestCorrectStage_ContactNotFound(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	f.contactRepo.On("FindByID", mock.Anything, "missing").Return(nil, apperrors.ErrNotFound)

	req := model.StageCorrectionRequest{
		ContactID: "missing",
		Stage:     model.StageQualified,
	}

	event, err := f.service.CorrectStage(ctx, req)

	require.Error(t, err)
	assert.Nil(t, event)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestCorrectStage_MissingContactID(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	req := model.StageCorrectionRequest{Stage: model.StageQualified}

	_, err := f.service.CorrectStage(ctx, req)

	require.Error(t, err)
	assert.True(t, apperrors.IsBadRequestError(err))
}

func TestContactTimeline(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	rows := []model.InboundEvent{
		{ID: "row-1", Outcome: model.OutcomeCreated},
		{ID: "row-2", Outcome: model.OutcomeMatched},
	}
	f.journalRepo.On("ListByContact", mock.Anything, "contact-1").Return(rows, nil)

	got, err := f.service.ContactTimeline(ctx, "contact-1")

	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestContactTimeline_EmptyID(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	_, err := f.service.ContactTimeline(ctx, "")

	require.Error(t, err)
	assert.True(t, apperrors.IsBadRequestError(err))
}

func TestListContactsByStage_DefaultLimit(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	f.contactRepo.On("FindByStagePaginated", mock.Anything, model.StageQualified, 50, 0).Return([]model.Contact{}, nil)

	got, err := f.service.ListContactsByStage(ctx, model.StageQualified, 0, 0)

	require.NoError(t, err)
	assert.Empty(t, got)
	f.contactRepo.AssertCalled(t, "FindByStagePaginated", mock.Anything, model.StageQualified, 50, 0)
}

func TestListContactsByStage_UnknownStage(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	got, err := f.service.ListContactsByStage(ctx, model.Stage("jumbo"), 10, 0)

	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, apperrors.IsBadRequestError(err))
	f.contactRepo.AssertNotCalled(t, "FindByStagePaginated", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListAmbiguousEvents_DefaultLimit(t *testing.T) {
	f := newTestFixture(false)
	ctx := testContext(t)

	f.journalRepo.On("ListByOutcome", mock.Anything, model.OutcomeAmbiguous, 50, 0).Return([]model.InboundEvent{}, nil)

	got, err := f.service.ListAmbiguousEvents(ctx, 0, 0)

	require.NoError(t, err)
	assert.Empty(t, got)
	f.journalRepo.AssertCalled(t, "ListByOutcome", mock.Anything, model.OutcomeAmbiguous, 50, 0)
}
