package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/config"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	storagemock "gitlab.com/leadops/api/funnel-events-processor/internal/storage/mock"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
)

// MockIngestService mocks the IngestServiceInterface
type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) ProcessEvent(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata) (*model.InboundEvent, error) {
	args := m.Called(ctx, envelope, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundEvent), args.Error(1)
}

func (m *MockIngestService) JournalRejected(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata, cause error) (*model.InboundEvent, error) {
	args := m.Called(ctx, envelope, metadata, cause)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundEvent), args.Error(1)
}

func (m *MockIngestService) CorrectStage(ctx context.Context, req model.StageCorrectionRequest) (*model.InboundEvent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundEvent), args.Error(1)
}

func (m *MockIngestService) ContactTimeline(ctx context.Context, contactID string) ([]model.InboundEvent, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundEvent), args.Error(1)
}

func (m *MockIngestService) ListAmbiguousEvents(ctx context.Context, limit, offset int) ([]model.InboundEvent, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundEvent), args.Error(1)
}

func (m *MockIngestService) ListContactsByStage(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error) {
	args := m.Called(ctx, stage, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

func replayPoolConfig() config.ReplayWorkerPoolConfig {
	return config.ReplayWorkerPoolConfig{
		PoolSize:   2,
		QueueSize:  10,
		MaxBlock:   time.Second,
		ExpiryTime: time.Minute,
	}
}

func newReplayFixture(t *testing.T) (*ReplayWorker, *storagemock.JournalRepoMock, *MockIngestService) {
	journalRepo := new(storagemock.JournalRepoMock)
	service := new(MockIngestService)
	worker, err := NewReplayWorker(replayPoolConfig(), journalRepo, service, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(worker.Stop)
	return worker, journalRepo, service
}

func replayTask(eventID string) ReplayTaskData {
	return ReplayTaskData{
		Ctx:      tenant.WithTenantID(context.Background(), testTenantID),
		EventID:  eventID,
		TenantID: testTenantID,
	}
}

func TestReplayWorker_ReplaysRejectedRow(t *testing.T) {
	worker, journalRepo, service := newReplayFixture(t)

	row := &model.InboundEvent{
		ID:            "row-1",
		TenantID:      testTenantID,
		Source:        model.SourceManychat,
		EventType:     model.EventLeadQualified,
		SourceEventID: "evt-1",
		RawPayload:    datatypes.JSON(`{"subscriber_id":"sub-1"}`),
		Outcome:       model.OutcomeRejected,
	}
	contactID := "contact-1"
	resolved := &model.InboundEvent{ID: "row-2", Outcome: model.OutcomeCreated, ContactID: &contactID}

	journalRepo.On("FindByID", mock.Anything, "row-1").Return(row, nil)
	service.On("ProcessEvent", mock.Anything, mock.AnythingOfType("model.WebhookEnvelope"), mock.Anything).Return(resolved, nil)

	worker.processReplayTask(replayTask("row-1"))

	service.AssertCalled(t, "ProcessEvent", mock.Anything, mock.AnythingOfType("model.WebhookEnvelope"), mock.Anything)
	env := service.Calls[0].Arguments.Get(1).(model.WebhookEnvelope)
	assert.Equal(t, model.SourceManychat, env.Source)
	assert.Equal(t, "evt-1", env.SourceEventID)
	assert.JSONEq(t, `{"subscriber_id":"sub-1"}`, string(env.RawPayload))
}

func TestReplayWorker_SkipsResolvedRow(t *testing.T) {
	worker, journalRepo, service := newReplayFixture(t)

	row := &model.InboundEvent{
		ID:      "row-1",
		Outcome: model.OutcomeMatched,
	}
	journalRepo.On("FindByID", mock.Anything, "row-1").Return(row, nil)

	worker.processReplayTask(replayTask("row-1"))

	service.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestReplayWorker_LoadFailureDoesNotPanic(t *testing.T) {
	worker, journalRepo, service := newReplayFixture(t)

	journalRepo.On("FindByID", mock.Anything, "row-missing").Return(nil, apperrors.ErrNotFound)

	worker.processReplayTask(replayTask("row-missing"))

	service.AssertNotCalled(t, "ProcessEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestReplayWorker_SubmitOutcomeQueuesEachRow(t *testing.T) {
	worker, journalRepo, service := newReplayFixture(t)

	rows := []model.InboundEvent{
		{ID: "row-1", TenantID: testTenantID, Source: model.SourceManychat, EventType: model.EventLeadNew, RawPayload: datatypes.JSON(`{"subscriber_id":"s1"}`), Outcome: model.OutcomeRejected},
		{ID: "row-2", TenantID: testTenantID, Source: model.SourceManychat, EventType: model.EventLeadNew, RawPayload: datatypes.JSON(`{"subscriber_id":"s2"}`), Outcome: model.OutcomeRejected},
	}
	journalRepo.On("ListByOutcome", mock.Anything, model.OutcomeRejected, 100, 0).Return(rows, nil)
	journalRepo.On("FindByID", mock.Anything, mock.AnythingOfType("string")).Return(&rows[0], nil)
	service.On("ProcessEvent", mock.Anything, mock.Anything, mock.Anything).Return(&model.InboundEvent{ID: "new", Outcome: model.OutcomeCreated}, nil)

	ctx := tenant.WithTenantID(context.Background(), testTenantID)
	queued, err := worker.SubmitOutcome(ctx, model.OutcomeRejected, 0)

	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	// Workers run asynchronously, give them a moment to drain the queue.
	require.Eventually(t, func() bool {
		for _, c := range service.Calls {
			if c.Method == "ProcessEvent" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplayWorker_SubmitOutcomeRequiresTenant(t *testing.T) {
	worker, _, _ := newReplayFixture(t)

	_, err := worker.SubmitOutcome(context.Background(), model.OutcomeRejected, 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrTenantIDNotFound)
}
