package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// Create mocks the Create method
func (m *ContactRepoMock) Create(ctx context.Context, contact *model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// Update mocks the Update method
func (m *ContactRepoMock) Update(ctx context.Context, contact *model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *ContactRepoMock) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindByKey mocks the FindByKey method
func (m *ContactRepoMock) FindByKey(ctx context.Context, column string, value string) ([]model.Contact, error) {
	args := m.Called(ctx, column, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

// FindByStagePaginated mocks the FindByStagePaginated method
func (m *ContactRepoMock) FindByStagePaginated(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error) {
	args := m.Called(ctx, stage, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

// Close mocks the Close method
func (m *ContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- JournalRepo Mock ---

// JournalRepoMock mocks the JournalRepo interface
type JournalRepoMock struct {
	mock.Mock
}

// Append mocks the Append method
func (m *JournalRepoMock) Append(ctx context.Context, event *model.InboundEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// FindBySourceEventID mocks the FindBySourceEventID method
func (m *JournalRepoMock) FindBySourceEventID(ctx context.Context, source model.Source, sourceEventID string) (*model.InboundEvent, error) {
	args := m.Called(ctx, source, sourceEventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundEvent), args.Error(1)
}

// FindByID mocks the FindByID method
func (m *JournalRepoMock) FindByID(ctx context.Context, id string) (*model.InboundEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundEvent), args.Error(1)
}

// ListByContact mocks the ListByContact method
func (m *JournalRepoMock) ListByContact(ctx context.Context, contactID string) ([]model.InboundEvent, error) {
	args := m.Called(ctx, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundEvent), args.Error(1)
}

// ListByOutcome mocks the ListByOutcome method
func (m *JournalRepoMock) ListByOutcome(ctx context.Context, outcome model.ResolutionOutcome, limit, offset int) ([]model.InboundEvent, error) {
	args := m.Called(ctx, outcome, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.InboundEvent), args.Error(1)
}

// Close mocks the Close method
func (m *JournalRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
