package storage

import (
	"context"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

// Create inserts a new contact
func (a *ContactRepoAdapter) Create(ctx context.Context, contact *model.Contact) error {
	return a.postgres.CreateContact(ctx, contact)
}

// Update persists a reconciled contact
func (a *ContactRepoAdapter) Update(ctx context.Context, contact *model.Contact) error {
	return a.postgres.UpdateContact(ctx, contact)
}

// FindByID finds a contact by ID
func (a *ContactRepoAdapter) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	return a.postgres.FindContactByID(ctx, id)
}

// FindByKey finds contacts by an identity key column
func (a *ContactRepoAdapter) FindByKey(ctx context.Context, column string, value string) ([]model.Contact, error) {
	return a.postgres.FindContactsByKey(ctx, column, value)
}

// FindByStagePaginated lists contacts at a funnel stage
func (a *ContactRepoAdapter) FindByStagePaginated(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error) {
	return a.postgres.FindContactsByStagePaginated(ctx, stage, limit, offset)
}

func (a *ContactRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// JournalRepoAdapter adapts the PostgresRepo to the JournalRepo interface
type JournalRepoAdapter struct {
	postgres *PostgresRepo
}

// NewJournalRepoAdapter creates a new journal repository adapter
func NewJournalRepoAdapter(postgres *PostgresRepo) JournalRepo {
	return &JournalRepoAdapter{postgres: postgres}
}

// Append writes one journal row
func (a *JournalRepoAdapter) Append(ctx context.Context, event *model.InboundEvent) error {
	return a.postgres.AppendEvent(ctx, event)
}

// FindBySourceEventID finds the latest journal row for a source event id
func (a *JournalRepoAdapter) FindBySourceEventID(ctx context.Context, source model.Source, sourceEventID string) (*model.InboundEvent, error) {
	return a.postgres.FindEventBySourceEventID(ctx, source, sourceEventID)
}

// FindByID finds a journal row by ID
func (a *JournalRepoAdapter) FindByID(ctx context.Context, id string) (*model.InboundEvent, error) {
	return a.postgres.FindEventByID(ctx, id)
}

// ListByContact lists a contact's delivery history
func (a *JournalRepoAdapter) ListByContact(ctx context.Context, contactID string) ([]model.InboundEvent, error) {
	return a.postgres.ListEventsByContact(ctx, contactID)
}

// ListByOutcome lists journal rows by outcome
func (a *JournalRepoAdapter) ListByOutcome(ctx context.Context, outcome model.ResolutionOutcome, limit, offset int) ([]model.InboundEvent, error) {
	return a.postgres.ListEventsByOutcome(ctx, outcome, limit, offset)
}

// Close closes the repository
func (a *JournalRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ ContactRepo = (*ContactRepoAdapter)(nil)
var _ JournalRepo = (*JournalRepoAdapter)(nil)
