package storage

import (
	"context"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Create(ctx context.Context, contact *model.Contact) error
	Update(ctx context.Context, contact *model.Contact) error
	FindByID(ctx context.Context, id string) (*model.Contact, error)
	FindByKey(ctx context.Context, column string, value string) ([]model.Contact, error)
	FindByStagePaginated(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error)
	Close(ctx context.Context) error
}

// JournalRepo defines the append-only inbound event journal operations
type JournalRepo interface {
	Append(ctx context.Context, event *model.InboundEvent) error
	FindBySourceEventID(ctx context.Context, source model.Source, sourceEventID string) (*model.InboundEvent, error)
	FindByID(ctx context.Context, id string) (*model.InboundEvent, error)
	ListByContact(ctx context.Context, contactID string) ([]model.InboundEvent, error)
	ListByOutcome(ctx context.Context, outcome model.ResolutionOutcome, limit, offset int) ([]model.InboundEvent, error)
	Close(ctx context.Context) error
}
