package usecase

import (
	"context"

	"gitlab.com/leadops/api/funnel-events-processor/internal/cache"
	"gitlab.com/leadops/api/funnel-events-processor/internal/identity"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/storage"
)

// ContactResolver is the slice of the identity resolver the service needs.
type ContactResolver interface {
	Resolve(ctx context.Context, keys identity.KeySet) (*identity.Resolution, error)
}

// OutcomePublisher publishes outcome notifications. Satisfied by the
// JetStream client.
type OutcomePublisher interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

// IngestServiceInterface is the surface the transports (HTTP gateway, NATS
// relay, replay worker) depend on.
type IngestServiceInterface interface {
	ProcessEvent(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata) (*model.InboundEvent, error)
	JournalRejected(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata, cause error) (*model.InboundEvent, error)
	CorrectStage(ctx context.Context, req model.StageCorrectionRequest) (*model.InboundEvent, error)
	ContactTimeline(ctx context.Context, contactID string) ([]model.InboundEvent, error)
	ListAmbiguousEvents(ctx context.Context, limit, offset int) ([]model.InboundEvent, error)
	ListContactsByStage(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error)
}

// IngestService runs the resolution pipeline: dedupe, key extraction,
// identity resolution, merge, journal, outcome publish.
type IngestService struct {
	contactRepo    storage.ContactRepo
	journalRepo    storage.JournalRepo
	resolver       ContactResolver
	dedupe         *cache.DedupeCache
	publisher      OutcomePublisher
	outcomeSubject string
}

var _ IngestServiceInterface = (*IngestService)(nil)

// NewIngestService creates the ingest pipeline service. dedupe and publisher
// may be nil; the corresponding steps are skipped.
func NewIngestService(
	contactRepo storage.ContactRepo,
	journalRepo storage.JournalRepo,
	resolver ContactResolver,
	dedupe *cache.DedupeCache,
	publisher OutcomePublisher,
	outcomeSubject string,
) *IngestService {
	return &IngestService{
		contactRepo:    contactRepo,
		journalRepo:    journalRepo,
		resolver:       resolver,
		dedupe:         dedupe,
		publisher:      publisher,
		outcomeSubject: outcomeSubject,
	}
}
