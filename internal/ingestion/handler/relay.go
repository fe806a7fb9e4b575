package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/sources"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
)

// RelayService is the slice of the ingest pipeline the relay handler needs.
type RelayService interface {
	ProcessEvent(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata) (*model.InboundEvent, error)
	JournalRejected(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata, cause error) (*model.InboundEvent, error)
}

// RelayHandler turns one relayed webhook delivery into an envelope and runs
// it through the resolution pipeline.
type RelayHandler struct {
	service RelayService
}

// NewRelayHandler creates a new relay webhook handler
func NewRelayHandler(service RelayService) *RelayHandler {
	return &RelayHandler{
		service: service,
	}
}

// HandleWebhook processes one relayed webhook delivery. Payloads the source
// adapter cannot shape into an envelope are journaled as rejected right away;
// redelivery would produce the same parse failure.
func (h *RelayHandler) HandleWebhook(ctx context.Context, source model.Source, metadata *model.EventMetadata, rawPayload []byte) error {
	requestID := uuid.NewString()
	ctx = tenant.WithRequestID(ctx, requestID)

	log := logger.FromContext(ctx)
	log.Info("Processing relayed webhook", zap.String("source", string(source)))

	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		tenantID = metadata.TenantID
	}

	envelope, err := sources.BuildEnvelope(source, tenantID, rawPayload, metadata.Timestamp)
	if err != nil {
		log.Warn("Payload could not be shaped into an envelope", zap.Error(err))
		_, journalErr := h.service.JournalRejected(ctx, envelope, metadata, err)
		return journalErr
	}
	if envelope.SourceEventID == "" {
		envelope.SourceEventID = metadata.MessageID
	}

	_, err = h.service.ProcessEvent(ctx, envelope, metadata)
	return err
}
