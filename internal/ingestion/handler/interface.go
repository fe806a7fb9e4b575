package handler

import (
	"context"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// WebhookHandlerInterface defines the common interface for webhook handlers
type WebhookHandlerInterface interface {
	// HandleWebhook processes one relayed webhook delivery
	HandleWebhook(ctx context.Context, source model.Source, metadata *model.EventMetadata, rawPayload []byte) error
}

var _ WebhookHandlerInterface = (*RelayHandler)(nil)
