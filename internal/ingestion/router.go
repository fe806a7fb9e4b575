package ingestion

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// WebhookHandler defines a function that processes one relayed webhook delivery.
type WebhookHandler func(ctx context.Context, source model.Source, metadata *model.EventMetadata, rawPayload []byte) error

// Router routes relayed webhook deliveries to the handler registered for
// their source.
type Router struct {
	handlers map[model.Source]WebhookHandler
	// Default handler for sources without a dedicated adapter.
	defaultHandler WebhookHandler
}

// NewRouter creates a new webhook router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.Source]WebhookHandler),
	}
}

// Register registers a handler for a webhook source
func (r *Router) Register(source model.Source, handler WebhookHandler) {
	r.handlers[source] = handler
}

// RegisterDefault registers the fallback handler for unrecognized sources
func (r *Router) RegisterDefault(handler WebhookHandler) {
	r.defaultHandler = handler
}

// ParseSubject splits a relay subject of the form
// v1.webhooks.<source>.<tenant> into its source slug and tenant id.
func ParseSubject(subject string) (sourceSlug, tenantID string, err error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "webhooks" {
		return "", "", fmt.Errorf("subject %q is not of form v1.webhooks.<source>.<tenant>", subject)
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("subject %q carries an empty source or tenant token", subject)
	}
	return parts[2], parts[3], nil
}

// Route dispatches one delivery to the handler for its source. Unknown source
// slugs fall through to the generic handler so a new upstream can be wired
// without redeploying.
func (r *Router) Route(ctx context.Context, metadata *model.EventMetadata, rawPayload []byte) error {
	log := logger.FromContext(ctx)

	log = log.With(
		zap.String("subject", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("tenant_id", metadata.TenantID),
	)
	ctx = logger.WithLogger(ctx, log)

	if metadata.TenantID != "" {
		ctx = tenant.WithTenantID(ctx, metadata.TenantID)
	}

	sourceSlug, _, err := ParseSubject(metadata.MessageSubject)
	if err != nil {
		log.Warn("Unroutable subject", zap.Error(err))
		return err
	}

	source, known := model.KnownSource(sourceSlug)
	metadata.Source = source

	log.Info("Webhook delivery received",
		zap.String("source", string(source)),
		zap.String("payload_size", utils.ByteCountSI(len(rawPayload))),
	)

	handler, ok := r.handlers[source]
	if !ok || !known {
		if r.defaultHandler != nil {
			if !known {
				log.Warn("Unknown source slug, using generic handler", zap.String("slug", sourceSlug))
			}
			return r.defaultHandler(ctx, source, metadata, rawPayload)
		}
		log.Error("No handler registered for source", zap.String("source", string(source)))
		return nil
	}

	return handler(ctx, source, metadata, rawPayload)
}
