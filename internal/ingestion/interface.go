package ingestion

import (
	"context"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// RouterInterface defines the surface consumers use to dispatch deliveries.
type RouterInterface interface {
	Register(source model.Source, handler WebhookHandler)
	RegisterDefault(handler WebhookHandler)
	Route(ctx context.Context, metadata *model.EventMetadata, rawPayload []byte) error
}

var _ RouterInterface = (*Router)(nil)

// ConsumerInterface defines the lifecycle of a stream consumer.
type ConsumerInterface interface {
	Setup() error
	Start() error
	Stop()
}

var _ ConsumerInterface = (*RelayConsumer)(nil)
