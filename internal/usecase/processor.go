package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/config"
	"gitlab.com/leadops/api/funnel-events-processor/internal/ingestion"
	"gitlab.com/leadops/api/funnel-events-processor/internal/ingestion/handler"
	"gitlab.com/leadops/api/funnel-events-processor/internal/jetstream"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
)

// Processor orchestrates the relay consumer and the webhook router.
type Processor struct {
	service       IngestServiceInterface
	jsClient      jetstream.ClientInterface
	relayConsumer *ingestion.RelayConsumer
	webhookRouter ingestion.RouterInterface
	relayHandler  handler.WebhookHandlerInterface
}

// NewProcessor creates a new processor with all components wired up.
// Accepts the main config object to access NATS settings.
func NewProcessor(service IngestServiceInterface, jsClient jetstream.ClientInterface, cfg *config.Config, tenantID string) *Processor {
	router := ingestion.NewRouter()
	relayHandler := handler.NewRelayHandler(service)

	// Append tenantID to consumer names for uniqueness across instances.
	relayCfg := cfg.NATS.Relay
	relayCfg.Consumer = relayCfg.Consumer + tenantID
	relayCfg.QueueGroup = relayCfg.QueueGroup + tenantID
	relayConsumer := ingestion.NewRelayConsumer(jsClient, router, service, relayCfg, tenantID)

	return &Processor{
		service:       service,
		jsClient:      jsClient,
		relayConsumer: relayConsumer,
		webhookRouter: router,
		relayHandler:  relayHandler,
	}
}

// GetRouter returns the processor's webhook router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.webhookRouter
}

// Setup registers the per-source handlers and configures the relay consumer.
func (p *Processor) Setup() error {
	// One handler serves every source; the source adapter inside it picks the
	// right payload mapping.
	p.webhookRouter.Register(model.SourceManychat, p.relayHandler.HandleWebhook)
	p.webhookRouter.Register(model.SourceCrm, p.relayHandler.HandleWebhook)
	p.webhookRouter.Register(model.SourceStripe, p.relayHandler.HandleWebhook)
	p.webhookRouter.Register(model.SourceDenefits, p.relayHandler.HandleWebhook)
	p.webhookRouter.Register(model.SourceGeneric, p.relayHandler.HandleWebhook)

	p.webhookRouter.RegisterDefault(func(ctx context.Context, source model.Source, metadata *model.EventMetadata, rawPayload []byte) error {
		logger.FromContext(ctx).Warn("Unrecognized source slug, handling as generic",
			zap.String("source", string(source)),
			zap.String("subject", metadata.MessageSubject),
		)
		return p.relayHandler.HandleWebhook(ctx, model.SourceGeneric, metadata, rawPayload)
	})

	if err := p.relayConsumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup relay consumer: %w", err)
	}

	logger.Log.Info("Processor setup complete")
	return nil
}

// Start starts the relay consumer.
func (p *Processor) Start() error {
	logger.Log.Info("Starting event processor...")

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("[panic] Recovered from panic in processor",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.relayConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start relay consumer: %w", err)
	}

	logger.Log.Info("Relay consumer started successfully")
	return nil
}

// Stop stops the relay consumer.
func (p *Processor) Stop() {
	logger.Log.Info("Stopping event processor...")
	p.relayConsumer.Stop()
	logger.Log.Info("Relay consumer stopped")
}
