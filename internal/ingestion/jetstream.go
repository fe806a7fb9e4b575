package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/config"
	"gitlab.com/leadops/api/funnel-events-processor/internal/jetstream"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/sources"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // Terminal journaling failed, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionJournal                      // Max retries reached or fatal error, journal a rejected row then ACK
)

// TerminalJournaler records a rejected journal row for a delivery that will
// never be redelivered. Satisfied by the ingest service.
type TerminalJournaler interface {
	JournalRejected(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata, cause error) (*model.InboundEvent, error)
}

// RelayConsumer consumes the webhook relay stream for one tenant and pushes
// every delivery through the router into the resolution pipeline.
type RelayConsumer struct {
	client        jetstream.ClientInterface
	router        RouterInterface
	journaler     TerminalJournaler
	cfg           config.ConsumerNatsConfig
	tenantID      string
	sub           *nats.Subscription
	filterSubject string
	ctx           context.Context
	cancel        context.CancelFunc
	nakBaseDelay  time.Duration
	nakMaxDelay   time.Duration
}

// NewRelayConsumer creates the consumer for the webhook relay stream.
func NewRelayConsumer(client jetstream.ClientInterface, router RouterInterface, journaler TerminalJournaler, cfg config.ConsumerNatsConfig, tenantID string) *RelayConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	loggerWithTenant := logger.Log.With(zap.String("tenant_id", tenantID))
	ctx = logger.WithLogger(ctx, loggerWithTenant)
	ctx = tenant.WithTenantID(ctx, tenantID)

	return &RelayConsumer{
		client:       client,
		router:       router,
		journaler:    journaler,
		cfg:          cfg,
		tenantID:     tenantID,
		ctx:          ctx,
		cancel:       cancel,
		nakBaseDelay: cfg.NakBaseDelay,
		nakMaxDelay:  cfg.NakMaxDelay,
	}
}

// modifySubjects widens each configured base subject with a tenant wildcard
// for the stream and narrows it to this instance's tenant for the consumer.
func modifySubjects(subjects []string, tenantID string) (streamSubjects, consumerSubjects []string) {
	for _, subject := range subjects {
		streamSubjects = append(streamSubjects, fmt.Sprintf("%s.*", subject))
		consumerSubjects = append(consumerSubjects, fmt.Sprintf("%s.%s", subject, tenantID))
	}
	return streamSubjects, consumerSubjects
}

// determineAckNakAction decides the fate of a message based on the processing
// result and delivery metadata. Fatal errors and exhausted deliveries go to
// the journal-then-ack path; retryable errors get an exponential backoff NAK.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {

	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionJournal, 0
	}

	// Retryable with attempts remaining: NAK with exponential delay.
	attempt := numDelivered
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// handleMessage is the core per-delivery logic.
func (c *RelayConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	eventLabel := msg.Subject

	defer func() {
		observer.ObserveEventProcessingDuration(eventLabel, c.tenantID, "relay", time.Since(startTime))

		if r := recover(); r != nil {
			logFromCtx := logger.FromContext(c.ctx)
			logFromCtx.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(eventLabel, c.tenantID, "relay")
			observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				logFromCtx.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	msgCtx := c.ctx
	logFromCtx := logger.FromContext(msgCtx)

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get("Nats-Msg-Id")
	}

	metadata, err := msg.Metadata()
	if err != nil {
		logFromCtx.Error("Failed to read message metadata", zap.Error(err), zap.Duration("duration", time.Since(startTime)))
		if nakErr := msg.Nak(); nakErr != nil {
			logFromCtx.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "nak_metadata_error", "metadata")
		return
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	internalMetadata := &model.EventMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		MessageID:        msgID,
		MessageSubject:   msg.Subject,
		TenantID:         c.tenantID,
	}

	observer.IncEventsReceived(eventLabel, c.tenantID, "relay")

	msgCtx = logger.WithLogger(msgCtx, logFromCtx.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.Uint64("consumer_sequence", metadata.Sequence.Consumer),
		zap.String("subject", msg.Subject),
		zap.String("stream", internalMetadata.Stream),
		zap.String("consumer", internalMetadata.Consumer),
	))

	routingStartTime := utils.Now()
	processingErr := c.router.Route(msgCtx, internalMetadata, msg.Data)
	observer.ObserveEventRoutingDuration(eventLabel, c.tenantID, "relay", time.Since(routingStartTime))

	enhancedLog := logger.FromContext(msgCtx)

	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.nakBaseDelay, c.nakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		enhancedLog.Info("Successfully processed message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(eventLabel, c.tenantID, "relay")
		observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNak:
		enhancedLog.Error("NAKing message immediately", zap.Error(processingErr), zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsFailed(eventLabel, c.tenantID, "relay")
		observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "nak_terminal", errorType)
		if nakErr := msg.Nak(); nakErr != nil {
			enhancedLog.Error("Failed to NAK message", zap.Error(nakErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
			zap.Duration("duration", time.Since(startTime)),
		)
		observer.IncEventsFailed(eventLabel, c.tenantID, "relay")
		observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionJournal:
		c.journalAndAck(msgCtx, msg, internalMetadata, processingErr, startTime, eventLabel, errorType)
	}
}

// journalAndAck records a terminal rejected row for a delivery that is out of
// attempts or can never succeed, then acks so the stream stops redelivering.
// The journal row is what the replay worker later operates on.
func (c *RelayConsumer) journalAndAck(ctx context.Context, msg *nats.Msg, internalMetadata *model.EventMetadata, processingErr error, startTime time.Time, eventLabel, errorType string) {
	log := logger.FromContext(ctx)

	isRetryable := apperrors.IsRetryable(processingErr)
	logReason := "max delivery attempts reached"
	if !isRetryable {
		logReason = "fatal error encountered"
	}
	log.Warn(fmt.Sprintf("Journaling rejected delivery: %s", logReason),
		zap.Error(processingErr),
		zap.Uint64("num_delivered", internalMetadata.NumDelivered),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
		zap.Bool("is_retryable", isRetryable),
		zap.Duration("duration", time.Since(startTime)),
	)
	observer.IncEventsFailed(eventLabel, c.tenantID, "relay")

	// Rebuild as much of the envelope as the payload allows so the rejected
	// row carries usable source and event type columns.
	sourceSlug, _, parseErr := ParseSubject(msg.Subject)
	source := model.SourceGeneric
	if parseErr == nil {
		source, _ = model.KnownSource(sourceSlug)
	}
	envelope, buildErr := sources.BuildEnvelope(source, c.tenantID, msg.Data, utils.Now())
	if buildErr != nil {
		log.Debug("Envelope rebuild for rejected row was partial", zap.Error(buildErr))
	}

	if _, journalErr := c.journaler.JournalRejected(ctx, envelope, internalMetadata, processingErr); journalErr != nil {
		log.Error("Failed to journal rejected delivery, NAKing original message without delay",
			zap.Error(journalErr),
		)
		observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "nak_journal_fail", "journal_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after journal error", zap.Error(nakErr))
		}
		return
	}

	observer.IncEventProcessingAction(eventLabel, c.tenantID, "relay", "journaled_ack", errorType)
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after journaling rejected row", zap.Error(ackErr))
	}
}

// Setup configures the NATS stream and durable consumer for the relay.
func (c *RelayConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up RelayConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	maxAgeRetention := time.Duration(c.cfg.MaxAge*24) * time.Hour
	streamSubjects, consumerSubjects := modifySubjects(c.cfg.SubjectList, c.tenantID)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAgeRetention,
	}

	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup relay stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup relay stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: consumerSubjects,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	c.filterSubject = "v1.webhooks.>"

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup relay consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup relay consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("RelayConsumer setup complete")
	return nil
}

// Start subscribes to the relay stream.
func (c *RelayConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting RelayConsumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.SubscribePush(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe relay consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe relay consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("RelayConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription and cancels the consumer context.
func (c *RelayConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping RelayConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining relay subscription", zap.Error(err))
		}
		log.Info("Relay subscription drained")
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("RelayConsumer stopped")
}
