package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/config"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/storage"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
)

// ReplayTaskData identifies one journaled delivery to run back through the
// pipeline. The context is derived for the task, not the original request.
type ReplayTaskData struct {
	Ctx      context.Context
	EventID  string
	TenantID string
}

// IReplayWorker defines the interface for the journal replay worker pool.
type IReplayWorker interface {
	SubmitTask(taskData ReplayTaskData) error
	Stop()
}

// ReplayWorker re-runs rejected or ambiguous journal rows through the ingest
// pipeline on a bounded worker pool. Replaying a row that meanwhile resolved
// is harmless: the dedupe check short-circuits on the resolved row.
type ReplayWorker struct {
	pool        *ants.PoolWithFunc
	journalRepo storage.JournalRepo
	service     IngestServiceInterface
	cfg         config.ReplayWorkerPoolConfig
	baseLogger  *zap.Logger
}

var _ IReplayWorker = (*ReplayWorker)(nil)

// NewReplayWorker creates and initializes a new replay worker pool.
func NewReplayWorker(
	cfg config.ReplayWorkerPoolConfig,
	journalRepo storage.JournalRepo,
	service IngestServiceInterface,
	baseLogger *zap.Logger,
) (*ReplayWorker, error) {
	worker := &ReplayWorker{
		journalRepo: journalRepo,
		service:     service,
		cfg:         cfg,
		baseLogger:  baseLogger.Named("replay_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(ReplayTaskData)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processReplayTask(taskData)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in replay worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("Replay worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return worker, nil
}

// SubmitTask queues one journal row for replay.
func (w *ReplayWorker) SubmitTask(taskData ReplayTaskData) error {
	observer.IncReplayTasksSubmitted(taskData.TenantID)
	observer.SetReplayQueueLength(w.pool.Waiting())

	if err := w.pool.Invoke(taskData); err != nil {
		w.baseLogger.Warn("Failed to submit replay task to pool",
			zap.String("event_id", taskData.EventID),
			zap.Error(err),
		)
		observer.IncReplayTasksProcessed(taskData.TenantID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("replay pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke replay task: %w", err)
	}
	return nil
}

// SubmitOutcome loads every journal row with the given outcome and queues each
// for replay. Returns the number of rows queued.
func (w *ReplayWorker) SubmitOutcome(ctx context.Context, outcome model.ResolutionOutcome, limit int) (int, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := w.journalRepo.ListByOutcome(ctx, outcome, limit, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s events for replay: %w", outcome, err)
	}

	queued := 0
	for _, row := range rows {
		task := ReplayTaskData{
			Ctx:      tenant.WithTenantID(context.Background(), tenantID),
			EventID:  row.ID,
			TenantID: tenantID,
		}
		if err := w.SubmitTask(task); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// processReplayTask rebuilds the envelope from the journaled raw payload and
// runs it through the pipeline again.
func (w *ReplayWorker) processReplayTask(taskData ReplayTaskData) {
	log := logger.FromContextOr(taskData.Ctx, w.baseLogger).With(
		zap.String("replay_event_id", taskData.EventID),
	)

	start := time.Now()
	status := "success"

	taskCtx := tenant.WithTenantID(taskData.Ctx, taskData.TenantID)
	taskCtx = logger.WithLogger(taskCtx, log)

	row, err := w.journalRepo.FindByID(taskCtx, taskData.EventID)
	if err != nil {
		log.Error("Failed to load journal row for replay", zap.Error(err))
		status = "load_error"
		observer.IncReplayTasksProcessed(taskData.TenantID, status)
		return
	}

	if row.Outcome == model.OutcomeCreated || row.Outcome == model.OutcomeMatched {
		log.Debug("Skipping replay of already resolved delivery", zap.String("outcome", string(row.Outcome)))
		status = "already_resolved"
		observer.IncReplayTasksProcessed(taskData.TenantID, status)
		return
	}

	envelope := model.WebhookEnvelope{
		TenantID:      row.TenantID,
		Source:        row.Source,
		EventType:     row.EventType,
		SourceEventID: row.SourceEventID,
		RawPayload:    []byte(row.RawPayload),
		ReceivedAt:    time.Now().UTC(),
	}

	result, err := w.service.ProcessEvent(taskCtx, envelope, nil)
	switch {
	case err != nil && apperrors.IsRetryable(err):
		log.Warn("Replay hit a retryable failure, leaving row for a later pass", zap.Error(err))
		status = "retryable_error"
	case err != nil:
		log.Error("Replay failed", zap.Error(err))
		status = "error"
	default:
		log.Info("Replayed journal row",
			zap.String("new_outcome", string(result.Outcome)),
			zap.Stringp("contact_id", result.ContactID))
	}

	observer.IncReplayTasksProcessed(taskData.TenantID, status)
	observer.ObserveReplayProcessingDuration(taskData.TenantID, time.Since(start))
	observer.SetReplayQueueLength(w.pool.Waiting())
}

// Stop gracefully shuts down the replay worker pool.
func (w *ReplayWorker) Stop() {
	w.baseLogger.Info("Stopping replay worker pool")
	w.pool.Release()
	w.baseLogger.Info("Replay worker pool stopped")
}
