package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// --- Journal Repository Methods ---
// The journal is append-only: no update or delete paths exist on purpose.

// AppendEvent inserts one journal row for a processed delivery.
func (r *PostgresRepo) AppendEvent(ctx context.Context, event *model.InboundEvent) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if event.TenantID == "" {
		event.TenantID = tenantID
	} else if event.TenantID != tenantID {
		return fmt.Errorf("%w: event TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, event.TenantID, tenantID)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = utils.Now()
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(event).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	appendErr := retryableOperation(ctx, commitPolicy, "AppendEvent", operation)
	observer.ObserveDbOperationDuration("append", "inbound_event", tenantID, time.Since(startTime), appendErr)
	if appendErr != nil {
		logger.FromContext(ctx).Error("Failed to append journal event after retries", zap.Error(appendErr))
		return appendErr
	}
	return nil
}

// FindEventBySourceEventID returns the most recent journal row for a source
// event id, used for duplicate-delivery detection.
func (r *PostgresRepo) FindEventBySourceEventID(ctx context.Context, source model.Source, sourceEventID string) (*model.InboundEvent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var event model.InboundEvent
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("source = ? AND source_event_id = ?", source, sourceEventID).
			Order("received_at DESC").
			First(&event)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: source_event_id %s: %w", apperrors.ErrNotFound, sourceEventID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindEventBySourceEventID", operation)
	observer.ObserveDbOperationDuration("find_by_source_event", "inbound_event", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		loggerCtx.Error("Failed to find journal event by source event id after retries",
			zap.String("source", string(source)),
			zap.String("source_event_id", sourceEventID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &event, nil
}

// ListEventsByContact returns a contact's full delivery history in
// chronological order.
func (r *PostgresRepo) ListEventsByContact(ctx context.Context, contactID string) ([]model.InboundEvent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var events []model.InboundEvent
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("contact_id = ?", contactID).
			Order("received_at ASC").
			Find(&events)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "ListEventsByContact", operation)
	observer.ObserveDbOperationDuration("list_by_contact", "inbound_event", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to list journal events by contact after retries",
			zap.String("contact_id", contactID),
			zap.Error(findErr))
		return nil, findErr
	}
	if events == nil {
		return []model.InboundEvent{}, nil
	}
	return events, nil
}

// ListEventsByOutcome returns the most recent journal rows with a given
// outcome, newest first. The ambiguity review queue and the replay worker
// both read through this.
func (r *PostgresRepo) ListEventsByOutcome(ctx context.Context, outcome model.ResolutionOutcome, limit, offset int) ([]model.InboundEvent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var events []model.InboundEvent
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("outcome = ?", outcome).
			Order("received_at DESC").
			Limit(limit).
			Offset(offset).
			Find(&events)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "ListEventsByOutcome", operation)
	observer.ObserveDbOperationDuration("list_by_outcome", "inbound_event", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to list journal events by outcome after retries",
			zap.String("outcome", string(outcome)),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
			zap.Error(findErr))
		return nil, findErr
	}
	if events == nil {
		return []model.InboundEvent{}, nil
	}
	return events, nil
}

// FindEventByID loads a single journal row, used by the replay worker.
func (r *PostgresRepo) FindEventByID(ctx context.Context, id string) (*model.InboundEvent, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}

	var event model.InboundEvent
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&event)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: event_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindEventByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "inbound_event", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find journal event by ID after retries",
			zap.String("event_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &event, nil
}
