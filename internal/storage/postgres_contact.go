package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// identityColumn whitelists the columns FindContactsByKey may query. The
// column name is interpolated into the WHERE clause, so it must never come
// from input without passing this check.
func identityColumn(column string) bool {
	for _, c := range model.IdentityColumns() {
		if c == column {
			return true
		}
	}
	return false
}

// CreateContact inserts a new contact row. Unique violations surface as
// ErrDuplicate so the caller can re-resolve against the concurrent writer.
func (r *PostgresRepo) CreateContact(ctx context.Context, contact *model.Contact) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if contact.TenantID == "" {
		contact.TenantID = tenantID
	} else if contact.TenantID != tenantID {
		return fmt.Errorf("%w: contact TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, contact.TenantID, tenantID)
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(contact).Error; createErr != nil {
			mapped := checkConstraintViolation(createErr)
			if errors.Is(mapped, apperrors.ErrDuplicate) {
				// Concurrent insert on an identity key, caller re-resolves
				return backoff.Permanent(mapped)
			}
			return mapped
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	createErr := retryableOperation(ctx, commitPolicy, "CreateContact", operation)
	observer.ObserveDbOperationDuration("create", "contact", tenantID, time.Since(startTime), createErr)
	if createErr != nil {
		if !errors.Is(createErr, apperrors.ErrDuplicate) {
			logger.FromContext(ctx).Error("Failed to create contact after retries", zap.Error(createErr))
		}
		return createErr
	}
	return nil
}

// UpdateContact persists a fully reconciled contact under a row lock.
func (r *PostgresRepo) UpdateContact(ctx context.Context, contact *model.Contact) error {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if contact.TenantID != "" && contact.TenantID != tenantID {
		return fmt.Errorf("%w: contact TenantID %s does not match tenant ID %s", apperrors.ErrBadRequest, contact.TenantID, tenantID)
	}
	contact.UpdatedAt = utils.Now()

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existingContact model.Contact
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", contact.ID).
			First(&existingContact)
		findErr := result.Error

		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: contact not found for update (ID: %s): %w", apperrors.ErrNotFound, contact.ID, findErr)
				return backoff.Permanent(txErr) // Make NotFound permanent for retry policy
			}
			txErr = fmt.Errorf("%w: failed to lock contact row for update: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		// Save writes every column, pointer fields included, so cleared and
		// backfilled keys both land.
		if saveErr := tx.Save(contact).Error; saveErr != nil {
			txErr = checkConstraintViolation(saveErr)
			return txErr
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit update transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateContact Commit", operation)
	observer.ObserveDbOperationDuration("update", "contact", tenantID, time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update contact after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindContactByID finds a contact by its ID.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact_id %s: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "contact", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound // Return the sentinel error directly
		}
		loggerCtx.Error("Failed to find contact by ID after retries",
			zap.String("contact_id", id),
			zap.String("tenant_id", tenantID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// FindContactsByKey returns every contact whose identity column equals the
// given value. The unique indexes make more than one row pathological, but
// the resolver still wants to see all of them.
func (r *PostgresRepo) FindContactsByKey(ctx context.Context, column string, value string) ([]model.Contact, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	if !identityColumn(column) {
		return nil, fmt.Errorf("%w: %s is not an identity column", apperrors.ErrBadRequest, column)
	}
	loggerCtx := logger.FromContext(ctx)

	var contacts []model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where(fmt.Sprintf("%s = ?", column), value).
			Find(&contacts)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil // Success, even if no records found
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactsByKey", operation)
	observer.ObserveDbOperationDuration("find_by_key", "contact", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find contacts by identity key after retries",
			zap.String("column", column),
			zap.String("tenant_id", tenantID),
			zap.Error(findErr))
		return nil, findErr
	}
	if contacts == nil { // Ensure empty slice is returned, not nil
		return []model.Contact{}, nil
	}
	return contacts, nil
}

// FindContactsByStagePaginated lists contacts at a stage, oldest first, for
// operator review tooling.
func (r *PostgresRepo) FindContactsByStagePaginated(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error) {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get tenant ID: %w", apperrors.ErrUnauthorized, err)
	}
	loggerCtx := logger.FromContext(ctx)

	var contacts []model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("stage = ?", stage).
			Order("created_at ASC").
			Limit(limit).
			Offset(offset).
			Find(&contacts)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactsByStagePaginated", operation)
	observer.ObserveDbOperationDuration("find_by_stage", "contact", tenantID, time.Since(startTime), findErr)

	if findErr != nil {
		loggerCtx.Error("Failed to find contacts by stage after retries",
			zap.String("stage", string(stage)),
			zap.String("tenant_id", tenantID),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
			zap.Error(findErr))
		return nil, findErr
	}
	if contacts == nil {
		return []model.Contact{}, nil
	}
	return contacts, nil
}
