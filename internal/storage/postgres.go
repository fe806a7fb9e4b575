package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	defaultRetryMaxElapsedTime  = 10 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset() // Important: Reset before first use
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	err := backoff.RetryNotify(func() error {
		err := operation()
		if err != nil {
			// Check for non-retryable errors first
			if errors.Is(err, gorm.ErrRecordNotFound) ||
				errors.Is(err, gorm.ErrInvalidTransaction) ||
				errors.Is(err, gorm.ErrDuplicatedKey) ||
				errors.Is(err, gorm.ErrForeignKeyViolated) {
				return backoff.Permanent(err) // Don't retry these GORM errors
			}
			// Check for potentially transient errors
			if isTransientError(err) {
				return err // Retry transient errors
			}
			// Treat other errors as permanent by default
			return backoff.Permanent(err)
		}
		return nil // Success
	}, policy, notify)

	return err
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context deadline exceeded, often indicates a timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Use specific pg driver error checks if possible (example for pgx/v5)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// See https://www.postgresql.org/docs/current/errcodes-appendix.html
		// Class 08: Connection Exception
		// Class 53: Insufficient Resources
		// 40001 / 40P01: Serialization failure / deadlock
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "40P01") ||
			strings.HasPrefix(pgErr.Code, "40001") {
			return true
		}
	}

	// Fallback to string matching for common network-related errors
	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up", // Might occur during failover/restart
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// PostgresRepo implements the contact and journal repositories
type PostgresRepo struct {
	db *gorm.DB
}

// tenantNamer implements gorm schema.Namer interface for multi-tenant schemas
// It embeds the default NamingStrategy and overrides TableName.
type tenantNamer struct {
	schema.NamingStrategy // Embed the default strategy
	schemaName            string
}

// TableName implements the schema.Namer interface, overriding the default.
func (tn tenantNamer) TableName(table string) string {
	// GORM models return the base table name (e.g., "contacts").
	// We prepend the specific schema name for this connection.
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

// NewPostgresRepo creates a new Postgres repository and initializes the
// tenant schema, tables, and identity indexes.
func NewPostgresRepo(dsn string, autoMigrate bool, tenantID string) (*PostgresRepo, error) {
	// Retry connecting to the default database
	operationConnectDefault := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to default postgres (transient), retrying...", zap.Error(err))
				return nil, err // Return transient error to trigger retry
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to default postgres db: %w", err))
		}
		return db, nil
	}

	notify := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying default DB connection", zap.Error(err), zap.Duration("after", d))
	}

	// TODO: Make the connection backoff configurable
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 1 * time.Minute

	dbDefault, err := backoff.RetryNotifyWithData(operationConnectDefault, b, notify)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to default postgres after retries: %w", err)
	}

	schemaName := fmt.Sprintf("funnel_%s", tenantID)
	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))

	// Create schema if it doesn't exist - Use %q to quote the identifier
	if err := dbDefault.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		sqlDB, _ := dbDefault.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}

	// Close the initial connection
	sqlDB, err := dbDefault.DB()
	if err != nil {
		logger.Log.Warn("Failed to get underlying SQL DB handle for closing", zap.Error(err))
	} else {
		if err := sqlDB.Close(); err != nil {
			logger.Log.Warn("Failed to close initial DB connection", zap.Error(err))
		}
	}

	// Reconnect with the tenant Namer so every model resolves into the
	// tenant's schema.
	operationConnectTenant := func() (*gorm.DB, error) {
		namer := tenantNamer{schemaName: schemaName}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			NamingStrategy: namer,
		})
		if err != nil {
			if isTransientError(err) {
				logger.Log.Warn("Failed to connect to tenant schema (transient), retrying...", zap.String("schema", schemaName), zap.Error(err))
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("failed to connect to postgres tenant schema %s: %w", schemaName, err))
		}
		return db, nil
	}

	notifyTenant := func(err error, d time.Duration) {
		logger.Log.Warn("Retrying tenant schema DB connection", zap.String("schema", schemaName), zap.Error(err), zap.Duration("after", d))
	}

	bTenant := backoff.NewExponentialBackOff()
	bTenant.InitialInterval = 1 * time.Second
	bTenant.MaxInterval = 15 * time.Second
	bTenant.MaxElapsedTime = 1 * time.Minute

	db, err := backoff.RetryNotifyWithData(operationConnectTenant, bTenant, notifyTenant)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres tenant db %s after retries: %w", schemaName, err)
	}

	repo := &PostgresRepo{db: db}

	if autoMigrate {
		logger.Log.Info("Running auto-migration for schema", zap.String("schema", schemaName))
		err = db.AutoMigrate(
			&model.Contact{},
			&model.InboundEvent{},
		)
		if err != nil {
			// Log migration errors but don't necessarily fail startup
			logger.Log.Error("Auto-migration failed or produced errors", zap.Error(err), zap.String("schema", schemaName))
		}
	} else {
		logger.Log.Info("Auto-migration disabled")
	}

	// ---> Verify crucial tables after AutoMigrate <---
	checkExistsSQL := `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)`
	for _, tableName := range []string{"contacts", "inbound_events"} {
		var exists bool
		if err := db.Raw(checkExistsSQL, schemaName, tableName).Scan(&exists).Error; err != nil {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				sqlDB.Close()
			}
			return nil, fmt.Errorf("failed to check for '%s' table existence after migration in schema %s: %w", tableName, schemaName, err)
		}
		if !exists {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				sqlDB.Close()
			}
			return nil, fmt.Errorf("'%s' table still does not exist after auto-migration in schema %s", tableName, schemaName)
		}
		logger.Log.Debug("Table verified post-migration", zap.String("tableName", tableName), zap.String("schema", schemaName))
	}

	// Partial unique indexes on the identity key columns. NULLs are exempt so
	// contacts missing a key never collide, while two contacts can never
	// share a present key within the tenant.
	contactsIndexes := map[string]string{}
	for _, col := range model.IdentityColumns() {
		indexName := "idx_contacts_" + col
		contactsIndexes[indexName] = fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %q.contacts USING btree (%s) WHERE %s IS NOT NULL;",
			indexName, schemaName, col, col)
	}
	contactsIndexes["idx_contacts_stage"] = fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_contacts_stage ON %q.contacts USING btree (stage);", schemaName)
	for indexName, indexSQL := range contactsIndexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Log.Warn("Failed to create index", zap.String("indexName", indexName), zap.Error(err))
		}
	}

	// Journal indexes: dedupe lookup and per-contact history.
	journalIndexes := map[string]string{
		"idx_inbound_events_source_event": fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_inbound_events_source_event ON %q.inbound_events USING btree (source, source_event_id);", schemaName),
		"idx_inbound_events_contact":      fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_inbound_events_contact ON %q.inbound_events USING btree (contact_id, received_at);", schemaName),
		"idx_inbound_events_outcome":      fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_inbound_events_outcome ON %q.inbound_events USING btree (outcome, received_at);", schemaName),
	}
	for indexName, indexSQL := range journalIndexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			logger.Log.Warn("Failed to create index", zap.String("indexName", indexName), zap.Error(err))
		}
	}

	return repo, nil
}

// Close closes the database connection
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	closeErr := sqlDB.Close()
	if closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

// checkConstraintViolation inspects database errors and maps them to standard apperrors.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	// Check for specific GORM errors first
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	// Check for underlying pgconn errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23: Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22: Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40: Transaction Rollback
		case "40001": // serialization_failure
			fallthrough // Treat same as deadlock for now
		case "40P01": // deadlock_detected
			// Map to ErrDatabase, handler can decide if retryable
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			// Check error code prefixes for broader categories
			if strings.HasPrefix(pgErr.Code, "53") { // Class 53: Insufficient Resources
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") { // Class 08: Connection Exception
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			// Wrap unhandled specific PgErrors as general database errors
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	// Assume other GORM or generic errors are general database errors for now
	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
