package storage

import (
	"context"
	"testing"
	"time"

	apperrors "gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"go.uber.org/zap/zaptest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

const testTenantIDContact = "tenant-contact-test-789"

func newTestContactRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	assert.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	assert.NoError(t, err)
	return &PostgresRepo{db: gormDB}, mock
}

func contextWithContactTenant() context.Context {
	ctx := context.Background()
	ctx = tenant.WithTenantID(ctx, testTenantIDContact)
	return ctx
}

func ptr(s string) *string { return &s }

const contactInsertSQL = `INSERT INTO "contacts" ("id","platform_subscriber_id","crm_id","processor_customer_id","email_primary","phone","stage","first_name","last_name","source","funnel_variant","tenant_id","qualified_at","link_sent_at","form_submitted_at","meeting_booked_at","meeting_held_at","package_sent_at","purchased_at","disqualified_at","archived_at","attributes","created_at","updated_at","last_event_metadata") VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`

func TestPostgresRepo_CreateContact(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	contact := &model.Contact{
		ID:                   "contact-insert-1",
		PlatformSubscriberID: ptr("912345678"),
		EmailPrimary:         ptr("lead@example.com"),
		Stage:                model.StageNew,
		FirstName:            "Insert",
		Source:               string(model.SourceManychat),
		TenantID:             testTenantIDContact,
		Attributes:           model.RandomJSONBMap(map[string]interface{}{"variant": "A"}),
		LastEventMetadata:    model.RandomJSONBMap(map[string]interface{}{"message_id": "msg-1"}),
	}

	mock.ExpectExec(contactInsertSQL).
		WithArgs(
			contact.ID, contact.PlatformSubscriberID, nil, nil, contact.EmailPrimary,
			nil, "new", contact.FirstName, "", contact.Source,
			"", testTenantIDContact, nil, nil, nil,
			nil, nil, nil, nil, nil,
			nil, contact.Attributes, AnyTime{}, AnyTime{}, AnyJSON{},
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateContact(ctx, contact)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CreateContact_GeneratesID(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	contact := &model.Contact{
		Stage:             model.StageNew,
		TenantID:          testTenantIDContact,
		Attributes:        model.RandomJSONBMap(map[string]interface{}{}),
		LastEventMetadata: model.RandomJSONBMap(map[string]interface{}{}),
	}

	mock.ExpectExec(contactInsertSQL).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateContact(ctx, contact)
	assert.NoError(t, err)
	assert.NotEmpty(t, contact.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CreateContact_UniqueViolation(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	contact := &model.Contact{
		ID:                "contact-dup-1",
		EmailPrimary:      ptr("dup@example.com"),
		Stage:             model.StageNew,
		TenantID:          testTenantIDContact,
		Attributes:        model.RandomJSONBMap(map[string]interface{}{}),
		LastEventMetadata: model.RandomJSONBMap(map[string]interface{}{}),
	}

	mock.ExpectExec(contactInsertSQL).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_contacts_email_primary"})

	err := repo.CreateContact(ctx, contact)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_CreateContact_TenantMismatch(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	contact := &model.Contact{ID: "contact-tenant-mismatch", TenantID: "wrong-tenant", Stage: model.StageNew}

	err := repo.CreateContact(ctx, contact)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_UpdateContact_Success(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	now := time.Now()
	contact := &model.Contact{
		ID:                "contact-update-1",
		EmailPrimary:      ptr("updated@example.com"),
		Phone:             ptr("+15551234567"),
		Stage:             model.StageQualified,
		TenantID:          testTenantIDContact,
		CreatedAt:         now.Add(-time.Hour),
		Attributes:        model.RandomJSONBMap(map[string]interface{}{"variant": "A"}),
		LastEventMetadata: model.RandomJSONBMap(map[string]interface{}{"message_id": "msg-2"}),
	}

	existingCols := []string{"id", "tenant_id", "email_primary", "stage", "created_at", "updated_at"}
	existingRows := sqlmock.NewRows(existingCols).
		AddRow(contact.ID, testTenantIDContact, "old@example.com", "new", now.Add(-time.Hour), now.Add(-time.Minute))

	mock.ExpectBegin()
	selectQuery := `SELECT * FROM "contacts" WHERE id = $1 ORDER BY "contacts"."id" LIMIT $2 FOR UPDATE`
	mock.ExpectQuery(selectQuery).WithArgs(contact.ID, 1).WillReturnRows(existingRows)
	updateSQL := `UPDATE "contacts" SET "platform_subscriber_id"=$1,"crm_id"=$2,"processor_customer_id"=$3,"email_primary"=$4,"phone"=$5,"stage"=$6,"first_name"=$7,"last_name"=$8,"source"=$9,"funnel_variant"=$10,"tenant_id"=$11,"qualified_at"=$12,"link_sent_at"=$13,"form_submitted_at"=$14,"meeting_booked_at"=$15,"meeting_held_at"=$16,"package_sent_at"=$17,"purchased_at"=$18,"disqualified_at"=$19,"archived_at"=$20,"attributes"=$21,"created_at"=$22,"updated_at"=$23,"last_event_metadata"=$24 WHERE "id" = $25`
	mock.ExpectExec(updateSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateContact(ctx, contact)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_UpdateContact_NotFound(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	contact := &model.Contact{ID: "contact-missing", Stage: model.StageNew, TenantID: testTenantIDContact}

	mock.ExpectBegin()
	selectQuery := `SELECT * FROM "contacts" WHERE id = $1 ORDER BY "contacts"."id" LIMIT $2 FOR UPDATE`
	mock.ExpectQuery(selectQuery).WithArgs(contact.ID, 1).WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectRollback()

	err := repo.UpdateContact(ctx, contact)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindContactByID_Success(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	now := utils.Now()

	cols := []string{"id", "tenant_id", "email_primary", "stage", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("contact-find-1", testTenantIDContact, "found@example.com", "qualified", now.Add(-time.Hour), now)

	selectQuery := `SELECT * FROM "contacts" WHERE id = $1 ORDER BY "contacts"."id" LIMIT $2`
	mock.ExpectQuery(selectQuery).WithArgs("contact-find-1", 1).WillReturnRows(rows)

	contact, err := repo.FindContactByID(ctx, "contact-find-1")
	assert.NoError(t, err)
	assert.NotNil(t, contact)
	assert.Equal(t, "contact-find-1", contact.ID)
	assert.Equal(t, model.StageQualified, contact.Stage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindContactByID_NotFound(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()

	selectQuery := `SELECT * FROM "contacts" WHERE id = $1 ORDER BY "contacts"."id" LIMIT $2`
	mock.ExpectQuery(selectQuery).WithArgs("contact-missing", 1).WillReturnError(gorm.ErrRecordNotFound)

	contact, err := repo.FindContactByID(ctx, "contact-missing")
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, contact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindContactsByKey_Success(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	now := utils.Now()

	cols := []string{"id", "tenant_id", "phone", "stage", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("contact-key-1", testTenantIDContact, "+15551234567", "new", now, now)

	selectQuery := `SELECT * FROM "contacts" WHERE phone = $1`
	mock.ExpectQuery(selectQuery).WithArgs("+15551234567").WillReturnRows(rows)

	contacts, err := repo.FindContactsByKey(ctx, "phone", "+15551234567")
	assert.NoError(t, err)
	assert.Len(t, contacts, 1)
	assert.Equal(t, "contact-key-1", contacts[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindContactsByKey_Empty(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()

	cols := []string{"id", "tenant_id", "phone", "stage"}
	selectQuery := `SELECT * FROM "contacts" WHERE email_primary = $1`
	mock.ExpectQuery(selectQuery).WithArgs("nobody@example.com").WillReturnRows(sqlmock.NewRows(cols))

	contacts, err := repo.FindContactsByKey(ctx, "email_primary", "nobody@example.com")
	assert.NoError(t, err)
	assert.NotNil(t, contacts)
	assert.Empty(t, contacts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindContactsByKey_RejectsUnknownColumn(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()

	contacts, err := repo.FindContactsByKey(ctx, "first_name", "Bobby")
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.Nil(t, contacts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_FindContactsByStagePaginated(t *testing.T) {
	repo, mock := newTestContactRepo(t)
	ctx := contextWithContactTenant()
	now := utils.Now()

	cols := []string{"id", "tenant_id", "stage", "created_at", "updated_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("contact-stage-1", testTenantIDContact, "meeting_booked", now.Add(-2*time.Hour), now).
		AddRow("contact-stage-2", testTenantIDContact, "meeting_booked", now.Add(-time.Hour), now)

	selectQuery := `SELECT * FROM "contacts" WHERE stage = $1 ORDER BY created_at ASC LIMIT $2`
	mock.ExpectQuery(selectQuery).WithArgs("meeting_booked", 50).WillReturnRows(rows)

	contacts, err := repo.FindContactsByStagePaginated(ctx, model.StageMeetingBooked, 50, 0)
	assert.NoError(t, err)
	assert.Len(t, contacts, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_NoTenantInContext(t *testing.T) {
	repo, mock := newTestContactRepo(t)

	_, err := repo.FindContactByID(context.Background(), "contact-1")
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}
