package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/identity"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/internal/validator"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// CorrectStage force-sets a contact's stage, bypassing the forward-only
// progression guard. The correction is journaled like any other delivery so
// the timeline shows who moved the contact and why.
func (s *IngestService) CorrectStage(ctx context.Context, req model.StageCorrectionRequest) (*model.InboundEvent, error) {
	log := logger.FromContext(ctx)

	if err := validator.Validate(req); err != nil {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "invalid stage correction: %v", err)
	}
	if !req.Stage.Valid() {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "unknown stage %q", req.Stage)
	}

	contact, err := s.contactRepo.FindByID(ctx, req.ContactID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, err
		}
		return nil, apperrors.NewRetryable(err, "failed to load contact %s", req.ContactID)
	}

	fromStage := contact.Stage
	now := utils.Now()
	diff := identity.ForceStage(contact, req.Stage, now)

	if err := s.contactRepo.Update(ctx, contact); err != nil {
		return nil, apperrors.NewRetryable(err, "failed to update contact %s", req.ContactID)
	}

	if contact.Stage != fromStage {
		observer.IncStageTransition(string(fromStage), string(contact.Stage), contact.TenantID)
	}

	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		tenantID = contact.TenantID
	}

	event := &model.InboundEvent{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Source:        model.SourceOperator,
		EventType:     model.EventStageCorrected,
		SourceEventID: "",
		RawPayload:    datatypes.JSON(utils.MustMarshalJSON(req)),
		Outcome:       model.OutcomeMatched,
		ContactID:     &contact.ID,
		FieldDiff:     datatypes.JSON(utils.MustMarshalJSON(diff)),
		ReceivedAt:    now,
	}
	if err := s.journalRepo.Append(ctx, event); err != nil {
		return nil, apperrors.NewRetryable(err, "failed to journal stage correction")
	}

	log.Info("Stage correction applied",
		zap.String("contact_id", contact.ID),
		zap.String("from_stage", string(fromStage)),
		zap.String("to_stage", string(contact.Stage)),
		zap.String("operator", req.Operator),
		zap.String("reason", req.Reason))

	s.publishOutcome(ctx, event, contact.Stage)
	return event, nil
}

// ContactTimeline returns the full journal for one contact, oldest first.
func (s *IngestService) ContactTimeline(ctx context.Context, contactID string) ([]model.InboundEvent, error) {
	if contactID == "" {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "contact_id is required")
	}
	return s.journalRepo.ListByContact(ctx, contactID)
}

// ListAmbiguousEvents pages through deliveries parked for manual review.
func (s *IngestService) ListAmbiguousEvents(ctx context.Context, limit, offset int) ([]model.InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.journalRepo.ListByOutcome(ctx, model.OutcomeAmbiguous, limit, offset)
}

// ListContactsByStage pages through contacts sitting at one funnel stage.
func (s *IngestService) ListContactsByStage(ctx context.Context, stage model.Stage, limit, offset int) ([]model.Contact, error) {
	if !stage.Valid() {
		return nil, apperrors.NewFatal(apperrors.ErrBadRequest, "unknown stage %q", stage)
	}
	if limit <= 0 {
		limit = 50
	}
	return s.contactRepo.FindByStagePaginated(ctx, stage, limit, offset)
}
