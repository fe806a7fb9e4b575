package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/cache"
	"gitlab.com/leadops/api/funnel-events-processor/internal/identity"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/internal/observer"
	"gitlab.com/leadops/api/funnel-events-processor/internal/tenant"
	"gitlab.com/leadops/api/funnel-events-processor/internal/validator"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// ProcessEvent runs one delivery through the full pipeline: dedupe, key
// extraction, identity resolution, merge, journal append, outcome publish.
//
// Business failures (malformed payload, tenant mismatch, ambiguous identity)
// journal a terminal rejected/ambiguous row and return a nil error so the
// consumer acks the delivery. Only store unavailability surfaces as a
// retryable error, and in that case no journal row is written.
func (s *IngestService) ProcessEvent(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata) (*model.InboundEvent, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	if envelope.ReceivedAt.IsZero() {
		envelope.ReceivedAt = utils.Now()
	}

	if err := validator.Validate(envelope); err != nil {
		log.Warn("Invalid webhook envelope", zap.Error(err), zap.String("source", string(envelope.Source)))
		return s.JournalRejected(ctx, envelope, metadata, apperrors.NewFatal(apperrors.ErrMalformedEvent, "invalid envelope: %v", err))
	}

	if err := tenant.ValidateEventTenant(ctx, envelope.TenantID); err != nil {
		log.Warn("Tenant mismatch on webhook envelope",
			zap.String("envelope_tenant", envelope.TenantID),
			zap.String("source", string(envelope.Source)))
		return s.JournalRejected(ctx, envelope, metadata, apperrors.NewFatal(apperrors.ErrUnauthorized, "tenant mismatch: %v", err))
	}

	if prior, done, err := s.checkDuplicate(ctx, envelope); err != nil {
		return nil, err
	} else if done {
		return prior, nil
	}

	keys := identity.ExtractKeys(envelope.Source, envelope.RawPayload)
	if keys.IsEmpty() {
		log.Warn("No identity keys in payload",
			zap.String("source", string(envelope.Source)),
			zap.String("event_type", string(envelope.EventType)))
		return s.JournalRejected(ctx, envelope, metadata, apperrors.NewFatal(apperrors.ErrMalformedEvent, "payload carries no identity keys"))
	}

	event, stage, err := s.resolveAndApply(ctx, envelope, keys)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return nil, err
		}
		return s.JournalRejected(ctx, envelope, metadata, err)
	}

	if err := s.journalRepo.Append(ctx, event); err != nil {
		log.Error("Failed to append journal row", zap.Error(err), zap.String("source_event_id", envelope.SourceEventID))
		return nil, apperrors.NewRetryable(err, "failed to journal event")
	}

	if s.dedupe != nil {
		s.dedupe.MarkSeen(envelope.Source, envelope.SourceEventID)
	}

	observer.IncResolutionOutcome(string(event.Outcome), string(envelope.Source), event.TenantID)
	observer.ObserveEventProcessingDuration(string(envelope.EventType), event.TenantID, "relay", time.Since(start))

	s.publishOutcome(ctx, event, stage)

	return event, nil
}

// checkDuplicate consults the bloom filter and, only on a possible hit, the
// journal. A prior created or matched row short-circuits the delivery with a
// fresh matched row pointing at the same contact. A prior rejected or
// ambiguous row does not: reprocessing those is what makes replay work.
func (s *IngestService) checkDuplicate(ctx context.Context, envelope model.WebhookEnvelope) (*model.InboundEvent, bool, error) {
	if s.dedupe == nil || envelope.SourceEventID == "" {
		return nil, false, nil
	}
	if s.dedupe.Check(envelope.Source, envelope.SourceEventID) == cache.StatusUnseen {
		return nil, false, nil
	}

	log := logger.FromContext(ctx)

	prior, err := s.journalRepo.FindBySourceEventID(ctx, envelope.Source, envelope.SourceEventID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			s.dedupe.RecordFalsePositive()
			return nil, false, nil
		}
		return nil, false, apperrors.NewRetryable(err, "failed to check journal for duplicate")
	}

	if prior.Outcome != model.OutcomeCreated && prior.Outcome != model.OutcomeMatched {
		log.Info("Reprocessing previously unresolved delivery",
			zap.String("source_event_id", envelope.SourceEventID),
			zap.String("prior_outcome", string(prior.Outcome)))
		return nil, false, nil
	}

	log.Info("Duplicate delivery short-circuited",
		zap.String("source_event_id", envelope.SourceEventID),
		zap.Stringp("contact_id", prior.ContactID))

	event := s.newJournalRow(ctx, envelope, model.OutcomeMatched)
	event.ContactID = prior.ContactID
	event.MatchedKey = prior.MatchedKey
	if err := s.journalRepo.Append(ctx, event); err != nil {
		return nil, false, apperrors.NewRetryable(err, "failed to journal duplicate event")
	}
	observer.IncResolutionOutcome(string(model.OutcomeMatched), string(envelope.Source), event.TenantID)
	return event, true, nil
}

// resolveAndApply resolves the key set and applies the patch to an existing
// or freshly created contact. A unique-index conflict on create means a
// concurrent delivery won the race, so resolution is retried once.
func (s *IngestService) resolveAndApply(ctx context.Context, envelope model.WebhookEnvelope, keys identity.KeySet) (*model.InboundEvent, model.Stage, error) {
	log := logger.FromContext(ctx)

	for attempt := 0; ; attempt++ {
		if attempt > 1 {
			return nil, "", apperrors.NewRetryable(apperrors.ErrConflict, "contact creation raced twice for source_event_id %s", envelope.SourceEventID)
		}

		res, err := s.resolver.Resolve(ctx, keys)
		if err != nil {
			return nil, "", err
		}

		switch res.Outcome {
		case model.OutcomeAmbiguous:
			return s.buildAmbiguousRow(ctx, envelope, res), "", nil

		case model.OutcomeMatched:
			return s.applyToExisting(ctx, envelope, keys, res)

		case model.OutcomeCreated:
			event, stage, err := s.createContact(ctx, envelope, keys)
			if apperrors.IsDuplicateError(err) {
				log.Info("Contact creation raced, re-resolving", zap.String("source_event_id", envelope.SourceEventID))
				continue
			}
			return event, stage, err

		default:
			return nil, "", apperrors.NewFatal(apperrors.ErrValidation, "unexpected resolution outcome %q", res.Outcome)
		}
	}
}

func (s *IngestService) applyToExisting(ctx context.Context, envelope model.WebhookEnvelope, keys identity.KeySet, res *identity.Resolution) (*model.InboundEvent, model.Stage, error) {
	contact := res.Contact
	fromStage := contact.Stage
	now := envelope.ReceivedAt

	diff := identity.Backfill(contact, keys)
	diff = append(diff, identity.Merge(contact, s.effectivePatch(envelope), now)...)

	s.stampEventMetadata(contact, envelope)

	if err := s.contactRepo.Update(ctx, contact); err != nil {
		return nil, "", apperrors.NewRetryable(err, "failed to update contact %s", contact.ID)
	}

	if contact.Stage != fromStage {
		observer.IncStageTransition(string(fromStage), string(contact.Stage), contact.TenantID)
	}

	event := s.newJournalRow(ctx, envelope, model.OutcomeMatched)
	event.ContactID = &contact.ID
	event.MatchedKey = string(res.MatchedKey)
	event.FieldDiff = datatypes.JSON(utils.MustMarshalJSON(diff))
	return event, contact.Stage, nil
}

func (s *IngestService) createContact(ctx context.Context, envelope model.WebhookEnvelope, keys identity.KeySet) (*model.InboundEvent, model.Stage, error) {
	tenantID := tenant.MustFromContext(ctx)
	now := envelope.ReceivedAt

	contact := &model.Contact{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Stage:    model.StageNew,
		Source:   string(envelope.Source),
	}

	diff := identity.Backfill(contact, keys)
	diff = append(diff, identity.Merge(contact, s.effectivePatch(envelope), now)...)

	s.stampEventMetadata(contact, envelope)

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		if apperrors.IsDuplicateError(err) {
			return nil, "", err
		}
		return nil, "", apperrors.NewRetryable(err, "failed to create contact")
	}

	observer.IncStageTransition("", string(contact.Stage), contact.TenantID)

	event := s.newJournalRow(ctx, envelope, model.OutcomeCreated)
	event.ContactID = &contact.ID
	event.FieldDiff = datatypes.JSON(utils.MustMarshalJSON(diff))
	return event, contact.Stage, nil
}

// effectivePatch returns the envelope patch with the stage defaulted from the
// event type when the adapter did not set one explicitly.
func (s *IngestService) effectivePatch(envelope model.WebhookEnvelope) model.ContactPatch {
	patch := envelope.Patch
	if patch.Stage == "" {
		patch.Stage = envelope.EventType.ProposedStage()
	}
	return patch
}

func (s *IngestService) stampEventMetadata(contact *model.Contact, envelope model.WebhookEnvelope) {
	meta := model.EventMetadata{
		MessageID:      envelope.SourceEventID,
		MessageSubject: string(envelope.EventType),
		Timestamp:      envelope.ReceivedAt,
		TenantID:       contact.TenantID,
		Source:         envelope.Source,
	}
	contact.LastEventMetadata = datatypes.JSON(utils.MustMarshalJSON(meta.ToLastMetadata()))
}

// JournalRejected records a terminal rejected row for a delivery that can
// never succeed, then reports success so the caller acks. Journal
// unavailability still surfaces as a retryable error.
func (s *IngestService) JournalRejected(ctx context.Context, envelope model.WebhookEnvelope, metadata *model.EventMetadata, cause error) (*model.InboundEvent, error) {
	log := logger.FromContext(ctx)

	event := s.newJournalRow(ctx, envelope, model.OutcomeRejected)
	event.ErrorMessage = cause.Error()

	if err := s.journalRepo.Append(ctx, event); err != nil {
		log.Error("Failed to journal rejected event", zap.Error(err))
		return nil, apperrors.NewRetryable(err, "failed to journal rejected event")
	}

	if s.dedupe != nil {
		s.dedupe.MarkSeen(envelope.Source, envelope.SourceEventID)
	}

	observer.IncResolutionOutcome(string(model.OutcomeRejected), string(envelope.Source), event.TenantID)

	fields := []zap.Field{
		zap.String("source", string(envelope.Source)),
		zap.String("source_event_id", envelope.SourceEventID),
		zap.String("reason", cause.Error()),
	}
	if metadata != nil {
		fields = append(fields, zap.Uint64("num_delivered", metadata.NumDelivered))
	}
	log.Warn("Journaled rejected delivery", fields...)
	return event, nil
}

func (s *IngestService) buildAmbiguousRow(ctx context.Context, envelope model.WebhookEnvelope, res *identity.Resolution) *model.InboundEvent {
	log := logger.FromContext(ctx)

	event := s.newJournalRow(ctx, envelope, model.OutcomeAmbiguous)
	event.CandidateIDs = datatypes.JSON(utils.MustMarshalJSON(res.CandidateIDs))
	event.ErrorMessage = fmt.Sprintf("identity keys matched %d distinct contacts", len(res.CandidateIDs))
	if res.KeyCollision {
		event.ErrorMessage += " (single key collision)"
	}

	log.Warn("Ambiguous identity resolution parked for review",
		zap.String("source", string(envelope.Source)),
		zap.String("source_event_id", envelope.SourceEventID),
		zap.Strings("candidate_ids", res.CandidateIDs))
	return event
}

// newJournalRow builds the journal row skeleton. The tenant comes from the
// instance context, not the envelope, so rejected rows for mismatched
// envelopes still land in this instance's journal.
func (s *IngestService) newJournalRow(ctx context.Context, envelope model.WebhookEnvelope, outcome model.ResolutionOutcome) *model.InboundEvent {
	tenantID, err := tenant.FromContext(ctx)
	if err != nil {
		tenantID = envelope.TenantID
	}
	return &model.InboundEvent{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Source:        envelope.Source,
		EventType:     envelope.EventType,
		SourceEventID: envelope.SourceEventID,
		RawPayload:    datatypes.JSON(envelope.RawPayload),
		Outcome:       outcome,
		ReceivedAt:    envelope.ReceivedAt,
	}
}

// publishOutcome notifies downstream consumers. Best effort: a publish
// failure is logged and never fails the delivery.
func (s *IngestService) publishOutcome(ctx context.Context, event *model.InboundEvent, stage model.Stage) {
	if s.publisher == nil {
		return
	}
	log := logger.FromContext(ctx)

	notification := model.OutcomeNotification{
		TenantID:      event.TenantID,
		Source:        event.Source,
		EventType:     event.EventType,
		SourceEventID: event.SourceEventID,
		Outcome:       event.Outcome,
		Stage:         stage,
		ProcessedAt:   utils.Now(),
	}
	if event.ContactID != nil {
		notification.ContactID = *event.ContactID
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		log.Error("Failed to marshal outcome notification", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("%s.%s", s.outcomeSubject, event.TenantID)
	if err := s.publisher.Publish(subject, payload, nil); err != nil {
		log.Warn("Failed to publish outcome notification", zap.Error(err), zap.String("subject", subject))
	}
}
