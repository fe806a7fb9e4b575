package model

import "time"

// WebhookEnvelope is the normalized form of one inbound delivery, produced by
// a source adapter (HTTP gateway) or the relay consumer before it enters the
// ingest pipeline.
type WebhookEnvelope struct {
	TenantID      string    `json:"tenant_id,omitempty" validate:"required"`
	Source        Source    `json:"source" validate:"required"`
	EventType     EventType `json:"event_type" validate:"required"`
	SourceEventID string    `json:"source_event_id,omitempty" validate:"omitempty"`
	RawPayload    []byte    `json:"raw_payload,omitempty" validate:"required"`
	Patch         ContactPatch
	ReceivedAt    time.Time `json:"received_at,omitempty"`
}

// ContactPatch carries the non-identity fields an event proposes for a
// contact. Pointers distinguish "absent" from "set to empty"; absent fields
// never overwrite stored values.
type ContactPatch struct {
	Stage         Stage                  `json:"stage,omitempty" validate:"omitempty"`
	FirstName     *string                `json:"first_name,omitempty"`
	LastName      *string                `json:"last_name,omitempty"`
	FunnelVariant *string                `json:"funnel_variant,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// FieldChange records one mutation applied while reconciling an event into a
// contact. The list of changes is journaled as the event's field diff.
type FieldChange struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
}

// StageCorrectionRequest is the operator path for fixing a contact's stage
// outside the progression guard.
type StageCorrectionRequest struct {
	ContactID string `json:"contact_id" validate:"required"`
	Stage     Stage  `json:"stage" validate:"required"`
	Reason    string `json:"reason,omitempty" validate:"omitempty"`
	Operator  string `json:"operator,omitempty" validate:"omitempty"`
}

// OutcomeNotification is published to JetStream after each processed event so
// downstream consumers can react to funnel movement.
type OutcomeNotification struct {
	TenantID      string            `json:"tenant_id"`
	Source        Source            `json:"source"`
	EventType     EventType         `json:"event_type"`
	SourceEventID string            `json:"source_event_id,omitempty"`
	Outcome       ResolutionOutcome `json:"outcome"`
	ContactID     string            `json:"contact_id,omitempty"`
	Stage         Stage             `json:"stage,omitempty"`
	ProcessedAt   time.Time         `json:"processed_at"`
}
