package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Source identifies the upstream system that produced an event.
type Source string

const (
	SourceManychat Source = "manychat"
	SourceCrm      Source = "crm"
	SourceStripe   Source = "stripe"
	SourceDenefits Source = "denefits"
	SourceOperator Source = "operator"
	SourceGeneric  Source = "generic"
)

// KnownSource maps an arbitrary slug to a Source constant. Unrecognized slugs
// fall back to SourceGeneric so the extractor's generic mapping still applies.
func KnownSource(slug string) (Source, bool) {
	switch Source(strings.ToLower(slug)) {
	case SourceManychat:
		return SourceManychat, true
	case SourceCrm:
		return SourceCrm, true
	case SourceStripe:
		return SourceStripe, true
	case SourceDenefits:
		return SourceDenefits, true
	case SourceOperator:
		return SourceOperator, true
	default:
		return SourceGeneric, false
	}
}

// EventType classifies what happened upstream, normalized across sources.
type EventType string

const (
	EventLeadNew        EventType = "lead.new"
	EventLeadQualified  EventType = "lead.qualified"
	EventLinkSent       EventType = "funnel.link_sent"
	EventLinkClicked    EventType = "funnel.link_clicked"
	EventFormSubmitted  EventType = "funnel.form_submitted"
	EventMeetingBooked  EventType = "meeting.booked"
	EventMeetingHeld    EventType = "meeting.held"
	EventMeetingNoShow  EventType = "meeting.no_show"
	EventPackageSent    EventType = "package.sent"
	EventPurchase       EventType = "payment.purchase"
	EventPaymentFailed  EventType = "payment.failed"
	EventContactUpdate  EventType = "contact.update"
	EventStageCorrected EventType = "stage.correction"
)

// ProposedStage returns the funnel stage this event type advances a contact
// toward, or "" when the event carries no stage signal.
func (e EventType) ProposedStage() Stage {
	switch e {
	case EventLeadNew:
		return StageNew
	case EventLeadQualified:
		return StageQualified
	case EventLinkSent, EventLinkClicked:
		return StageLinkSent
	case EventFormSubmitted:
		return StageFormSubmitted
	case EventMeetingBooked:
		return StageMeetingBooked
	case EventMeetingHeld:
		return StageMeetingHeld
	case EventPackageSent:
		return StagePackageSent
	case EventPurchase:
		return StagePurchased
	default:
		return ""
	}
}

// ResolutionOutcome is the terminal classification of one delivery.
type ResolutionOutcome string

const (
	OutcomeCreated   ResolutionOutcome = "created"
	OutcomeMatched   ResolutionOutcome = "matched"
	OutcomeAmbiguous ResolutionOutcome = "ambiguous"
	OutcomeRejected  ResolutionOutcome = "rejected"
)

// InboundEvent is one append-only journal row per delivery. Rows are never
// updated or deleted.
type InboundEvent struct {
	ID            string            `json:"id" gorm:"primaryKey;type:text"`
	TenantID      string            `json:"tenant_id,omitempty" gorm:"column:tenant_id"`
	Source        Source            `json:"source" gorm:"type:text;index" validate:"required"`
	EventType     EventType         `json:"event_type" gorm:"type:text" validate:"required"`
	SourceEventID string            `json:"source_event_id,omitempty" gorm:"column:source_event_id;type:text;index"`
	RawPayload    datatypes.JSON    `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	Outcome       ResolutionOutcome `json:"outcome" gorm:"type:text;index" validate:"required"`
	ContactID     *string           `json:"contact_id,omitempty" gorm:"column:contact_id;type:text;index"`
	MatchedKey    string            `json:"matched_key,omitempty" gorm:"type:text"`
	CandidateIDs  datatypes.JSON    `json:"candidate_ids,omitempty" gorm:"type:jsonb;column:candidate_ids"`
	FieldDiff     datatypes.JSON    `json:"field_diff,omitempty" gorm:"type:jsonb;column:field_diff"`
	ErrorMessage  string            `json:"error_message,omitempty" gorm:"type:text"`
	ReceivedAt    time.Time         `json:"received_at" gorm:"column:received_at;autoCreateTime"`
}

// TableName specifies the table name for the InboundEvent model, respecting the Namer.
func (InboundEvent) TableName(namer schema.Namer) string {
	return namer.TableName("inbound_events")
}

// EventMetadata carries JetStream delivery metadata alongside a relayed event.
type EventMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	MessageSubject   string
	TenantID         string
	Source           Source
}

// ToLastMetadata converts EventMetadata into the JSON shape stored on the
// contact's last_event_metadata column.
func (e EventMetadata) ToLastMetadata() *LastMetadata {
	return &LastMetadata{
		ConsumerSequence: int64(e.ConsumerSequence),
		StreamSequence:   int64(e.StreamSequence),
		Stream:           e.Stream,
		Consumer:         e.Consumer,
		MessageID:        e.MessageID,
		MessageSubject:   e.MessageSubject,
		TenantID:         e.TenantID,
		Source:           string(e.Source),
	}
}

// LastMetadata is the persisted form of the most recent delivery metadata.
type LastMetadata struct {
	ConsumerSequence int64  `json:"consumer_sequence"`
	StreamSequence   int64  `json:"stream_sequence"`
	Stream           string `json:"stream"`
	Consumer         string `json:"consumer"`
	MessageID        string `json:"message_id"`
	MessageSubject   string `json:"message_subject"`
	TenantID         string `json:"tenant_id"`
	Source           string `json:"source"`
}
