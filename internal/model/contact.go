package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Contact is the canonical per-tenant lead record in PostgreSQL. Identity key
// columns are nullable pointers so the partial unique indexes only apply to
// rows that actually carry the key.
type Contact struct {
	ID                   string         `json:"id" gorm:"primaryKey;type:text"`
	PlatformSubscriberID *string        `json:"platform_subscriber_id,omitempty" gorm:"column:platform_subscriber_id;type:text"`
	CrmID                *string        `json:"crm_id,omitempty" gorm:"column:crm_id;type:text"`
	ProcessorCustomerID  *string        `json:"processor_customer_id,omitempty" gorm:"column:processor_customer_id;type:text"`
	EmailPrimary         *string        `json:"email_primary,omitempty" gorm:"column:email_primary;type:text"`
	Phone                *string        `json:"phone,omitempty" gorm:"type:text"`
	Stage                Stage          `json:"stage" gorm:"type:text;default:new" validate:"required"`
	FirstName            string         `json:"first_name,omitempty" gorm:"type:text"`
	LastName             string         `json:"last_name,omitempty" gorm:"type:text"`
	Source               string         `json:"source,omitempty" gorm:"type:text"` // source that created the record
	FunnelVariant        string         `json:"funnel_variant,omitempty" gorm:"type:text"`
	TenantID             string         `json:"tenant_id,omitempty" gorm:"column:tenant_id"`
	QualifiedAt          *time.Time     `json:"qualified_at,omitempty"`
	LinkSentAt           *time.Time     `json:"link_sent_at,omitempty"`
	FormSubmittedAt      *time.Time     `json:"form_submitted_at,omitempty"`
	MeetingBookedAt      *time.Time     `json:"meeting_booked_at,omitempty"`
	MeetingHeldAt        *time.Time     `json:"meeting_held_at,omitempty"`
	PackageSentAt        *time.Time     `json:"package_sent_at,omitempty"`
	PurchasedAt          *time.Time     `json:"purchased_at,omitempty"`
	DisqualifiedAt       *time.Time     `json:"disqualified_at,omitempty"`
	ArchivedAt           *time.Time     `json:"archived_at,omitempty"`
	Attributes           datatypes.JSON `json:"attributes,omitempty" gorm:"type:jsonb"`
	CreatedAt            time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt            time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastEventMetadata    datatypes.JSON `json:"last_event_metadata,omitempty" gorm:"type:jsonb;column:last_event_metadata"`
}

// TableName specifies the table name for the Contact model, respecting the Namer.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// IdentityColumns lists the nullable unique identity key columns, in
// resolution priority order (most specific first).
func IdentityColumns() []string {
	return []string{
		"platform_subscriber_id",
		"crm_id",
		"processor_customer_id",
		"email_primary",
		"phone",
	}
}

// StageTimestampColumn returns the first-write-wins timestamp column for a
// stage, or "" for stages that do not record one (new has none).
func StageTimestampColumn(s Stage) string {
	switch s {
	case StageQualified:
		return "qualified_at"
	case StageLinkSent:
		return "link_sent_at"
	case StageFormSubmitted:
		return "form_submitted_at"
	case StageMeetingBooked:
		return "meeting_booked_at"
	case StageMeetingHeld:
		return "meeting_held_at"
	case StagePackageSent:
		return "package_sent_at"
	case StagePurchased:
		return "purchased_at"
	case StageDisqualified:
		return "disqualified_at"
	case StageArchived:
		return "archived_at"
	default:
		return ""
	}
}

// StageTimestamp returns a pointer to the contact field backing the stage's
// timestamp column, or nil for stages without one.
func (c *Contact) StageTimestamp(s Stage) **time.Time {
	switch s {
	case StageQualified:
		return &c.QualifiedAt
	case StageLinkSent:
		return &c.LinkSentAt
	case StageFormSubmitted:
		return &c.FormSubmittedAt
	case StageMeetingBooked:
		return &c.MeetingBookedAt
	case StageMeetingHeld:
		return &c.MeetingHeldAt
	case StagePackageSent:
		return &c.PackageSentAt
	case StagePurchased:
		return &c.PurchasedAt
	case StageDisqualified:
		return &c.DisqualifiedAt
	case StageArchived:
		return &c.ArchivedAt
	default:
		return nil
	}
}
