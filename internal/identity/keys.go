// Package identity implements key extraction, contact resolution, field
// merging, and funnel stage progression for inbound events.
package identity

import "gitlab.com/leadops/api/funnel-events-processor/internal/model"

// KeyKind names one identity signal. Values match the contact columns they
// resolve against.
type KeyKind string

const (
	KeyPlatformSubscriberID KeyKind = "platform_subscriber_id"
	KeyCrmID                KeyKind = "crm_id"
	KeyProcessorCustomerID  KeyKind = "processor_customer_id"
	KeyEmail                KeyKind = "email_primary"
	KeyPhone                KeyKind = "phone"
)

// KeyPriority is the resolution tie-break order, most specific first.
var KeyPriority = []KeyKind{
	KeyPlatformSubscriberID,
	KeyCrmID,
	KeyProcessorCustomerID,
	KeyEmail,
	KeyPhone,
}

// KeySet holds the normalized identity signals extracted from one event.
// Empty string means the signal was absent.
type KeySet struct {
	PlatformSubscriberID string
	CrmID                string
	ProcessorCustomerID  string
	Email                string
	Phone                string
}

// Get returns the value for a key kind, or "" when absent.
func (k KeySet) Get(kind KeyKind) string {
	switch kind {
	case KeyPlatformSubscriberID:
		return k.PlatformSubscriberID
	case KeyCrmID:
		return k.CrmID
	case KeyProcessorCustomerID:
		return k.ProcessorCustomerID
	case KeyEmail:
		return k.Email
	case KeyPhone:
		return k.Phone
	default:
		return ""
	}
}

// IsEmpty reports whether no signal was extracted at all.
func (k KeySet) IsEmpty() bool {
	for _, kind := range KeyPriority {
		if k.Get(kind) != "" {
			return false
		}
	}
	return true
}

// Provided returns the kinds present in the set, in priority order.
func (k KeySet) Provided() []KeyKind {
	var kinds []KeyKind
	for _, kind := range KeyPriority {
		if k.Get(kind) != "" {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// ApplyTo seeds every present key onto a contact, leaving absent keys alone.
func (k KeySet) ApplyTo(c *model.Contact) {
	for _, kind := range KeyPriority {
		v := k.Get(kind)
		if v == "" {
			continue
		}
		val := v
		*contactKeyField(c, kind) = &val
	}
}

// contactKeyField returns the address of the column backing a key kind.
func contactKeyField(c *model.Contact, kind KeyKind) **string {
	switch kind {
	case KeyPlatformSubscriberID:
		return &c.PlatformSubscriberID
	case KeyCrmID:
		return &c.CrmID
	case KeyProcessorCustomerID:
		return &c.ProcessorCustomerID
	case KeyEmail:
		return &c.EmailPrimary
	default:
		return &c.Phone
	}
}
