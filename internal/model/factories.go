package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/leadops/api/funnel-events-processor/pkg/utils"
)

// RandomJSONBMap marshals a map into a JSONB value for fixtures.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

func strPtr(s string) *string { return &s }

// NewContact creates a Contact with fake identity keys and attributes.
// Pass an override to pin specific fields; zero-valued override fields keep
// the generated defaults except identity keys, which are copied verbatim so
// tests can force them nil.
func NewContact(overrideDefaults ...*Contact) *Contact {
	phone := fmt.Sprintf("+1%d", gofakeit.Number(2000000000, 9999999999))
	base := &Contact{
		ID:                   gofakeit.UUID(),
		PlatformSubscriberID: strPtr(fmt.Sprintf("%d", gofakeit.Number(100000000, 999999999))),
		CrmID:                strPtr(gofakeit.LetterN(20)),
		ProcessorCustomerID:  strPtr("cus_" + gofakeit.LetterN(14)),
		EmailPrimary:         strPtr(gofakeit.Email()),
		Phone:                &phone,
		Stage:                StageNew,
		FirstName:            gofakeit.FirstName(),
		LastName:             gofakeit.LastName(),
		Source:               string(SourceManychat),
		FunnelVariant:        gofakeit.RandomString([]string{"A", "B"}),
		TenantID:             "tenant_" + gofakeit.LetterN(10),
		Attributes:           RandomJSONBMap(map[string]interface{}{"tag": gofakeit.Word()}),
		CreatedAt:            utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:            utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		base.PlatformSubscriberID = ovr.PlatformSubscriberID
		base.CrmID = ovr.CrmID
		base.ProcessorCustomerID = ovr.ProcessorCustomerID
		base.EmailPrimary = ovr.EmailPrimary
		base.Phone = ovr.Phone
		if ovr.Stage != "" {
			base.Stage = ovr.Stage
		}
		if ovr.FirstName != "" {
			base.FirstName = ovr.FirstName
		}
		if ovr.LastName != "" {
			base.LastName = ovr.LastName
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Attributes != nil {
			base.Attributes = ovr.Attributes
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewInboundEvent creates a journal row with default fake data.
func NewInboundEvent(overrideDefaults ...*InboundEvent) *InboundEvent {
	base := &InboundEvent{
		ID:            gofakeit.UUID(),
		TenantID:      "tenant_" + gofakeit.LetterN(10),
		Source:        SourceManychat,
		EventType:     EventLeadQualified,
		SourceEventID: gofakeit.UUID(),
		RawPayload:    RandomJSONBMap(map[string]interface{}{"subscriber_id": gofakeit.DigitN(9)}),
		Outcome:       OutcomeMatched,
		ReceivedAt:    utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.EventType != "" {
			base.EventType = ovr.EventType
		}
		if ovr.SourceEventID != "" {
			base.SourceEventID = ovr.SourceEventID
		}
		if ovr.RawPayload != nil {
			base.RawPayload = ovr.RawPayload
		}
		if ovr.Outcome != "" {
			base.Outcome = ovr.Outcome
		}
		if ovr.ContactID != nil {
			base.ContactID = ovr.ContactID
		}
		if !ovr.ReceivedAt.IsZero() {
			base.ReceivedAt = ovr.ReceivedAt
		}
	}
	return base
}

// NewWebhookEnvelope creates a normalized delivery for pipeline tests.
func NewWebhookEnvelope(overrideDefaults ...*WebhookEnvelope) *WebhookEnvelope {
	base := &WebhookEnvelope{
		TenantID:      "tenant_" + gofakeit.LetterN(10),
		Source:        SourceManychat,
		EventType:     EventLeadQualified,
		SourceEventID: gofakeit.UUID(),
		RawPayload:    []byte(fmt.Sprintf(`{"subscriber_id":%q,"email":%q}`, gofakeit.DigitN(9), gofakeit.Email())),
		ReceivedAt:    utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.TenantID != "" {
			base.TenantID = ovr.TenantID
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.EventType != "" {
			base.EventType = ovr.EventType
		}
		if ovr.SourceEventID != "" {
			base.SourceEventID = ovr.SourceEventID
		}
		if ovr.RawPayload != nil {
			base.RawPayload = ovr.RawPayload
		}
		if !ovr.ReceivedAt.IsZero() {
			base.ReceivedAt = ovr.ReceivedAt
		}
	}
	return base
}
