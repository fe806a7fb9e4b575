// Package sources translates raw upstream webhook payloads into normalized
// envelopes. Each source has its own event-type detection and contact patch
// mapping; identity key extraction lives in internal/identity.
package sources

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// BuildEnvelope normalizes one raw delivery into a WebhookEnvelope. The
// returned envelope always carries the tenant, source, raw payload and
// received-at, even on error, so the caller can journal a rejected delivery.
func BuildEnvelope(source model.Source, tenantID string, raw []byte, receivedAt time.Time) (model.WebhookEnvelope, error) {
	env := model.WebhookEnvelope{
		TenantID:   tenantID,
		Source:     source,
		RawPayload: raw,
		ReceivedAt: receivedAt,
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return env, fmt.Errorf("%w: payload is not a JSON object", apperrors.ErrMalformedEvent)
	}

	switch source {
	case model.SourceManychat:
		buildManychat(&env, doc)
	case model.SourceCrm:
		buildCrm(&env, doc)
	case model.SourceStripe:
		buildStripe(&env, doc)
	case model.SourceDenefits:
		buildDenefits(&env, doc)
	default:
		if err := buildGeneric(&env, doc); err != nil {
			return env, err
		}
	}
	return env, nil
}

// manychat sends flow-triggered webhooks; the trigger name tells us how far
// down the funnel the subscriber moved.
var manychatEventTypes = map[string]model.EventType{
	"new_subscriber": model.EventLeadNew,
	"lead_created":   model.EventLeadNew,
	"lead_qualified": model.EventLeadQualified,
	"quiz_completed": model.EventLeadQualified,
	"link_sent":      model.EventLinkSent,
	"link_clicked":   model.EventLinkClicked,
	"form_submitted": model.EventFormSubmitted,
}

func buildManychat(env *model.WebhookEnvelope, doc map[string]interface{}) {
	trigger := strings.ToLower(firstString(
		stringField(doc, "event_type"),
		stringField(doc, "trigger"),
	))
	if et, ok := manychatEventTypes[trigger]; ok {
		env.EventType = et
	} else {
		env.EventType = model.EventContactUpdate
	}
	env.SourceEventID = stringField(doc, "event_id")

	sub := objectField(doc, "subscriber")
	env.Patch.FirstName = optString(firstString(
		stringField(sub, "first_name"),
		stringField(doc, "first_name"),
	))
	env.Patch.LastName = optString(firstString(
		stringField(sub, "last_name"),
		stringField(doc, "last_name"),
	))
	env.Patch.FunnelVariant = optString(stringField(doc, "funnel_variant"))
	env.Patch.Attributes = objectField(doc, "custom_fields")
}

// pipeline stage labels the CRM sends on opportunity updates
var crmPipelineStages = map[string]model.EventType{
	"qualified":      model.EventLeadQualified,
	"link sent":      model.EventLinkSent,
	"form submitted": model.EventFormSubmitted,
	"meeting booked": model.EventMeetingBooked,
	"meeting held":   model.EventMeetingHeld,
	"package sent":   model.EventPackageSent,
	"purchased":      model.EventPurchase,
}

func buildCrm(env *model.WebhookEnvelope, doc map[string]interface{}) {
	env.EventType = model.EventContactUpdate
	env.SourceEventID = firstString(
		stringField(doc, "webhook_id"),
		stringField(doc, "event_id"),
	)

	kind := stringField(doc, "type")
	switch kind {
	case "ContactCreate":
		env.EventType = model.EventLeadNew
	case "AppointmentCreate":
		env.EventType = model.EventMeetingBooked
	case "AppointmentUpdate":
		status := strings.ToLower(stringField(objectField(doc, "appointment"), "status"))
		switch status {
		case "showed":
			env.EventType = model.EventMeetingHeld
		case "noshow", "no-show":
			env.EventType = model.EventMeetingNoShow
		}
	case "OpportunityUpdate", "OpportunityStageUpdate":
		// customData.pipeline_stage wins over the CRM's own field. Some CRM
		// senders ship the misspelled "pipleline_stage" key; accept it too.
		stage := strings.ToLower(firstString(
			stringField(objectField(doc, "customData"), "pipeline_stage"),
			stringField(doc, "pipleline_stage"),
			stringField(doc, "pipeline_stage"),
		))
		if et, ok := crmPipelineStages[stage]; ok {
			env.EventType = et
		} else if stage == "disqualified" {
			env.Patch.Stage = model.StageDisqualified
		} else if stage == "archived" {
			env.Patch.Stage = model.StageArchived
		}
	}

	env.Patch.FirstName = optString(stringField(doc, "first_name"))
	env.Patch.LastName = optString(stringField(doc, "last_name"))
	env.Patch.FunnelVariant = optString(stringField(doc, "funnel_variant"))
	env.Patch.Attributes = objectField(doc, "customData")
}

var stripeEventTypes = map[string]model.EventType{
	"checkout.session.completed": model.EventPurchase,
	"invoice.payment_succeeded":  model.EventPurchase,
	"invoice.payment_failed":     model.EventPaymentFailed,
	"charge.failed":              model.EventPaymentFailed,
}

func buildStripe(env *model.WebhookEnvelope, doc map[string]interface{}) {
	kind := stringField(doc, "type")
	if et, ok := stripeEventTypes[kind]; ok {
		env.EventType = et
	} else {
		env.EventType = model.EventContactUpdate
	}
	env.SourceEventID = stringField(doc, "id")

	obj := objectField(objectField(doc, "data"), "object")
	details := objectField(obj, "customer_details")
	if name := stringField(details, "name"); name != "" {
		first, last := splitName(name)
		env.Patch.FirstName = optString(first)
		env.Patch.LastName = optString(last)
	}
	attrs := map[string]interface{}{}
	if amount, ok := obj["amount_total"]; ok {
		attrs["amount_total"] = amount
	}
	if currency := stringField(obj, "currency"); currency != "" {
		attrs["currency"] = currency
	}
	if len(attrs) > 0 {
		env.Patch.Attributes = attrs
	}
}

func buildDenefits(env *model.WebhookEnvelope, doc map[string]interface{}) {
	kind := strings.ToLower(stringField(doc, "event_type"))
	switch kind {
	case "contract_created", "payment_success":
		env.EventType = model.EventPurchase
	case "payment_failed", "contract_cancelled":
		env.EventType = model.EventPaymentFailed
	default:
		env.EventType = model.EventContactUpdate
	}
	env.SourceEventID = firstString(
		stringField(doc, "event_id"),
		stringField(doc, "contract_id"),
	)

	cust := objectField(doc, "customer")
	env.Patch.FirstName = optString(stringField(cust, "first_name"))
	env.Patch.LastName = optString(stringField(cust, "last_name"))
}

func buildGeneric(env *model.WebhookEnvelope, doc map[string]interface{}) error {
	et := model.EventType(stringField(doc, "event_type"))
	if et == "" {
		return fmt.Errorf("%w: generic payload missing event_type", apperrors.ErrMalformedEvent)
	}
	env.EventType = et
	env.SourceEventID = stringField(doc, "event_id")

	env.Patch.FirstName = optString(stringField(doc, "first_name"))
	env.Patch.LastName = optString(stringField(doc, "last_name"))
	env.Patch.FunnelVariant = optString(stringField(doc, "funnel_variant"))
	if stage := model.Stage(stringField(doc, "stage")); stage != "" && stage.Valid() {
		env.Patch.Stage = stage
	}
	env.Patch.Attributes = objectField(doc, "attributes")
	return nil
}

func stringField(doc map[string]interface{}, key string) string {
	if doc == nil {
		return ""
	}
	if s, ok := doc[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func objectField(doc map[string]interface{}, key string) map[string]interface{} {
	if doc == nil {
		return nil
	}
	if m, ok := doc[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func firstString(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
