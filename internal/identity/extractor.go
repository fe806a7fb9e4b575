package identity

import (
	"encoding/json"
	"strconv"
	"strings"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// ExtractKeys pulls every identity signal a source embeds in its payload and
// normalizes it. It is total: malformed JSON or missing fields produce an
// empty or partial KeySet, never an error.
func ExtractKeys(source model.Source, rawPayload []byte) KeySet {
	var doc map[string]interface{}
	if err := json.Unmarshal(rawPayload, &doc); err != nil || doc == nil {
		return KeySet{}
	}

	var ks KeySet
	switch source {
	case model.SourceManychat:
		sub := nested(doc, "subscriber")
		ks.PlatformSubscriberID = firstString(
			str(sub, "id"),
			str(doc, "subscriber_id"),
			str(doc, "id"),
		)
		ks.Email = NormalizeEmail(firstString(
			str(sub, "email"),
			str(doc, "MCB_SEARCH_EMAIL"),
			str(doc, "custom field email"),
			str(doc, "email"),
		))
		ks.Phone = NormalizePhone(firstString(
			str(sub, "whatsapp_phone"),
			str(sub, "phone"),
			str(doc, "whatsapp_phone"),
			str(doc, "phone"),
		))
	case model.SourceCrm:
		custom := nested(doc, "customData")
		ks.CrmID = firstString(str(doc, "contact_id"), str(custom, "contact_id"))
		ks.PlatformSubscriberID = firstString(str(custom, "MC_ID"), str(doc, "mc_id"))
		ks.Email = NormalizeEmail(firstString(str(doc, "email"), str(custom, "email")))
		ks.Phone = NormalizePhone(firstString(str(doc, "phone"), str(custom, "phone")))
	case model.SourceStripe:
		obj := nested(nested(doc, "data"), "object")
		details := nested(obj, "customer_details")
		meta := nested(obj, "metadata")
		ks.ProcessorCustomerID = str(obj, "customer")
		ks.PlatformSubscriberID = str(meta, "mc_id")
		ks.Email = NormalizeEmail(firstString(
			str(details, "email"),
			str(obj, "customer_email"),
		))
		ks.Phone = NormalizePhone(str(details, "phone"))
	case model.SourceDenefits:
		cust := nested(doc, "customer")
		ks.ProcessorCustomerID = firstString(str(cust, "customer_id"), str(doc, "customer_id"))
		ks.Email = NormalizeEmail(firstString(str(cust, "email"), str(doc, "email")))
		ks.Phone = NormalizePhone(firstString(str(cust, "phone"), str(doc, "phone")))
	default:
		ks.PlatformSubscriberID = str(doc, "platform_subscriber_id")
		ks.CrmID = str(doc, "crm_id")
		ks.ProcessorCustomerID = str(doc, "processor_customer_id")
		ks.Email = NormalizeEmail(str(doc, "email"))
		ks.Phone = NormalizePhone(str(doc, "phone"))
	}
	return ks
}

// NormalizeEmail lowercases and trims an email. Values without an @ are
// treated as absent, they cannot match anything and would poison the key.
func NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(e, "@") {
		return ""
	}
	return e
}

// NormalizePhone reduces a phone number to E.164-ish form. The digit-count
// rules mirror the upstream systems so keys stay comparable across sources:
// 10 digits get a +1 country code, 11 digits starting with 1 get a plus, and
// anything else non-empty is kept as +digits.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case d == "":
		return ""
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	default:
		return "+" + d
	}
}

func nested(doc map[string]interface{}, key string) map[string]interface{} {
	if doc == nil {
		return nil
	}
	if m, ok := doc[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func str(doc map[string]interface{}, key string) string {
	if doc == nil {
		return ""
	}
	switch v := doc[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		// ids arrive as bare JSON numbers from some sources
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstString(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
