package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

func TestExtractKeys_Manychat(t *testing.T) {
	payload := []byte(`{
		"subscriber": {
			"id": "912345678",
			"email": "Jane.Doe@Example.COM ",
			"whatsapp_phone": "(555) 123-4567"
		}
	}`)

	ks := ExtractKeys(model.SourceManychat, payload)
	assert.Equal(t, "912345678", ks.PlatformSubscriberID)
	assert.Equal(t, "jane.doe@example.com", ks.Email)
	assert.Equal(t, "+15551234567", ks.Phone)
	assert.Empty(t, ks.CrmID)
	assert.Empty(t, ks.ProcessorCustomerID)
}

func TestExtractKeys_ManychatFlatFallbacks(t *testing.T) {
	payload := []byte(`{
		"subscriber_id": 912345678,
		"MCB_SEARCH_EMAIL": "lead@example.com",
		"phone": "+1 555 987 6543"
	}`)

	ks := ExtractKeys(model.SourceManychat, payload)
	assert.Equal(t, "912345678", ks.PlatformSubscriberID)
	assert.Equal(t, "lead@example.com", ks.Email)
	assert.Equal(t, "+15559876543", ks.Phone)
}

func TestExtractKeys_Crm(t *testing.T) {
	payload := []byte(`{
		"contact_id": "ghl-abc123",
		"email": "lead@example.com",
		"customData": {
			"MC_ID": "912345678"
		}
	}`)

	ks := ExtractKeys(model.SourceCrm, payload)
	assert.Equal(t, "ghl-abc123", ks.CrmID)
	assert.Equal(t, "912345678", ks.PlatformSubscriberID)
	assert.Equal(t, "lead@example.com", ks.Email)
}

func TestExtractKeys_Stripe(t *testing.T) {
	payload := []byte(`{
		"data": {
			"object": {
				"customer": "cus_P1x2y3",
				"customer_details": {
					"email": "BUYER@example.com",
					"phone": "+15551234567"
				},
				"metadata": {
					"mc_id": "912345678"
				}
			}
		}
	}`)

	ks := ExtractKeys(model.SourceStripe, payload)
	assert.Equal(t, "cus_P1x2y3", ks.ProcessorCustomerID)
	assert.Equal(t, "912345678", ks.PlatformSubscriberID)
	assert.Equal(t, "buyer@example.com", ks.Email)
	assert.Equal(t, "+15551234567", ks.Phone)
}

func TestExtractKeys_Denefits(t *testing.T) {
	payload := []byte(`{
		"customer": {
			"customer_id": 48210,
			"email": "patient@example.com",
			"phone": "555-123-4567"
		}
	}`)

	ks := ExtractKeys(model.SourceDenefits, payload)
	assert.Equal(t, "48210", ks.ProcessorCustomerID)
	assert.Equal(t, "patient@example.com", ks.Email)
	assert.Equal(t, "+15551234567", ks.Phone)
}

func TestExtractKeys_Generic(t *testing.T) {
	payload := []byte(`{
		"platform_subscriber_id": "912345678",
		"crm_id": "ghl-abc123",
		"processor_customer_id": "cus_P1x2y3",
		"email": "lead@example.com",
		"phone": "5551234567"
	}`)

	ks := ExtractKeys(model.SourceGeneric, payload)
	assert.Equal(t, []KeyKind{
		KeyPlatformSubscriberID,
		KeyCrmID,
		KeyProcessorCustomerID,
		KeyEmail,
		KeyPhone,
	}, ks.Provided())
}

func TestExtractKeys_MalformedPayload(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
	}{
		{name: "InvalidJSON", payload: []byte(`{not json`)},
		{name: "JSONNull", payload: []byte(`null`)},
		{name: "EmptyObject", payload: []byte(`{}`)},
		{name: "ArrayPayload", payload: []byte(`[1,2,3]`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ks := ExtractKeys(model.SourceManychat, tc.payload)
			assert.True(t, ks.IsEmpty())
		})
	}
}

func TestExtractKeys_NonStringIdentityFieldsIgnored(t *testing.T) {
	payload := []byte(`{
		"crm_id": {"nested": "object"},
		"email": true,
		"phone": ["5551234567"]
	}`)

	ks := ExtractKeys(model.SourceGeneric, payload)
	assert.True(t, ks.IsEmpty())
}

func TestNormalizeEmail(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Lowercases", input: "Jane.Doe@Example.COM", expected: "jane.doe@example.com"},
		{name: "TrimsWhitespace", input: "  lead@example.com  ", expected: "lead@example.com"},
		{name: "MissingAtIsAbsent", input: "not-an-email", expected: ""},
		{name: "Empty", input: "", expected: ""},
		{name: "WhitespaceOnly", input: "   ", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeEmail(tc.input))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "TenDigitsGetsCountryCode", input: "5551234567", expected: "+15551234567"},
		{name: "FormattedTenDigits", input: "(555) 123-4567", expected: "+15551234567"},
		{name: "ElevenDigitsLeadingOne", input: "15551234567", expected: "+15551234567"},
		{name: "AlreadyE164", input: "+15551234567", expected: "+15551234567"},
		{name: "InternationalKeptAsIs", input: "+44 20 7946 0958", expected: "+442079460958"},
		{name: "ShortNumberKept", input: "12345", expected: "+12345"},
		{name: "Empty", input: "", expected: ""},
		{name: "NoDigits", input: "call me", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizePhone(tc.input))
		})
	}
}
