package identity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

func strPtr(s string) *string { return &s }

func TestMerge_NilFieldsNeverClobber(t *testing.T) {
	contact := &model.Contact{
		FirstName: "Jane",
		LastName:  "Doe",
		Stage:     model.StageQualified,
	}

	changes := Merge(contact, model.ContactPatch{}, time.Now())
	assert.Empty(t, changes)
	assert.Equal(t, "Jane", contact.FirstName)
	assert.Equal(t, "Doe", contact.LastName)
	assert.Equal(t, model.StageQualified, contact.Stage)
}

func TestMerge_ScalarsLastWriteWins(t *testing.T) {
	contact := &model.Contact{FirstName: "Jane", LastName: "Doe"}

	changes := Merge(contact, model.ContactPatch{
		FirstName:     strPtr("Janet"),
		FunnelVariant: strPtr("webinar-b"),
	}, time.Now())

	assert.Equal(t, "Janet", contact.FirstName)
	assert.Equal(t, "Doe", contact.LastName)
	assert.Equal(t, "webinar-b", contact.FunnelVariant)
	assert.ElementsMatch(t, []model.FieldChange{
		{Field: "first_name", Old: "Jane", New: "Janet"},
		{Field: "funnel_variant", Old: "", New: "webinar-b"},
	}, changes)
}

func TestMerge_UnchangedScalarProducesNoDiff(t *testing.T) {
	contact := &model.Contact{FirstName: "Jane"}

	changes := Merge(contact, model.ContactPatch{FirstName: strPtr("Jane")}, time.Now())
	assert.Empty(t, changes)
}

func TestMerge_StageAdvanceStampsTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	contact := &model.Contact{Stage: model.StageNew}

	changes := Merge(contact, model.ContactPatch{Stage: model.StageMeetingBooked}, now)

	assert.Equal(t, model.StageMeetingBooked, contact.Stage)
	require.NotNil(t, contact.MeetingBookedAt)
	assert.Equal(t, now, *contact.MeetingBookedAt)
	require.Len(t, changes, 2)
	assert.Equal(t, "stage", changes[0].Field)
	assert.Equal(t, "meeting_booked_at", changes[1].Field)
}

func TestMerge_StageTimestampFirstWriteWins(t *testing.T) {
	first := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	contact := &model.Contact{
		Stage:       model.StageNew,
		QualifiedAt: &first,
	}

	// a contact corrected back to new re-qualifying keeps the original stamp
	changes := Merge(contact, model.ContactPatch{Stage: model.StageQualified}, time.Now())

	assert.Equal(t, model.StageQualified, contact.Stage)
	assert.Equal(t, first, *contact.QualifiedAt)
	require.Len(t, changes, 1)
	assert.Equal(t, "stage", changes[0].Field)
}

func TestMerge_RegressionRejectedSilently(t *testing.T) {
	contact := &model.Contact{Stage: model.StageMeetingHeld}

	changes := Merge(contact, model.ContactPatch{Stage: model.StageQualified}, time.Now())
	assert.Empty(t, changes)
	assert.Equal(t, model.StageMeetingHeld, contact.Stage)
	assert.Nil(t, contact.QualifiedAt)
}

func TestMerge_AttributesLastWriteWins(t *testing.T) {
	contact := &model.Contact{
		Attributes: datatypes.JSON(`{"utm_source":"facebook","tag":"vip"}`),
	}

	changes := Merge(contact, model.ContactPatch{
		Attributes: map[string]interface{}{
			"utm_source": "instagram",
			"quiz_score": float64(85),
		},
	}, time.Now())

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal(contact.Attributes, &merged))
	assert.Equal(t, "instagram", merged["utm_source"])
	assert.Equal(t, "vip", merged["tag"])
	assert.Equal(t, float64(85), merged["quiz_score"])
	assert.Len(t, changes, 2)
}

func TestMerge_AttributeEqualValueNoDiff(t *testing.T) {
	contact := &model.Contact{
		Attributes: datatypes.JSON(`{"utm_source":"facebook"}`),
	}

	changes := Merge(contact, model.ContactPatch{
		Attributes: map[string]interface{}{"utm_source": "facebook"},
	}, time.Now())
	assert.Empty(t, changes)
}

func TestMerge_NilAttributeValueIgnored(t *testing.T) {
	contact := &model.Contact{
		Attributes: datatypes.JSON(`{"tag":"vip"}`),
	}

	changes := Merge(contact, model.ContactPatch{
		Attributes: map[string]interface{}{"tag": nil},
	}, time.Now())
	assert.Empty(t, changes)

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal(contact.Attributes, &merged))
	assert.Equal(t, "vip", merged["tag"])
}

func TestForceStage_BypassesGuard(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	contact := &model.Contact{Stage: model.StageDisqualified}

	changes := ForceStage(contact, model.StageQualified, now)

	assert.Equal(t, model.StageQualified, contact.Stage)
	require.NotNil(t, contact.QualifiedAt)
	require.Len(t, changes, 2)
	assert.Equal(t, "stage", changes[0].Field)
}

func TestForceStage_SameStageNoOp(t *testing.T) {
	contact := &model.Contact{Stage: model.StageQualified}

	changes := ForceStage(contact, model.StageQualified, time.Now())
	assert.Empty(t, changes)
}

func TestForceStage_TimestampStillFirstWriteWins(t *testing.T) {
	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	contact := &model.Contact{
		Stage:           model.StagePurchased,
		MeetingBookedAt: &first,
	}

	changes := ForceStage(contact, model.StageMeetingBooked, time.Now())

	assert.Equal(t, model.StageMeetingBooked, contact.Stage)
	assert.Equal(t, first, *contact.MeetingBookedAt)
	require.Len(t, changes, 1)
}

func TestBackfill_FillsOnlyAbsentKeys(t *testing.T) {
	contact := &model.Contact{
		PlatformSubscriberID: strPtr("912345678"),
		EmailPrimary:         strPtr("jane@example.com"),
	}
	keys := KeySet{
		PlatformSubscriberID: "999999999",
		CrmID:                "ghl-abc123",
		Email:                "other@example.com",
		Phone:                "+15551234567",
	}

	changes := Backfill(contact, keys)

	assert.Equal(t, "912345678", *contact.PlatformSubscriberID)
	assert.Equal(t, "jane@example.com", *contact.EmailPrimary)
	require.NotNil(t, contact.CrmID)
	assert.Equal(t, "ghl-abc123", *contact.CrmID)
	require.NotNil(t, contact.Phone)
	assert.Equal(t, "+15551234567", *contact.Phone)
	assert.ElementsMatch(t, []model.FieldChange{
		{Field: "crm_id", Old: nil, New: "ghl-abc123"},
		{Field: "phone", Old: nil, New: "+15551234567"},
	}, changes)
}

func TestBackfill_EmptySetNoOp(t *testing.T) {
	contact := &model.Contact{CrmID: strPtr("ghl-abc123")}

	changes := Backfill(contact, KeySet{})
	assert.Empty(t, changes)
}
