package identity

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
)

// Merge reconciles an event's patch into an existing contact in place and
// returns the field-level diff. Rules:
//   - absent (nil) incoming fields never clobber stored values
//   - present scalars are last-write-wins
//   - stage advancement goes through Advance; the matching stage timestamp is
//     first-write-wins
//   - attribute map keys are last-write-wins, other keys untouched
func Merge(c *model.Contact, patch model.ContactPatch, now time.Time) []model.FieldChange {
	var changes []model.FieldChange

	mergeStr := func(field string, dst *string, in *string) {
		if in == nil || *in == *dst {
			return
		}
		changes = append(changes, model.FieldChange{Field: field, Old: *dst, New: *in})
		*dst = *in
	}
	mergeStr("first_name", &c.FirstName, patch.FirstName)
	mergeStr("last_name", &c.LastName, patch.LastName)
	mergeStr("funnel_variant", &c.FunnelVariant, patch.FunnelVariant)

	if patch.Stage != "" {
		changes = append(changes, advanceStage(c, patch.Stage, now)...)
	}

	if len(patch.Attributes) > 0 {
		changes = append(changes, mergeAttributes(c, patch.Attributes)...)
	}

	return changes
}

// advanceStage applies the progression guard and, on acceptance, stamps the
// stage's first-write-wins timestamp.
func advanceStage(c *model.Contact, proposed model.Stage, now time.Time) []model.FieldChange {
	if !Advance(c.Stage, proposed) {
		return nil
	}
	var changes []model.FieldChange
	changes = append(changes, model.FieldChange{Field: "stage", Old: string(c.Stage), New: string(proposed)})
	c.Stage = proposed
	changes = append(changes, stampStage(c, proposed, now)...)
	return changes
}

// ForceStage sets the stage bypassing the guard, for operator corrections.
// The timestamp stays first-write-wins even on the correction path.
func ForceStage(c *model.Contact, stage model.Stage, now time.Time) []model.FieldChange {
	if stage == c.Stage {
		return nil
	}
	changes := []model.FieldChange{{Field: "stage", Old: string(c.Stage), New: string(stage)}}
	c.Stage = stage
	changes = append(changes, stampStage(c, stage, now)...)
	return changes
}

func stampStage(c *model.Contact, stage model.Stage, now time.Time) []model.FieldChange {
	ts := c.StageTimestamp(stage)
	if ts == nil || *ts != nil {
		return nil
	}
	t := now
	*ts = &t
	return []model.FieldChange{{
		Field: model.StageTimestampColumn(stage),
		Old:   nil,
		New:   t,
	}}
}

func mergeAttributes(c *model.Contact, in map[string]interface{}) []model.FieldChange {
	existing := map[string]interface{}{}
	if len(c.Attributes) > 0 {
		// on unmarshal failure start fresh rather than lose the update
		_ = json.Unmarshal(c.Attributes, &existing)
	}

	var changes []model.FieldChange
	for k, v := range in {
		if v == nil {
			continue
		}
		old, had := existing[k]
		if had && jsonEqual(old, v) {
			continue
		}
		changes = append(changes, model.FieldChange{Field: "attributes." + k, Old: old, New: v})
		existing[k] = v
	}
	if len(changes) == 0 {
		return nil
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return nil
	}
	c.Attributes = datatypes.JSON(merged)
	return changes
}

func jsonEqual(a, b interface{}) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// Backfill copies every key present in the set but absent on the contact,
// returning the diff. Keys already set on the contact are never overwritten,
// even when the incoming value differs.
func Backfill(c *model.Contact, keys KeySet) []model.FieldChange {
	var changes []model.FieldChange
	for _, kind := range KeyPriority {
		v := keys.Get(kind)
		dst := contactKeyField(c, kind)
		if v == "" || *dst != nil {
			continue
		}
		val := v
		*dst = &val
		changes = append(changes, model.FieldChange{Field: string(kind), Old: nil, New: v})
	}
	return changes
}
