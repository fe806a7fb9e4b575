package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageRank(t *testing.T) {
	ordered := []Stage{
		StageNew,
		StageQualified,
		StageLinkSent,
		StageFormSubmitted,
		StageMeetingBooked,
		StageMeetingHeld,
		StagePackageSent,
		StagePurchased,
	}

	prev := -1
	for _, s := range ordered {
		r, ok := s.Rank()
		assert.True(t, ok, "stage %s should be ranked", s)
		assert.Greater(t, r, prev, "stage %s should rank above its predecessor", s)
		prev = r
	}
}

func TestStageRank_SideStatesUnranked(t *testing.T) {
	for _, s := range []Stage{StageDisqualified, StageArchived} {
		_, ok := s.Rank()
		assert.False(t, ok, "side state %s should not be ranked", s)
		assert.True(t, s.IsTerminalSide())
		assert.True(t, s.Valid())
	}
}

func TestStageValid(t *testing.T) {
	assert.True(t, StageNew.Valid())
	assert.True(t, StagePurchased.Valid())
	assert.False(t, Stage("vip").Valid())
	assert.False(t, Stage("").Valid())
}
