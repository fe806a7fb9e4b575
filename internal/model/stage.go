package model

// Stage is a contact's position in the sales funnel.
type Stage string

const (
	StageNew           Stage = "new"
	StageQualified     Stage = "qualified"
	StageLinkSent      Stage = "link_sent"
	StageFormSubmitted Stage = "form_submitted"
	StageMeetingBooked Stage = "meeting_booked"
	StageMeetingHeld   Stage = "meeting_held"
	StagePackageSent   Stage = "package_sent"
	StagePurchased     Stage = "purchased"

	// Side states, reachable from any funnel position.
	StageDisqualified Stage = "disqualified"
	StageArchived     Stage = "archived"
)

// stageRank orders the linear funnel. Side states are not ranked.
var stageRank = map[Stage]int{
	StageNew:           0,
	StageQualified:     1,
	StageLinkSent:      2,
	StageFormSubmitted: 3,
	StageMeetingBooked: 4,
	StageMeetingHeld:   5,
	StagePackageSent:   6,
	StagePurchased:     7,
}

// Rank returns the stage's position in the linear funnel and whether the
// stage is part of it. Side states report false.
func (s Stage) Rank() (int, bool) {
	r, ok := stageRank[s]
	return r, ok
}

// IsTerminalSide reports whether the stage is one of the side states that sit
// outside the linear funnel.
func (s Stage) IsTerminalSide() bool {
	return s == StageDisqualified || s == StageArchived
}

// Valid reports whether the stage is a known value.
func (s Stage) Valid() bool {
	if _, ok := stageRank[s]; ok {
		return true
	}
	return s.IsTerminalSide()
}
