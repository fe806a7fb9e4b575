package identity

import "gitlab.com/leadops/api/funnel-events-processor/internal/model"

// Advance reports whether a proposed stage transition is allowed. The funnel
// only moves forward: equal or earlier proposals are rejected, which makes
// late and out-of-order deliveries harmless. The side states (disqualified,
// archived) are reachable from anywhere except themselves.
func Advance(current, proposed model.Stage) bool {
	if !proposed.Valid() || proposed == current {
		return false
	}
	if proposed.IsTerminalSide() {
		return true
	}
	// contacts parked in a side state only leave via operator correction
	if current.IsTerminalSide() {
		return false
	}
	curRank, ok := current.Rank()
	if !ok {
		return false
	}
	propRank, _ := proposed.Rank()
	return propRank > curRank
}
