package identity

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"gitlab.com/leadops/api/funnel-events-processor/internal/apperrors"
	"gitlab.com/leadops/api/funnel-events-processor/internal/model"
	"gitlab.com/leadops/api/funnel-events-processor/pkg/logger"
)

// ContactLookup is the slice of the contact repository the resolver needs.
type ContactLookup interface {
	FindByKey(ctx context.Context, column string, value string) ([]model.Contact, error)
}

// Resolution is the outcome of resolving one key set against the store.
type Resolution struct {
	Outcome model.ResolutionOutcome

	// Contact is set when Outcome is matched.
	Contact *model.Contact
	// MatchedKey is the most specific key that attributed the match.
	MatchedKey KeyKind

	// CandidateIDs holds every distinct contact id seen when Outcome is
	// ambiguous, sorted for stable journaling.
	CandidateIDs []string
	// KeyCollision flags the degenerate case of a single key matching more
	// than one row, which the unique indexes should make impossible.
	KeyCollision bool
}

// Resolver resolves identity key sets to canonical contacts.
type Resolver struct {
	lookup ContactLookup
}

// NewResolver creates a Resolver backed by the given contact lookup.
func NewResolver(lookup ContactLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve queries every provided key and classifies the result. All keys are
// scanned, not just the first hit, so an event whose keys straddle two
// distinct contacts is caught as ambiguous instead of silently attributed to
// the higher-priority one. The most specific key that hit attributes the
// match. Zero distinct contacts means the caller should create one.
func (r *Resolver) Resolve(ctx context.Context, keys KeySet) (*Resolution, error) {
	log := logger.FromContext(ctx)

	if keys.IsEmpty() {
		return nil, apperrors.NewFatal(apperrors.ErrMalformedEvent, "no identity keys provided")
	}

	byID := map[string]*model.Contact{}
	matchedKeyByID := map[string]KeyKind{}
	collision := false

	for _, kind := range KeyPriority {
		value := keys.Get(kind)
		if value == "" {
			continue
		}
		contacts, err := r.lookup.FindByKey(ctx, string(kind), value)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, apperrors.NewRetryable(err, "failed to look up contacts by %s", kind)
		}
		if len(contacts) > 1 {
			collision = true
			log.Warn("single identity key matched multiple contacts",
				zap.String("key", string(kind)),
				zap.Int("matches", len(contacts)))
		}
		for i := range contacts {
			c := contacts[i]
			if _, seen := byID[c.ID]; !seen {
				byID[c.ID] = &c
				matchedKeyByID[c.ID] = kind
			}
		}
	}

	switch {
	case len(byID) == 0:
		return &Resolution{Outcome: model.OutcomeCreated}, nil
	case len(byID) == 1 && !collision:
		for id, c := range byID {
			return &Resolution{
				Outcome:    model.OutcomeMatched,
				Contact:    c,
				MatchedKey: matchedKeyByID[id],
			}, nil
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	log.Info("identity keys resolve to multiple contacts",
		zap.Strings("candidate_ids", ids),
		zap.Bool("key_collision", collision))
	return &Resolution{
		Outcome:      model.OutcomeAmbiguous,
		CandidateIDs: ids,
		KeyCollision: collision,
	}, nil
}
