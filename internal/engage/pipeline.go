// Package engage discovers and filters the external content a persona may
// act on during an engagement session. Candidates are ephemeral: discovered
// per run, deduplicated, pre-filtered, bounded, and never persisted as-is.
package engage

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxCandidates bounds the candidate set handed to downstream selection.
const MaxCandidates = 15

// MinTextLen drops trivially short items during pre-filtering.
const MinTextLen = 12

// Candidate is one discovered content item.
type Candidate struct {
	ContentID    string
	AuthorID     string
	AuthorHandle string
	Text         string
}

// FilteredCandidate is a candidate annotated by the pre-filter. Filtered
// candidates keep their reason for auditability; survivors carry their
// first-contact classification.
type FilteredCandidate struct {
	Candidate
	Filtered         bool
	FilterReason     string
	FirstInteraction bool
}

// Action is what a persona does with one candidate.
type Action string

const (
	ActionLike         Action = "like"
	ActionComment      Action = "comment"
	ActionQuote        Action = "quote"
	ActionQuoteAndLike Action = "quote_and_like"
	ActionSkip         Action = "skip"
)

// Source is one discovery channel (home feed, topic search, trending
// fallback). Each channel is independently fallible.
type Source struct {
	Name  string
	Fetch func(ctx context.Context) ([]Candidate, error)
}

// PolicyChecker is the content-policy gate applied to discovered items.
type PolicyChecker interface {
	IsViolating(text string) bool
}

// History answers first-contact classification from durable interaction
// records.
type History interface {
	HasInteracted(ctx context.Context, personaID, authorID string) (bool, error)
}

// Pipeline discovers, deduplicates, pre-filters and bounds candidates for
// one persona.
type Pipeline struct {
	PersonaID string

	// ManagedAuthorIDs are this deployment's own persona account ids;
	// content they author is never engaged.
	ManagedAuthorIDs map[string]bool

	Policy  PolicyChecker
	History History
	Logger  *zap.Logger
}

// Gather fetches all discovery channels concurrently, isolating failures:
// a failed channel contributes nothing and the pipeline proceeds with
// whatever channels succeeded. Results are merged in channel order and
// deduplicated by content id, keeping the first occurrence.
func (p *Pipeline) Gather(ctx context.Context, sources ...Source) []Candidate {
	results := make([][]Candidate, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			items, err := src.Fetch(gctx)
			if err != nil {
				p.logger().Warn("discovery channel failed",
					zap.String("persona_id", p.PersonaID),
					zap.String("channel", src.Name),
					zap.Error(err),
				)
				return nil // isolated: never cancels the sibling channels
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var merged []Candidate
	for _, items := range results {
		for _, c := range items {
			if c.ContentID == "" || seen[c.ContentID] {
				continue
			}
			seen[c.ContentID] = true
			merged = append(merged, c)
		}
	}
	return merged
}

// Prefilter annotates each candidate. The result is deterministic for a
// given input list: running it twice yields the same filter flags and
// reasons.
func (p *Pipeline) Prefilter(ctx context.Context, candidates []Candidate) ([]FilteredCandidate, error) {
	out := make([]FilteredCandidate, 0, len(candidates))
	for _, c := range candidates {
		fc := FilteredCandidate{Candidate: c}

		switch {
		case c.AuthorID == p.PersonaID || p.ManagedAuthorIDs[c.AuthorID]:
			fc.Filtered = true
			fc.FilterReason = "managed author"
		case len(c.Text) < MinTextLen:
			fc.Filtered = true
			fc.FilterReason = fmt.Sprintf("too short (%d < %d)", len(c.Text), MinTextLen)
		case p.Policy != nil && p.Policy.IsViolating(c.Text):
			fc.Filtered = true
			fc.FilterReason = "policy violation"
		}

		if !fc.Filtered && p.History != nil {
			interacted, err := p.History.HasInteracted(ctx, p.PersonaID, c.AuthorID)
			if err != nil {
				return nil, fmt.Errorf("first-contact lookup: %w", err)
			}
			fc.FirstInteraction = !interacted
		}
		out = append(out, fc)
	}
	return out, nil
}

// Bound keeps the first MaxCandidates unfiltered candidates.
func Bound(candidates []FilteredCandidate) []FilteredCandidate {
	out := make([]FilteredCandidate, 0, MaxCandidates)
	for _, c := range candidates {
		if c.Filtered {
			continue
		}
		out = append(out, c)
		if len(out) == MaxCandidates {
			break
		}
	}
	return out
}

// MaxEngagements computes the session action budget from the weighted trait
// score: round(2 + 3*score).
func MaxEngagements(weightedTraitScore float64) int {
	return int(math.Round(2 + 3*weightedTraitScore))
}

// Downgrade enforces the first-contact policy: an unsolicited author only
// ever receives a low-friction action. Comment, quote and quote_and_like
// all collapse to like; like and skip pass through.
func Downgrade(action Action, firstInteraction bool) Action {
	if !firstInteraction {
		return action
	}
	switch action {
	case ActionComment, ActionQuote, ActionQuoteAndLike:
		return ActionLike
	default:
		return action
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}
