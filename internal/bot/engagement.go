package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/petrijr/flock/internal/engage"
	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/social"
	"github.com/petrijr/flock/internal/textgen"
	"github.com/petrijr/flock/pkg/api"
)

// engagedAuthorWindow is how long an author stays off-limits after the
// persona engaged them.
const engagedAuthorWindow = 24 * time.Hour

// engagementState flows between the engagement steps.
type engagementState struct {
	Trigger api.Trigger

	Candidates []engage.FilteredCandidate
	Picks      []textgen.EngagementPick

	Actions []api.ActionTaken
}

func (b *Bot) engagementDefinition() api.RunDefinition {
	return api.RunDefinition{
		Mode: api.ModeEngagement,
		Steps: []api.StepDefinition{
			{Name: "discover", Fn: b.engagementDiscover},
			{Name: "select", Fn: b.engagementSelect},
			{Name: "execute", Fn: b.engagementExecute},
		},
	}
}

// engagementDiscover gathers candidates from the three discovery channels,
// pre-filters them and bounds the survivors. Authors engaged within the last
// 24 hours are dropped before bounding.
func (b *Bot) engagementDiscover(ctx context.Context, input any) (any, error) {
	trig, err := asTrigger(input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(trig.PersonaID)
	if err != nil {
		return nil, err
	}

	platform := b.cfg.Platform(p.ID)
	pipeline := &engage.Pipeline{
		PersonaID:        p.ID,
		ManagedAuthorIDs: b.managed,
		Policy:           b.cfg.Policy,
		History:          b.cfg.Store,
		Logger:           b.cfg.Logger,
	}

	sources := []engage.Source{
		{Name: "home_feed", Fetch: func(ctx context.Context) ([]engage.Candidate, error) {
			items, err := platform.HomeFeed(ctx, 25)
			return toCandidates(items), err
		}},
		{Name: "topic_search", Fetch: func(ctx context.Context) ([]engage.Candidate, error) {
			if len(p.Topics) == 0 {
				return nil, nil
			}
			topic := p.Topics[b.intn(len(p.Topics))]
			items, err := platform.SearchPosts(ctx, topic, 25)
			return toCandidates(items), err
		}},
		{Name: "trending", Fetch: func(ctx context.Context) ([]engage.Candidate, error) {
			items, err := platform.Trending(ctx, 10)
			return toCandidates(items), err
		}},
	}

	gathered := pipeline.Gather(ctx, sources...)
	filtered, err := pipeline.Prefilter(ctx, gathered)
	if err != nil {
		return nil, fmt.Errorf("prefilter: %w", err)
	}

	recent, err := b.cfg.Store.EngagedAuthorsSince(ctx, p.ID, b.cfg.Now().Add(-engagedAuthorWindow))
	if err != nil {
		return nil, fmt.Errorf("engaged authors: %w", err)
	}
	recentSet := make(map[string]bool, len(recent))
	for _, id := range recent {
		recentSet[id] = true
	}
	for i := range filtered {
		if !filtered[i].Filtered && recentSet[filtered[i].AuthorID] {
			filtered[i].Filtered = true
			filtered[i].FilterReason = "engaged recently"
		}
	}

	st := engagementState{Trigger: trig, Candidates: engage.Bound(filtered)}
	if len(st.Candidates) == 0 {
		return nil, api.NewSkip("no candidates")
	}
	return st, nil
}

func (b *Bot) engagementSelect(ctx context.Context, input any) (any, error) {
	st, err := stateAs[engagementState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	candidates := make([]textgen.EngagementCandidate, 0, len(st.Candidates))
	for _, c := range st.Candidates {
		candidates = append(candidates, textgen.EngagementCandidate{
			ContentID:        c.ContentID,
			AuthorHandle:     c.AuthorHandle,
			Text:             c.Text,
			FirstInteraction: c.FirstInteraction,
		})
	}

	picks, err := b.cfg.Generator.SelectEngagements(ctx, textgen.EngagementRequest{
		PersonaID:  p.ID,
		Handle:     p.Handle,
		Bio:        p.Bio,
		Topics:     p.Topics,
		MaxActions: p.EngagementBudget(),
		Candidates: candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("select engagements: %w", err)
	}

	// The budget binds even if the generator over-selects.
	if budget := p.EngagementBudget(); len(picks) > budget {
		picks = picks[:budget]
	}
	st.Picks = picks
	if len(st.Picks) == 0 {
		return nil, api.NewSkip("nothing selected")
	}
	return st, nil
}

// engagementExecute performs the selected actions, one quota check per
// platform mutation. A quota denial mid-session keeps the actions already
// taken and stops.
func (b *Bot) engagementExecute(ctx context.Context, input any) (any, error) {
	st, err := stateAs[engagementState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]engage.FilteredCandidate, len(st.Candidates))
	for _, c := range st.Candidates {
		byID[c.ContentID] = c
	}

	platform := b.cfg.Platform(p.ID)
	for _, pick := range st.Picks {
		cand, ok := byID[pick.ContentID]
		if !ok {
			b.cfg.Logger.Warn("pick references unknown candidate",
				zap.String("persona_id", p.ID),
				zap.String("content_id", pick.ContentID))
			continue
		}

		// Re-check the candidate itself right before acting; the prefilter
		// verdict may be stale by execution time.
		if b.cfg.Policy != nil && b.cfg.Policy.IsViolating(cand.Text) {
			b.logActivity(ctx, persistence.ActivityEntry{
				PersonaID: p.ID,
				Type:      "engagement_skipped",
				Detail:    "policy violation (inbound)",
				Ref:       cand.ContentID,
			})
			continue
		}

		action := engage.Downgrade(engage.Action(pick.Action), cand.FirstInteraction)
		if action == engage.ActionSkip {
			continue
		}
		comment := strings.TrimSpace(pick.Comment)
		if (action == engage.ActionComment || action == engage.ActionQuote ||
			action == engage.ActionQuoteAndLike) && comment == "" {
			action = engage.ActionLike
		}
		if comment != "" && b.cfg.Policy != nil && b.cfg.Policy.IsViolating(comment) {
			b.logActivity(ctx, persistence.ActivityEntry{
				PersonaID: p.ID,
				Type:      "engagement_skipped",
				Detail:    "policy violation (outbound)",
				Ref:       cand.ContentID,
			})
			continue
		}

		taken, stop := b.performEngagement(ctx, platform, p.ID, cand, action, comment)
		st.Actions = append(st.Actions, taken...)
		if len(taken) > 0 {
			b.recordEngagement(ctx, p.ID, cand.AuthorID, cand.ContentID, string(action))
		}
		if stop {
			break
		}
	}

	return api.RunResult{
		PersonaID: p.ID,
		Mode:      api.ModeEngagement,
		Actions:   st.Actions,
	}, nil
}

// performEngagement executes one action against one candidate. The returned
// stop flag is set when the quota governor denies, ending the session.
func (b *Bot) performEngagement(ctx context.Context, platform Platform, personaID string,
	cand engage.FilteredCandidate, action engage.Action, comment string) ([]api.ActionTaken, bool) {

	var taken []api.ActionTaken

	mutate := func(typ string, fn func() (string, error)) bool {
		ok, reason := b.governor(personaID).CanPost(ctx)
		if !ok {
			b.cfg.Logger.Info("engagement stopped by quota",
				zap.String("persona_id", personaID), zap.String("reason", reason))
			return false
		}
		contentID, err := fn()
		if err != nil {
			b.cfg.Logger.Warn("engagement action failed",
				zap.String("persona_id", personaID),
				zap.String("action", typ),
				zap.String("target", cand.ContentID),
				zap.Error(err))
			return true // failed action does not end the session
		}
		b.governor(personaID).RecordPost(ctx)
		taken = append(taken, api.ActionTaken{
			Type:      typ,
			ContentID: contentID,
			TargetID:  cand.ContentID,
		})
		b.logActivity(ctx, persistence.ActivityEntry{
			PersonaID: personaID,
			Type:      typ,
			Detail:    "by @" + cand.AuthorHandle,
			Ref:       cand.ContentID,
		})
		return true
	}

	like := func() bool {
		return mutate("like", func() (string, error) {
			return "", platform.Like(ctx, cand.ContentID)
		})
	}

	switch action {
	case engage.ActionLike:
		if !like() {
			return taken, true
		}
	case engage.ActionComment:
		if !mutate("reply", func() (string, error) {
			post, err := platform.Reply(ctx, comment, cand.ContentID)
			return post.ID, err
		}) {
			return taken, true
		}
	case engage.ActionQuote:
		if !mutate("quote", func() (string, error) {
			post, err := platform.Quote(ctx, comment, cand.ContentID)
			return post.ID, err
		}) {
			return taken, true
		}
	case engage.ActionQuoteAndLike:
		if !mutate("quote", func() (string, error) {
			post, err := platform.Quote(ctx, comment, cand.ContentID)
			return post.ID, err
		}) {
			return taken, true
		}
		if !like() {
			return taken, true
		}
	}
	return taken, false
}

func toCandidates(items []social.FeedItem) []engage.Candidate {
	out := make([]engage.Candidate, 0, len(items))
	for _, it := range items {
		out = append(out, engage.Candidate{
			ContentID:    it.ID,
			AuthorID:     it.AuthorID,
			AuthorHandle: it.AuthorHandle,
			Text:         it.Text,
		})
	}
	return out
}
