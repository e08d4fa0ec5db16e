package engage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakePolicy struct{ banned string }

func (f fakePolicy) IsViolating(text string) bool {
	return f.banned != "" && strings.Contains(text, f.banned)
}

type fakeHistory struct {
	interacted map[string]bool
	err        error
}

func (f fakeHistory) HasInteracted(ctx context.Context, personaID, authorID string) (bool, error) {
	return f.interacted[authorID], f.err
}

func candidate(id, author string) Candidate {
	return Candidate{
		ContentID:    id,
		AuthorID:     author,
		AuthorHandle: "@" + author,
		Text:         "a sufficiently long piece of text about " + id,
	}
}

func TestGatherMergesInChannelOrderAndDeduplicates(t *testing.T) {
	p := &Pipeline{PersonaID: "luna"}

	sources := []Source{
		{Name: "home", Fetch: func(ctx context.Context) ([]Candidate, error) {
			return []Candidate{candidate("c1", "a1"), candidate("c2", "a2")}, nil
		}},
		{Name: "search", Fetch: func(ctx context.Context) ([]Candidate, error) {
			return []Candidate{candidate("c2", "a2"), candidate("c3", "a3")}, nil
		}},
	}

	got := p.Gather(context.Background(), sources...)

	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].ContentID)
	assert.Equal(t, "c2", got[1].ContentID)
	assert.Equal(t, "c3", got[2].ContentID)
}

func TestGatherIsolatesChannelFailures(t *testing.T) {
	p := &Pipeline{PersonaID: "luna"}

	sources := []Source{
		{Name: "home", Fetch: func(ctx context.Context) ([]Candidate, error) {
			return nil, errors.New("feed unavailable")
		}},
		{Name: "trending", Fetch: func(ctx context.Context) ([]Candidate, error) {
			return []Candidate{candidate("c9", "a9")}, nil
		}},
	}

	got := p.Gather(context.Background(), sources...)

	require.Len(t, got, 1)
	assert.Equal(t, "c9", got[0].ContentID)
}

func TestPrefilterReasons(t *testing.T) {
	p := &Pipeline{
		PersonaID:        "luna",
		ManagedAuthorIDs: map[string]bool{"luna": true, "kai": true},
		Policy:           fakePolicy{banned: "conspiracy"},
		History:          fakeHistory{interacted: map[string]bool{"old-friend": true}},
	}

	short := candidate("c-short", "a1")
	short.Text = "hi"
	banned := candidate("c-banned", "a2")
	banned.Text = "another tired conspiracy theory making the rounds"

	in := []Candidate{
		candidate("c-self", "luna"),
		candidate("c-sibling", "kai"),
		short,
		banned,
		candidate("c-new", "stranger"),
		candidate("c-known", "old-friend"),
	}

	got, err := p.Prefilter(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, len(in))

	assert.True(t, got[0].Filtered)
	assert.Equal(t, "managed author", got[0].FilterReason)
	assert.True(t, got[1].Filtered)
	assert.Equal(t, "managed author", got[1].FilterReason)
	assert.True(t, got[2].Filtered)
	assert.Equal(t, "too short (2 < 12)", got[2].FilterReason)
	assert.True(t, got[3].Filtered)
	assert.Equal(t, "policy violation", got[3].FilterReason)

	assert.False(t, got[4].Filtered)
	assert.True(t, got[4].FirstInteraction)
	assert.False(t, got[5].Filtered)
	assert.False(t, got[5].FirstInteraction)
}

func TestPrefilterIsIdempotent(t *testing.T) {
	p := &Pipeline{
		PersonaID:        "luna",
		ManagedAuthorIDs: map[string]bool{"luna": true},
		Policy:           fakePolicy{banned: "conspiracy"},
		History:          fakeHistory{interacted: map[string]bool{"a2": true}},
	}

	in := []Candidate{
		candidate("c1", "a1"),
		candidate("c2", "a2"),
		candidate("c3", "luna"),
	}

	first, err := p.Prefilter(context.Background(), in)
	require.NoError(t, err)
	second, err := p.Prefilter(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPrefilterPropagatesHistoryErrors(t *testing.T) {
	p := &Pipeline{
		PersonaID: "luna",
		History:   fakeHistory{err: errors.New("store down")},
	}

	_, err := p.Prefilter(context.Background(), []Candidate{candidate("c1", "a1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first-contact lookup")
}

func TestBoundKeepsFirstFifteenSurvivors(t *testing.T) {
	var in []FilteredCandidate
	for i := 0; i < 40; i++ {
		fc := FilteredCandidate{Candidate: candidate(fmt.Sprintf("c%02d", i), "a")}
		fc.Filtered = i%2 == 0
		in = append(in, fc)
	}

	got := Bound(in)
	require.Len(t, got, MaxCandidates)
	assert.Equal(t, "c01", got[0].ContentID)
	for _, fc := range got {
		assert.False(t, fc.Filtered)
	}
}

func TestMaxEngagements(t *testing.T) {
	assert.Equal(t, 2, MaxEngagements(0))
	assert.Equal(t, 4, MaxEngagements(0.5))
	assert.Equal(t, 5, MaxEngagements(1))
}

func TestDowngradeFirstContactNeverEscalates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		action := rapid.SampledFrom([]Action{
			ActionLike, ActionComment, ActionQuote, ActionQuoteAndLike, ActionSkip,
		}).Draw(t, "action")

		got := Downgrade(action, true)
		if got != ActionLike && got != ActionSkip {
			t.Fatalf("first-contact %s downgraded to %s", action, got)
		}

		// Returning authors keep whatever was selected.
		if Downgrade(action, false) != action {
			t.Fatalf("returning-author action %s was changed", action)
		}
	})
}
