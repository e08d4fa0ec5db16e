// Package bot wires the persona workflows: four mode definitions (proactive,
// reactive, interaction, engagement) built from the rhythm engine, the quota
// governors, the candidate pipeline, the content-policy gate and the two
// external clients. Each mode is a fixed step sequence registered with the
// run engine; all durable writes go through the persistence store.
package bot

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/persona"
	"github.com/petrijr/flock/internal/quota"
	"github.com/petrijr/flock/internal/rhythm"
	"github.com/petrijr/flock/internal/social"
	"github.com/petrijr/flock/internal/textgen"
	"github.com/petrijr/flock/pkg/api"
	"github.com/petrijr/flock/pkg/worker"
)

func init() {
	gob.Register(proactiveState{})
	gob.Register(reactiveState{})
	gob.Register(interactionState{})
	gob.Register(engagementState{})
}

// mutatingActivityTypes are the activity-log types that count against the
// quota windows when a governor reseeds after a restart.
var mutatingActivityTypes = []string{"post", "reply", "quote", "like", "interaction"}

// Platform is the platform surface the workflows consume. *social.Client
// implements it; tests substitute fakes.
type Platform interface {
	Publish(ctx context.Context, text string, media []byte) (social.Post, error)
	Reply(ctx context.Context, text, replyTo string) (social.Post, error)
	Quote(ctx context.Context, text, targetID string) (social.Post, error)
	Like(ctx context.Context, targetID string) error

	RecentOwnContent(ctx context.Context, limit int) ([]social.FeedItem, error)
	Thread(ctx context.Context, rootID string) ([]social.FeedItem, error)
	AuthorFeed(ctx context.Context, authorHandle string, limit int) ([]social.FeedItem, error)
	HomeFeed(ctx context.Context, limit int) ([]social.FeedItem, error)
	SearchPosts(ctx context.Context, query string, limit int) ([]social.FeedItem, error)
	Trending(ctx context.Context, limit int) ([]social.FeedItem, error)
}

// Generator is the content-generation surface. *textgen.Client implements it.
type Generator interface {
	GeneratePost(ctx context.Context, req textgen.PostRequest) (textgen.PostDraft, error)
	GenerateReply(ctx context.Context, req textgen.ReplyRequest) (textgen.ReplyDecision, error)
	DecideInteraction(ctx context.Context, req textgen.InteractionRequest) (textgen.InteractionDecision, error)
	SelectEngagements(ctx context.Context, req textgen.EngagementRequest) ([]textgen.EngagementPick, error)
	GenerateImage(ctx context.Context, personaID, prompt string) ([]byte, error)
}

// PolicyChecker is the outbound/inbound content gate.
type PolicyChecker interface {
	IsViolating(text string) bool
}

// Config assembles a Bot's collaborators.
type Config struct {
	Store    persistence.Store
	Personas []persona.Config

	// Platform returns the platform client for one persona account.
	Platform func(personaID string) Platform

	Generator Generator
	Policy    PolicyChecker

	// Worker is used by interaction mode to schedule its delayed follow-up
	// run. Optional; without it follow-ups are simply not scheduled.
	Worker *worker.Worker

	Logger *zap.Logger

	// Rand seeds all probabilistic choices. Defaults to a time-seeded source.
	Rand *rand.Rand

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Quota applies to every persona's governor.
	Quota quota.Config

	// MaxConversationTurns caps replies per persona per thread. Defaults to 5.
	MaxConversationTurns int
}

// Bot owns the per-persona state shared across runs: configs, quota
// governors and the random source.
type Bot struct {
	cfg      Config
	personas map[string]persona.Config
	managed  map[string]bool

	mu        sync.Mutex
	rng       *rand.Rand
	governors map[string]*quota.Governor
}

// New validates the config and builds a Bot.
func New(cfg Config) (*Bot, error) {
	if cfg.Store == nil {
		return nil, errors.New("bot: store is required")
	}
	if cfg.Platform == nil {
		return nil, errors.New("bot: platform factory is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("bot: generator is required")
	}
	if len(cfg.Personas) == 0 {
		return nil, errors.New("bot: at least one persona is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Quota == (quota.Config{}) {
		cfg.Quota = quota.DefaultConfig()
	}
	if cfg.MaxConversationTurns <= 0 {
		cfg.MaxConversationTurns = 5
	}

	personas := make(map[string]persona.Config, len(cfg.Personas))
	managed := make(map[string]bool, len(cfg.Personas))
	for _, p := range cfg.Personas {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		personas[p.ID] = p
		managed[p.ID] = true
	}

	return &Bot{
		cfg:       cfg,
		personas:  personas,
		managed:   managed,
		rng:       cfg.Rand,
		governors: make(map[string]*quota.Governor),
	}, nil
}

// Register registers the four mode workflows with the engine.
func (b *Bot) Register(eng api.Engine) error {
	for _, def := range []api.RunDefinition{
		b.proactiveDefinition(),
		b.reactiveDefinition(),
		b.interactionDefinition(),
		b.engagementDefinition(),
	} {
		if err := eng.RegisterMode(def); err != nil {
			return err
		}
	}
	return nil
}

// Personas returns the managed persona configs.
func (b *Bot) Personas() []persona.Config {
	return b.cfg.Personas
}

// governor returns the persona's quota governor, creating it on first use so
// the one-time reseed happens against fresh activity counts.
func (b *Bot) governor(personaID string) *quota.Governor {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.governors[personaID]
	if !ok {
		g = quota.NewGovernor(personaID, b.cfg.Quota, activityUsage{b.cfg.Store}).
			WithClock(b.cfg.Now)
		b.governors[personaID] = g
	}
	return g
}

// float64 draws from the shared random source. rand.Rand is not safe for
// concurrent use, so every draw goes through the bot's mutex.
func (b *Bot) float64() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

func (b *Bot) intn(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Intn(n)
}

// decide runs the rhythm decision under the bot's random-source lock.
func (b *Bot) decide(now time.Time, st rhythm.ScheduleState, p rhythm.Params) rhythm.Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	return rhythm.Decide(now, st, p, b.rng)
}

// persona resolves a configured persona or fails the run.
func (b *Bot) persona(id string) (persona.Config, error) {
	p, ok := b.personas[id]
	if !ok {
		return persona.Config{}, fmt.Errorf("unknown persona %q", id)
	}
	return p, nil
}

// logActivity appends to the activity log. Failures are logged and swallowed:
// the activity log never fails a run that already did its platform work.
func (b *Bot) logActivity(ctx context.Context, e persistence.ActivityEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = b.cfg.Now()
	}
	if err := b.cfg.Store.AppendActivity(ctx, e); err != nil {
		b.cfg.Logger.Warn("activity log append failed",
			zap.String("persona_id", e.PersonaID),
			zap.String("type", e.Type),
			zap.Error(err),
		)
	}
}

// recordEngagement persists the interaction row used for first-contact
// classification and the 24-hour engaged-author window.
func (b *Bot) recordEngagement(ctx context.Context, personaID, authorID, contentID, action string) {
	err := b.cfg.Store.RecordInteraction(ctx, persistence.Interaction{
		PersonaID: personaID,
		AuthorID:  authorID,
		ContentID: contentID,
		Action:    action,
		CreatedAt: b.cfg.Now(),
	})
	if err != nil {
		b.cfg.Logger.Warn("interaction record failed",
			zap.String("persona_id", personaID),
			zap.String("author_id", authorID),
			zap.Error(err),
		)
	}
}

// bumpRelationship increments the persona↔other interaction counter.
func (b *Bot) bumpRelationship(ctx context.Context, personaID, otherID, note string) {
	rel, err := b.cfg.Store.GetRelationship(ctx, personaID, otherID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		b.cfg.Logger.Warn("relationship lookup failed",
			zap.String("persona_id", personaID),
			zap.String("other_id", otherID),
			zap.Error(err),
		)
		return
	}
	rel.PersonaID = personaID
	rel.OtherID = otherID
	rel.InteractionCount++
	rel.UpdatedAt = b.cfg.Now()
	if note != "" {
		rel.Notes = note
	}
	if err := b.cfg.Store.SaveRelationship(ctx, rel); err != nil {
		b.cfg.Logger.Warn("relationship save failed",
			zap.String("persona_id", personaID),
			zap.String("other_id", otherID),
			zap.Error(err),
		)
	}
}

// checkQuota turns a quota denial into a run skip.
func (b *Bot) checkQuota(ctx context.Context, personaID string) error {
	if ok, reason := b.governor(personaID).CanPost(ctx); !ok {
		return api.NewSkip(reason)
	}
	return nil
}

// asTrigger coerces the first step's input.
func asTrigger(input any) (api.Trigger, error) {
	trig, ok := input.(api.Trigger)
	if !ok {
		return api.Trigger{}, fmt.Errorf("expected trigger input, got %T", input)
	}
	return trig, nil
}

// stateAs coerces a mid-workflow step input to the mode's state type.
func stateAs[T any](input any) (T, error) {
	st, ok := input.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("expected %T step input, got %T", zero, input)
	}
	return st, nil
}

// activityUsage adapts the activity log to the governor's reseed source.
type activityUsage struct {
	store persistence.BotStore
}

func (a activityUsage) CountActions(ctx context.Context, personaID string, since time.Time) (int, error) {
	return a.store.CountActivity(ctx, personaID, mutatingActivityTypes, since)
}

// FailureObserver writes a best-effort activity-log entry for every failed
// run, so operators can see failures next to the actions that surround them.
type FailureObserver struct {
	api.NoopObserver

	Store  persistence.BotStore
	Logger *zap.Logger
}

func (o *FailureObserver) OnRunFailed(ctx context.Context, inst *api.RunInstance, err error) {
	defer func() {
		// Observer callbacks run on failure paths; a panicking observer must
		// not take the engine down with it.
		if r := recover(); r != nil && o.Logger != nil {
			o.Logger.Error("failure observer panicked", zap.Any("panic", r))
		}
	}()

	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	e := persistence.ActivityEntry{
		PersonaID: inst.PersonaID,
		Type:      "run_failure",
		Detail:    fmt.Sprintf("%s: %s", inst.Mode, detail),
		Ref:       inst.ID,
		CreatedAt: time.Now(),
	}
	if storeErr := o.Store.AppendActivity(ctx, e); storeErr != nil && o.Logger != nil {
		o.Logger.Warn("failure activity append failed", zap.Error(storeErr))
	}
}
