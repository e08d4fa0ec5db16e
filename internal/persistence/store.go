package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/flock/internal/rhythm"
	"github.com/petrijr/flock/pkg/api"
)

var (
	// ErrRunNotFound is returned when a run instance is not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrNotFound is returned by domain lookups that have no record yet
	// (schedule state, memory, relationships).
	ErrNotFound = errors.New("record not found")
)

// RunFilter is used to select run instances from the store.
// Empty string / zero status mean "no filter" for that field.
type RunFilter struct {
	Mode      api.Mode
	PersonaID string
	Status    api.Status
}

// RunStore handles storage of run instances.
type RunStore interface {
	SaveRun(inst *api.RunInstance) error
	UpdateRun(inst *api.RunInstance) error
	GetRun(id string) (*api.RunInstance, error)
	ListRuns(filter RunFilter) ([]*api.RunInstance, error)
}

// BotMemory is a persona's durable memory: a rolling digest of what it has
// been talking about plus accumulated reflections folded into future posts.
type BotMemory struct {
	Digest      string
	Reflections []string
	UpdatedAt   time.Time
}

// ActivityEntry is one row of the append-only activity log. Detail carries
// the machine-readable reason or a short summary; Ref points at the platform
// content (or thread root) the entry is about.
type ActivityEntry struct {
	PersonaID string
	Type      string
	Detail    string
	Ref       string
	CreatedAt time.Time
}

// Relationship tracks the state between a managed persona and another
// account (managed or external).
type Relationship struct {
	PersonaID        string
	OtherID          string
	Sentiment        string
	Notes            string
	InteractionCount int
	UpdatedAt        time.Time
}

// Interaction records one outbound engagement with an external author, used
// for first-contact classification and the 24-hour engaged-author window.
type Interaction struct {
	PersonaID string
	AuthorID  string
	ContentID string
	Action    string
	CreatedAt time.Time
}

// BotStore is the durable store consumed by the mode workflows: schedule
// state, memory, relationships, interactions, and the activity log.
//
// Implementations must tolerate concurrent runs reading partially-updated
// state; callers follow read-then-write patterns without transactional
// locking (accepted eventual-consistency model).
type BotStore interface {
	// GetScheduleState returns ErrNotFound when the persona has no persisted
	// schedule state yet; callers start from the zero state.
	GetScheduleState(ctx context.Context, personaID string) (rhythm.ScheduleState, error)
	SaveScheduleState(ctx context.Context, personaID string, st rhythm.ScheduleState) error

	GetMemory(ctx context.Context, personaID string) (BotMemory, error)
	SaveMemory(ctx context.Context, personaID string, m BotMemory) error

	// AppendActivity appends to the activity log. It is best-effort from the
	// caller's point of view but implementations must report errors.
	AppendActivity(ctx context.Context, e ActivityEntry) error

	// CountActivity counts log entries for a persona since a point in time,
	// optionally restricted to the given types (empty means all types).
	CountActivity(ctx context.Context, personaID string, types []string, since time.Time) (int, error)

	// CountActivityRef counts entries of one type referencing a specific
	// platform item, e.g. replies within one thread (conversation turns).
	CountActivityRef(ctx context.Context, personaID, typ, ref string) (int, error)

	GetRelationship(ctx context.Context, personaID, otherID string) (Relationship, error)
	SaveRelationship(ctx context.Context, r Relationship) error

	RecordInteraction(ctx context.Context, i Interaction) error

	// HasInteracted reports whether the persona has any recorded interaction
	// with the author (first-contact classification).
	HasInteracted(ctx context.Context, personaID, authorID string) (bool, error)

	// EngagedAuthorsSince returns the author ids the persona has engaged
	// since the given time.
	EngagedAuthorsSince(ctx context.Context, personaID string, since time.Time) ([]string, error)
}

// Store bundles the run store and the bot domain store. SQLite-backed
// deployments share one database for both.
type Store interface {
	RunStore
	BotStore
}
