package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/flock/internal/rhythm"
	"github.com/petrijr/flock/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of Store backed by maps.
// It is non-durable and intended for tests and local development.
type InMemoryStore struct {
	mu            sync.RWMutex
	runs          map[string]*api.RunInstance
	schedule      map[string]rhythm.ScheduleState
	memory        map[string]BotMemory
	activity      []ActivityEntry
	relationships map[string]Relationship
	interactions  []Interaction
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:          make(map[string]*api.RunInstance),
		schedule:      make(map[string]rhythm.ScheduleState),
		memory:        make(map[string]BotMemory),
		relationships: make(map[string]Relationship),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveRun(inst *api.RunInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inst
	s.runs[inst.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateRun(inst *api.RunInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[inst.ID]; !ok {
		return ErrRunNotFound
	}
	cp := *inst
	s.runs[inst.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetRun(id string) (*api.RunInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *InMemoryStore) ListRuns(filter RunFilter) ([]*api.RunInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.RunInstance
	for _, inst := range s.runs {
		if filter.Mode != "" && inst.Mode != filter.Mode {
			continue
		}
		if filter.PersonaID != "" && inst.PersonaID != filter.PersonaID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		cp := *inst
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) GetScheduleState(ctx context.Context, personaID string) (rhythm.ScheduleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.schedule[personaID]
	if !ok {
		return rhythm.ScheduleState{}, ErrNotFound
	}
	return st, nil
}

func (s *InMemoryStore) SaveScheduleState(ctx context.Context, personaID string, st rhythm.ScheduleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedule[personaID] = st
	return nil
}

func (s *InMemoryStore) GetMemory(ctx context.Context, personaID string) (BotMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memory[personaID]
	if !ok {
		return BotMemory{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) SaveMemory(ctx context.Context, personaID string, m BotMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory[personaID] = m
	return nil
}

func (s *InMemoryStore) AppendActivity(ctx context.Context, e ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.activity = append(s.activity, e)
	return nil
}

func (s *InMemoryStore) CountActivity(ctx context.Context, personaID string, types []string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, e := range s.activity {
		if e.PersonaID != personaID || e.CreatedAt.Before(since) {
			continue
		}
		if len(types) > 0 && !containsString(types, e.Type) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *InMemoryStore) CountActivityRef(ctx context.Context, personaID, typ, ref string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, e := range s.activity {
		if e.PersonaID == personaID && e.Type == typ && e.Ref == ref {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetRelationship(ctx context.Context, personaID, otherID string) (Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.relationships[personaID+"/"+otherID]
	if !ok {
		return Relationship{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) SaveRelationship(ctx context.Context, r Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	s.relationships[r.PersonaID+"/"+r.OtherID] = r
	return nil
}

func (s *InMemoryStore) RecordInteraction(ctx context.Context, i Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	s.interactions = append(s.interactions, i)
	return nil
}

func (s *InMemoryStore) HasInteracted(ctx context.Context, personaID, authorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.interactions {
		if i.PersonaID == personaID && i.AuthorID == authorID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) EngagedAuthorsSince(ctx context.Context, personaID string, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var authors []string
	for _, i := range s.interactions {
		if i.PersonaID != personaID || i.CreatedAt.Before(since) {
			continue
		}
		if !seen[i.AuthorID] {
			seen[i.AuthorID] = true
			authors = append(authors, i.AuthorID)
		}
	}
	return authors, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
