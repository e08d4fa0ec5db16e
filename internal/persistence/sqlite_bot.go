package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/flock/internal/rhythm"
)

// Domain-side queries of SQLiteStore: schedule state, memory, activity log,
// relationships, interactions. Schedule state and reflections are stored as
// JSON; timestamps as unix nanoseconds.

func (s *SQLiteStore) GetScheduleState(ctx context.Context, personaID string) (rhythm.ScheduleState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM schedule_state WHERE persona_id = ?`, personaID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rhythm.ScheduleState{}, ErrNotFound
		}
		return rhythm.ScheduleState{}, err
	}

	var st rhythm.ScheduleState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return rhythm.ScheduleState{}, err
	}
	return st, nil
}

func (s *SQLiteStore) SaveScheduleState(ctx context.Context, personaID string, st rhythm.ScheduleState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_state (persona_id, state) VALUES (?, ?)
		ON CONFLICT(persona_id) DO UPDATE SET state = excluded.state`,
		personaID, string(raw),
	)
	return err
}

func (s *SQLiteStore) GetMemory(ctx context.Context, personaID string) (BotMemory, error) {
	var m BotMemory
	var reflections string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT digest, reflections, updated_at FROM bot_memory WHERE persona_id = ?`, personaID,
	).Scan(&m.Digest, &reflections, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BotMemory{}, ErrNotFound
		}
		return BotMemory{}, err
	}

	if err := json.Unmarshal([]byte(reflections), &m.Reflections); err != nil {
		return BotMemory{}, err
	}
	m.UpdatedAt = time.Unix(0, updatedAt)
	return m, nil
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, personaID string, m BotMemory) error {
	reflections, err := json.Marshal(m.Reflections)
	if err != nil {
		return err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bot_memory (persona_id, digest, reflections, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(persona_id) DO UPDATE SET
			digest = excluded.digest,
			reflections = excluded.reflections,
			updated_at = excluded.updated_at`,
		personaID, m.Digest, string(reflections), m.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) AppendActivity(ctx context.Context, e ActivityEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (persona_id, type, detail, ref, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.PersonaID, e.Type, e.Detail, e.Ref, e.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) CountActivity(ctx context.Context, personaID string, types []string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM activity_log WHERE persona_id = ? AND created_at >= ?`
	args := []any{personaID, since.UnixNano()}

	if len(types) > 0 {
		placeholders := strings.Repeat("?,", len(types))
		query += ` AND type IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) CountActivityRef(ctx context.Context, personaID, typ, ref string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_log WHERE persona_id = ? AND type = ? AND ref = ?`,
		personaID, typ, ref,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) GetRelationship(ctx context.Context, personaID, otherID string) (Relationship, error) {
	var r Relationship
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT persona_id, other_id, sentiment, notes, interaction_count, updated_at
		FROM relationships WHERE persona_id = ? AND other_id = ?`,
		personaID, otherID,
	).Scan(&r.PersonaID, &r.OtherID, &r.Sentiment, &r.Notes, &r.InteractionCount, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Relationship{}, ErrNotFound
		}
		return Relationship{}, err
	}
	r.UpdatedAt = time.Unix(0, updatedAt)
	return r, nil
}

func (s *SQLiteStore) SaveRelationship(ctx context.Context, r Relationship) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (persona_id, other_id, sentiment, notes, interaction_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(persona_id, other_id) DO UPDATE SET
			sentiment = excluded.sentiment,
			notes = excluded.notes,
			interaction_count = excluded.interaction_count,
			updated_at = excluded.updated_at`,
		r.PersonaID, r.OtherID, r.Sentiment, r.Notes, r.InteractionCount, r.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) RecordInteraction(ctx context.Context, i Interaction) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (persona_id, author_id, content_id, action, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		i.PersonaID, i.AuthorID, i.ContentID, i.Action, i.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) HasInteracted(ctx context.Context, personaID, authorID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE persona_id = ? AND author_id = ? LIMIT 1`,
		personaID, authorID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) EngagedAuthorsSince(ctx context.Context, personaID string, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT author_id FROM interactions WHERE persona_id = ? AND created_at >= ?`,
		personaID, since.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var authors []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}
