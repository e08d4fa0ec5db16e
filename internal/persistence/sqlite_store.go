package persistence

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/flock/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			persona_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL,
			input BLOB,
			output BLOB,
			step_results BLOB,
			skip_reason TEXT,
			error TEXT
		);
		CREATE TABLE IF NOT EXISTS schedule_state (
			persona_id TEXT PRIMARY KEY,
			state TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS bot_memory (
			persona_id TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			reflections TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id TEXT NOT NULL,
			type TEXT NOT NULL,
			detail TEXT,
			ref TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_activity_persona_type_time
			ON activity_log (persona_id, type, created_at);
		CREATE INDEX IF NOT EXISTS idx_activity_persona_type_ref
			ON activity_log (persona_id, type, ref);
		CREATE TABLE IF NOT EXISTS relationships (
			persona_id TEXT NOT NULL,
			other_id TEXT NOT NULL,
			sentiment TEXT,
			notes TEXT,
			interaction_count INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (persona_id, other_id)
		);
		CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content_id TEXT,
			action TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_interactions_persona_author
			ON interactions (persona_id, author_id);
		CREATE INDEX IF NOT EXISTS idx_interactions_persona_time
			ON interactions (persona_id, created_at);
	`)
	return err
}

func (s *SQLiteStore) SaveRun(inst *api.RunInstance) error {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return err
	}
	stepResults, err := EncodeValue(inst.StepResults)
	if err != nil {
		return err
	}

	errStr := ""
	if inst.Err != nil {
		errStr = inst.Err.Error()
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, mode, persona_id, status, current_step, input, output, step_results, skip_reason, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		string(inst.Mode),
		inst.PersonaID,
		string(inst.Status),
		inst.CurrentStep,
		input,
		output,
		stepResults,
		inst.SkipReason,
		errStr,
	)
	return err
}

func (s *SQLiteStore) UpdateRun(inst *api.RunInstance) error {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return err
	}
	stepResults, err := EncodeValue(inst.StepResults)
	if err != nil {
		return err
	}

	errStr := ""
	if inst.Err != nil {
		errStr = inst.Err.Error()
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET mode = ?, persona_id = ?, status = ?, current_step = ?, input = ?, output = ?, step_results = ?, skip_reason = ?, error = ?
		WHERE id = ?`,
		string(inst.Mode),
		inst.PersonaID,
		string(inst.Status),
		inst.CurrentStep,
		input,
		output,
		stepResults,
		inst.SkipReason,
		errStr,
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(id string) (*api.RunInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, mode, persona_id, status, current_step, input, output, step_results, skip_reason, error
		FROM runs
		WHERE id = ?`,
		id,
	)
	inst, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) ListRuns(filter RunFilter) ([]*api.RunInstance, error) {
	query := `
		SELECT id, mode, persona_id, status, current_step, input, output, step_results, skip_reason, error
		FROM runs`
	var args []any
	var clauses []string

	if filter.Mode != "" {
		clauses = append(clauses, "mode = ?")
		args = append(args, string(filter.Mode))
	}
	if filter.PersonaID != "" {
		clauses = append(clauses, "persona_id = ?")
		args = append(args, filter.PersonaID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.RunInstance
	for rows.Next() {
		inst, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

func scanRun(scan func(dest ...any) error) (*api.RunInstance, error) {
	var inst api.RunInstance
	var modeStr, statusStr string
	var input, output, stepResults []byte
	var skipReason, errStr sql.NullString

	if err := scan(&inst.ID, &modeStr, &inst.PersonaID, &statusStr, &inst.CurrentStep,
		&input, &output, &stepResults, &skipReason, &errStr); err != nil {
		return nil, err
	}

	inst.Mode = api.Mode(modeStr)
	inst.Status = api.Status(statusStr)

	inVal, err := DecodeValue(input)
	if err != nil {
		return nil, err
	}
	inst.Input = inVal

	outVal, err := DecodeValue(output)
	if err != nil {
		return nil, err
	}
	inst.Output = outVal

	results, err := DecodeStepResults(stepResults)
	if err != nil {
		return nil, err
	}
	inst.StepResults = results

	if skipReason.Valid {
		inst.SkipReason = skipReason.String
	}
	if errStr.Valid && errStr.String != "" {
		inst.Err = errors.New(errStr.String)
	}
	return &inst, nil
}
