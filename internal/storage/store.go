// Package storage persists experiments and their trial history in SQLite so
// an interrupted search can be resumed.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/copyleftdev/gridtune/internal/environment"
)

// ErrNotFound is returned when an experiment does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	experiment_id TEXT PRIMARY KEY,
	description   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trials (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	trial_id      TEXT NOT NULL UNIQUE,
	experiment_id TEXT NOT NULL REFERENCES experiments(experiment_id) ON DELETE CASCADE,
	params_json   TEXT NOT NULL,
	status        TEXT NOT NULL,
	score_json    TEXT,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS trials_experiment ON trials(experiment_id, seq);
`

// Experiment is a named search run.
type Experiment struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Trial is one evaluated configuration. Score is nil unless the trial
// succeeded.
type Trial struct {
	ID           string             `json:"id"`
	ExperimentID string             `json:"experiment_id"`
	Params       map[string]any     `json:"params"`
	Status       environment.Status `json:"status"`
	Score        map[string]float64 `json:"score,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Store is a SQLite-backed trial store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateExperiment inserts an experiment. An empty id is replaced by a UUID.
func (s *Store) CreateExperiment(ctx context.Context, id, description string) (*Experiment, error) {
	if id == "" {
		id = uuid.New().String()
	}
	exp := &Experiment{ID: id, Description: description, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (experiment_id, description, created_at) VALUES (?, ?, ?)`,
		exp.ID, exp.Description, exp.CreatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert experiment %s: %w", id, err)
	}
	return exp, nil
}

// EnsureExperiment returns the experiment with the given id, creating it if
// it does not exist yet.
func (s *Store) EnsureExperiment(ctx context.Context, id, description string) (*Experiment, error) {
	exp, err := s.GetExperiment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return s.CreateExperiment(ctx, id, description)
	}
	return exp, err
}

// GetExperiment looks up an experiment by id.
func (s *Store) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var exp Experiment
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT experiment_id, description, created_at FROM experiments WHERE experiment_id = ?`, id).
		Scan(&exp.ID, &exp.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query experiment %s: %w", id, err)
	}
	exp.CreatedAt = time.Unix(0, created).UTC()
	return &exp, nil
}

// DeleteExperiment removes an experiment and its trials.
func (s *Store) DeleteExperiment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE experiment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete experiment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordTrial appends a trial to its experiment's history. Missing IDs and
// timestamps are filled in.
func (s *Store) RecordTrial(ctx context.Context, t *Trial) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	var score any
	if t.Score != nil {
		b, err := json.Marshal(t.Score)
		if err != nil {
			return fmt.Errorf("encode score: %w", err)
		}
		score = string(b)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trials (trial_id, experiment_id, params_json, status, score_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ExperimentID, string(params), t.Status.String(), score, t.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert trial %s: %w", t.ID, err)
	}
	return nil
}

// LoadTrials returns an experiment's trials in the order they were recorded.
func (s *Store) LoadTrials(ctx context.Context, experimentID string) ([]Trial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial_id, experiment_id, params_json, status, score_json, created_at
		FROM trials
		WHERE experiment_id = ?
		ORDER BY seq`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var trials []Trial
	for rows.Next() {
		var (
			t       Trial
			params  string
			status  string
			score   sql.NullString
			created int64
		)
		if err := rows.Scan(&t.ID, &t.ExperimentID, &params, &status, &score, &created); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
			return nil, fmt.Errorf("trial %s: decode params: %w", t.ID, err)
		}
		if t.Status, err = environment.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("trial %s: %w", t.ID, err)
		}
		if score.Valid {
			if err := json.Unmarshal([]byte(score.String), &t.Score); err != nil {
				return nil, fmt.Errorf("trial %s: decode score: %w", t.ID, err)
			}
		}
		t.CreatedAt = time.Unix(0, created).UTC()
		trials = append(trials, t)
	}
	return trials, rows.Err()
}
