// Package store persists generation runs in SQLite: one metadata row
// per run, one JSON row object per (cohort, patient, day) observation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jregier/n1sim/internal/dataset"
)

// Cohort labels inside one run.
const (
	CohortComplete = "complete"
	CohortDropout  = "dropout"
)

var (
	// ErrNotFound indicates an unknown run id.
	ErrNotFound = errors.New("store: run not found")

	// ErrNoCohort indicates a run saved without the requested cohort.
	ErrNoCohort = errors.New("store: cohort not stored for run")
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	seed INTEGER NOT NULL,
	patients INTEGER NOT NULL,
	days INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	dropout INTEGER NOT NULL,
	params_json TEXT NOT NULL,
	design_json TEXT NOT NULL,
	columns_json TEXT NOT NULL,
	dropout_columns_json TEXT,
	clips_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	cohort TEXT NOT NULL,
	patient INTEGER NOT NULL,
	day INTEGER NOT NULL,
	row_json TEXT NOT NULL,
	PRIMARY KEY (run_id, cohort, patient, day)
);
`

// Run is one persisted generation run. Params and Design are only
// populated by GetRun.
type Run struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Seed      int64           `json:"seed"`
	Patients  int             `json:"patients"`
	Days      int             `json:"days"`
	Outcome   string          `json:"outcome"`
	Dropout   bool            `json:"dropout"`
	Clips     map[string]int  `json:"clips,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Design    json.RawMessage `json:"design,omitempty"`
}

// RunData bundles everything SaveRun persists. Dropout may be nil.
type RunData struct {
	Run
	Complete *dataset.Table
	DropTbl  *dataset.Table
}

// Store is a SQLite-backed run archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewRunID returns a sortable, collision-safe run id.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// SaveRun writes the metadata row and every observation in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, data RunData) error {
	if data.ID == "" {
		return fmt.Errorf("store: run id is required")
	}
	if data.Complete == nil {
		return fmt.Errorf("store: complete table is required")
	}

	clips, err := json.Marshal(data.Clips)
	if err != nil {
		return fmt.Errorf("store: encode clips: %w", err)
	}
	columns, err := json.Marshal(data.Complete.Columns)
	if err != nil {
		return fmt.Errorf("store: encode columns: %w", err)
	}
	var dropColumns any
	if data.DropTbl != nil {
		b, err := json.Marshal(data.DropTbl.Columns)
		if err != nil {
			return fmt.Errorf("store: encode dropout columns: %w", err)
		}
		dropColumns = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, seed, patients, days, outcome, dropout, params_json, design_json, columns_json, dropout_columns_json, clips_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		data.ID, toMillis(data.CreatedAt), data.Seed, data.Patients, data.Days, data.Outcome,
		data.DropTbl != nil, string(data.Params), string(data.Design), string(columns), dropColumns, string(clips),
	)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}

	if err := insertTable(ctx, tx, data.ID, CohortComplete, data.Complete); err != nil {
		return err
	}
	if data.DropTbl != nil {
		if err := insertTable(ctx, tx, data.ID, CohortDropout, data.DropTbl); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertTable(ctx context.Context, tx *sql.Tx, runID, cohort string, tbl *dataset.Table) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations (run_id, cohort, patient, day, row_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare observations: %w", err)
	}
	defer stmt.Close()

	for i := range tbl.Rows {
		patient, ok := tbl.Float(i, "patient_id")
		if !ok {
			return fmt.Errorf("store: row %d has no patient_id", i)
		}
		day, ok := tbl.Float(i, "day")
		if !ok {
			return fmt.Errorf("store: row %d has no day", i)
		}
		row, err := json.Marshal(tbl.Record(i))
		if err != nil {
			return fmt.Errorf("store: encode row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, cohort, int(patient), int(day), string(row)); err != nil {
			return fmt.Errorf("store: insert row %d: %w", i, err)
		}
	}
	return nil
}

// ListRuns returns run metadata, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, seed, patients, days, outcome, dropout, clips_json FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			created int64
			clips   string
		)
		if err := rows.Scan(&r.ID, &created, &r.Seed, &r.Patients, &r.Days, &r.Outcome, &r.Dropout, &clips); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.CreatedAt = fromMillis(created)
		if err := json.Unmarshal([]byte(clips), &r.Clips); err != nil {
			return nil, fmt.Errorf("store: decode clips: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its parameter and design documents.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		r       Run
		created int64
		clips   string
		params  string
		design  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, seed, patients, days, outcome, dropout, clips_json, params_json, design_json FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &created, &r.Seed, &r.Patients, &r.Days, &r.Outcome, &r.Dropout, &clips, &params, &design)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	r.CreatedAt = fromMillis(created)
	if err := json.Unmarshal([]byte(clips), &r.Clips); err != nil {
		return nil, fmt.Errorf("store: decode clips: %w", err)
	}
	r.Params = json.RawMessage(params)
	r.Design = json.RawMessage(design)
	return &r, nil
}

// LoadTable rebuilds one stored cohort table in (patient, day) order.
func (s *Store) LoadTable(ctx context.Context, id, cohort string) (*dataset.Table, error) {
	var colJSON sql.NullString
	var query string
	switch cohort {
	case CohortComplete:
		query = `SELECT columns_json FROM runs WHERE id = ?`
	case CohortDropout:
		query = `SELECT dropout_columns_json FROM runs WHERE id = ?`
	default:
		return nil, fmt.Errorf("store: unknown cohort %q", cohort)
	}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&colJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load columns: %w", err)
	}
	if !colJSON.Valid || colJSON.String == "" {
		return nil, ErrNoCohort
	}
	var columns []string
	if err := json.Unmarshal([]byte(colJSON.String), &columns); err != nil {
		return nil, fmt.Errorf("store: decode columns: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_json FROM observations WHERE run_id = ? AND cohort = ? ORDER BY patient, day`, id, cohort)
	if err != nil {
		return nil, fmt.Errorf("store: load rows: %w", err)
	}
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("store: decode row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dataset.FromRecords(columns, records), nil
}

// DeleteRun removes a run and its observations.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete observations: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
