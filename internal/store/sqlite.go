// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/research-orchestrator/pkg/types"
)

const dbFile = "runs.db"

// SQLiteStore persists runs in dir/runs.db. The runs table holds the latest
// snapshot as a JSON blob next to queryable status columns; the messages
// table is an append-only copy of every run's message log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database in dir and creates the
// schema if it does not exist.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			status TEXT NOT NULL,
			completed_tasks INTEGER NOT NULL,
			total_tasks INTEGER NOT NULL,
			data BLOB NOT NULL,
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			stage TEXT,
			content TEXT NOT NULL,
			meta TEXT,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages(kind)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Put upserts the run snapshot and appends the messages not yet stored.
func (s *SQLiteStore) Put(ctx context.Context, st *types.ResearchState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st == nil || st.ID == "" {
		return ErrInvalidRunID
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", st.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, question, status, completed_tasks, total_tasks, data, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			question=excluded.question, status=excluded.status,
			completed_tasks=excluded.completed_tasks, total_tasks=excluded.total_tasks,
			data=excluded.data, updated_at=excluded.updated_at`,
		st.ID, st.Question, string(st.Status), st.Completed.Len(), len(st.Tasks), data,
		formatTime(st.StartedAt), formatTime(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting run %s: %w", st.ID, err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE run_id = ?`, st.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}

	if stored < len(st.Messages) {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO messages (run_id, seq, role, kind, stage, content, meta, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for i := stored; i < len(st.Messages); i++ {
			m := st.Messages[i]
			var meta sql.NullString
			if m.Meta != nil {
				b, _ := json.Marshal(m.Meta)
				meta = sql.NullString{String: string(b), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				st.ID, i, m.Role, string(m.Kind), string(m.Stage), m.Content, meta, formatTime(m.Timestamp),
			); err != nil {
				return fmt.Errorf("inserting message %d of %s: %w", i, st.ID, err)
			}
		}
	}

	return tx.Commit()
}

// Get returns the latest snapshot of a run.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.ResearchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidRunID
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}

	var st types.ResearchState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &st, nil
}

// List returns summaries of all runs from the status columns, without
// decoding snapshots.
func (s *SQLiteStore) List(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, status, completed_tasks, total_tasks, started_at, updated_at
		 FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var status, started, updated string
		if err := rows.Scan(&r.ID, &r.Question, &status, &r.CompletedTasks, &r.TotalTasks, &started, &updated); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = types.Status(status)
		r.StartedAt = parseTime(started)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Messages returns the stored message log of a run.
func (s *SQLiteStore) Messages(ctx context.Context, id string) ([]types.Message, error) {
	if id == "" {
		return nil, ErrInvalidRunID
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM runs WHERE id = ?`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, kind, stage, content, meta, timestamp
		 FROM messages WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var kind, ts string
		var stage, meta sql.NullString
		if err := rows.Scan(&m.Role, &kind, &stage, &m.Content, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Kind = types.MessageKind(kind)
		m.Stage = types.Stage(stage.String)
		m.Timestamp = parseTime(ts)
		if meta.Valid {
			var sm types.StageMeta
			if err := json.Unmarshal([]byte(meta.String), &sm); err == nil {
				m.Meta = &sm
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
