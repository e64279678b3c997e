// ABOUTME: SQLite-backed audit trail of session mutations using modernc.org/sqlite
// ABOUTME: Append-only; the registry never reloads from it

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Action identifies what kind of mutation an entry records.
type Action string

const (
	ActionStart       Action = "start"
	ActionAddEmail    Action = "add-email"
	ActionAddName     Action = "add-name"
	ActionUploadImage Action = "upload-image"
	ActionScore       Action = "send-score"
)

// Entry is one recorded mutation.
type Entry struct {
	ID         string         // UUID v4
	SessionID  string         // session the action named
	Action     Action         // what happened
	Found      bool           // false when the action named an unknown session
	Status     string         // session status after the action
	Detail     map[string]any // action-specific context
	RecordedAt time.Time
}

// Filter narrows List results.
type Filter struct {
	SessionID *string
	Action    *Action
	Limit     int // default 100, max 1000
}

// Store persists entries in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at path.
// Parent directories are created; ":memory:" is accepted for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// A single writer keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			action TEXT NOT NULL,
			found INTEGER NOT NULL,
			status TEXT NOT NULL,
			detail_json TEXT,
			recorded_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_events_session
			ON session_events(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert writes one entry, filling ID and RecordedAt when unset.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling entry detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	found := 0
	if e.Found {
		found = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (event_id, session_id, action, found, status, detail_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.SessionID,
		string(e.Action),
		found,
		e.Status,
		detailJSON,
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// normalizeLimit applies default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

const listQuery = `
	SELECT event_id, session_id, action, found, status, detail_json, recorded_at
	FROM (
		SELECT seq, event_id, session_id, action, found, status, detail_json, recorded_at
		FROM session_events
		WHERE (? IS NULL OR session_id = ?)
		  AND (? IS NULL OR action = ?)
		ORDER BY seq DESC
		LIMIT ?
	)
	ORDER BY seq ASC
`

// List returns the most recent entries matching f, oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var action *string
	if f.Action != nil {
		a := string(*f.Action)
		action = &a
	}

	rows, err := s.db.QueryContext(ctx, listQuery,
		f.SessionID, f.SessionID,
		action, action,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger rows: %w", err)
	}
	return entries, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var e Entry
	var action, recordedAt string
	var found int
	var detailJSON *string

	if err := scanner.Scan(&e.ID, &e.SessionID, &action, &found, &e.Status, &detailJSON, &recordedAt); err != nil {
		return e, fmt.Errorf("scanning ledger entry: %w", err)
	}

	e.Action = Action(action)
	e.Found = found != 0

	var err error
	e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
