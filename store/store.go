// Package store keeps recorded eye-tracking sessions in a single SQLite file.
//
// A store holds one row per session plus one table per event class. Every event
// table starts with the same bookkeeping columns (see BookkeepingColumns) followed by
// the columns an analyst cares about.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

var (
	// ErrStoreNotFound is returned when a path does not resolve to a readable store.
	ErrStoreNotFound = errors.New("store not found")
	// ErrSessionNotFound is returned when a session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionTimeLayout is used for session names and output file names.
const SessionTimeLayout = "20060102-150405"

// SessionInfo describes one recorded session. It is written once and never updated.
type SessionInfo struct {
	ID         string
	Code       string
	Name       string
	SubjectID  string
	Experiment string
	StartedAt  time.Time
}

// NewSessionInfo builds the metadata for a session starting at startedAt.
func NewSessionInfo(subjectID, experiment string, startedAt time.Time) SessionInfo {
	return SessionInfo{
		ID:         uuid.NewString(),
		Code:       subjectID,
		Name:       subjectID + "_" + startedAt.Format(SessionTimeLayout),
		SubjectID:  subjectID,
		Experiment: experiment,
		StartedAt:  startedAt,
	}
}

// Field is one named session metadata value.
type Field struct {
	Name  string
	Value string
}

// Store is a SQLite backed recording store.
type Store struct {
	db *sql.DB
}

// Create opens the store at path, creating the file and schema when needed.
func Create(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open store", goerr.Value("path", path))
	}
	// One connection: in-memory stores are per connection and we have a single writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to migrate store", goerr.Value("path", path))
	}
	return s, nil
}

// Open opens an existing store read-only. It fails with ErrStoreNotFound when path
// does not exist or is not a recording store.
func Open(path string) (*Store, error) {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return nil, goerr.Wrap(ErrStoreNotFound, "no store file", goerr.Value("path", path))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(ErrStoreNotFound, "failed to open store", goerr.Value("path", path), goerr.Value("cause", err.Error()))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, goerr.Wrap(ErrStoreNotFound, "not a sqlite file", goerr.Value("path", path), goerr.Value("cause", err.Error()))
	}

	var n int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'sessions'`).Scan(&n)
	if err != nil || n == 0 {
		db.Close()
		return nil, goerr.Wrap(ErrStoreNotFound, "not a recording store", goerr.Value("path", path))
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			experiment TEXT NOT NULL,
			started_at TEXT NOT NULL
		)`,
	}
	for _, c := range eventClasses {
		migrations = append(migrations, c.createTable())
		migrations = append(migrations, `CREATE INDEX IF NOT EXISTS idx_`+c.Table()+`_session ON `+c.Table()+`(session_id)`)
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return goerr.Wrap(err, "migration failed", goerr.Value("statement", firstLine(m)))
		}
	}
	return nil
}

// CreateSession records a new session.
func (s *Store) CreateSession(ctx context.Context, info SessionInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, code, name, subject_id, experiment, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Code, info.Name, info.SubjectID, info.Experiment, info.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to create session", goerr.Value("session_id", info.ID))
	}
	return nil
}

// Sessions lists every recorded session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, code, name, subject_id, experiment, started_at FROM sessions ORDER BY started_at, session_id`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var started string
		if err := rows.Scan(&info.ID, &info.Code, &info.Name, &info.SubjectID, &info.Experiment, &started); err != nil {
			return nil, goerr.Wrap(err, "failed to scan session")
		}
		t, err := time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid session start time",
				goerr.Value("session_id", info.ID),
				goerr.Value("started_at", started),
			)
		}
		info.StartedAt = t
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Metadata returns the session metadata fields in column order.
func (s *Store) Metadata(ctx context.Context, sessionID string) ([]Field, error) {
	var id, code, name, subject, experiment, started string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, code, name, subject_id, experiment, started_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&id, &code, &name, &subject, &experiment, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrSessionNotFound, "unknown session", goerr.Value("session_id", sessionID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read session metadata", goerr.Value("session_id", sessionID))
	}

	return []Field{
		{Name: "session_id", Value: id},
		{Name: "code", Value: code},
		{Name: "name", Value: name},
		{Name: "subject_id", Value: subject},
		{Name: "experiment", Value: experiment},
		{Name: "started_at", Value: started},
	}, nil
}

// EventClasses returns the classes that have at least one recorded row.
func (s *Store) EventClasses(ctx context.Context) ([]EventClass, error) {
	var classes []EventClass
	for _, c := range eventClasses {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+c.Table()+`)`).Scan(&exists); err != nil {
			return nil, goerr.Wrap(err, "failed to probe event class", goerr.Value("class", c.String()))
		}
		if exists {
			classes = append(classes, c)
		}
	}
	return classes, nil
}

// Events opens a cursor over the rows of class recorded for sessionID, in
// recording order.
func (s *Store) Events(ctx context.Context, class EventClass, sessionID string) (*EventCursor, error) {
	if !class.Valid() {
		return nil, goerr.New("unknown event class", goerr.Value("class", int(class)))
	}

	cols := class.Columns()
	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + class.Table() + ` WHERE session_id = ? ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query events",
			goerr.Value("class", class.String()),
			goerr.Value("session_id", sessionID),
		)
	}
	return newEventCursor(rows, cols), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
