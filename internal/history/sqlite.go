// Package history persists BuildEvents in SQLite so past rebuilds and
// failures can be listed with the history command.
package history

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/assetpipe/internal/events"
	"git.home.luguber.info/inful/assetpipe/internal/foundation/errors"
)

// Store is a SQLite-backed event log. It implements events.Sink.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (and creates if needed) the store at dbPath.
// Use ":memory:" for an in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "open sqlite database").
			WithContext("path", dbPath).
			Build()
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "initialize schema").
			WithContext("path", dbPath).
			Build()
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		task TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_build_events_at ON build_events(at);
	CREATE INDEX IF NOT EXISTS idx_build_events_kind ON build_events(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Publish implements events.Sink.
func (s *Store) Publish(ctx context.Context, ev events.BuildEvent) error {
	return s.Record(ctx, ev)
}

// Record appends an event.
func (s *Store) Record(ctx context.Context, ev events.BuildEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO build_events (id, kind, task, path, message, at) VALUES (?, ?, ?, ?, ?, ?)",
		ev.ID, string(ev.Kind), ev.Task, ev.Path, ev.Message, ev.At.UnixNano(),
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "insert build event").Build()
	}
	return nil
}

// Query filters Recent.
type Query struct {
	Limit int
	Kind  events.Kind
	Since time.Time
}

// Recent returns matching events, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]events.BuildEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var since int64
	if !q.Since.IsZero() {
		since = q.Since.UnixNano()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, task, path, message, at FROM build_events
		 WHERE (? = '' OR kind = ?) AND at >= ?
		 ORDER BY seq DESC LIMIT ?`,
		string(q.Kind), string(q.Kind), since, q.Limit,
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "query build events").Build()
	}
	defer func() { _ = rows.Close() }()

	var out []events.BuildEvent
	for rows.Next() {
		var (
			ev   events.BuildEvent
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Task, &ev.Path, &ev.Message, &at); err != nil {
			return nil, errors.WrapError(err, errors.CategoryFileSystem, "scan build event").Build()
		}
		ev.Kind = events.Kind(kind)
		ev.At = time.Unix(0, at).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "iterate build events").Build()
	}
	return out, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
