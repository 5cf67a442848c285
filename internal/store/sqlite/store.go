// Package sqlite provides the SQLite-backed event store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calen/internal/log"
	"calen/internal/model"
	"calen/internal/store"
	"calen/internal/store/sqlite/migrations"

	_ "modernc.org/sqlite"
)

const (
	eventsTable     = "Events"
	eventsMigration = "001_events.sql"
)

// Store persists events in a single SQLite file.
type Store struct {
	sqlDB *sql.DB
	path  string
}

var _ store.FeedStore = (*Store)(nil)

// Open opens (or creates) the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// All operations are synchronous on the caller; one connection keeps
	// writes strictly ordered.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db %s: %w", cleanPath, err)
	}

	s := &Store{sqlDB: sqlDB, path: cleanPath}
	if err := s.Initialize(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Initialize creates the Events table only when the schema catalog does not
// list it yet; an existing table is adopted as is. Pending migrations are
// applied after. Safe to call repeatedly.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tables, err := s.tableNames(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	_, hadEvents := tables[strings.ToLower(eventsTable)]

	var adopt []string
	if hadEvents {
		adopt = append(adopt, eventsMigration)
	}
	if err := applyMigrations(ctx, s.sqlDB, migrations.FS, ".", adopt...); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if !hadEvents {
		appLog.Info("event store created", "path", s.path, "table", eventsTable)
	} else {
		appLog.Debug("event store already initialized", "path", s.path)
	}
	return nil
}

func (s *Store) tableNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out, rows.Err()
}

// Insert validates ev, writes it and returns the new id. The write is
// committed before Insert returns.
func (s *Store) Insert(ctx context.Context, ev model.Event) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO Events (name, date, rigidity, location) VALUES (?, ?, ?, ?)`,
		ev.Name, ev.Date, string(ev.Rigidity), ev.Location,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event id: %w", err)
	}
	appLog.Debug("event inserted", "id", id, "name", ev.Name, "date", ev.Date)
	return id, nil
}

// Get returns one event by id.
func (s *Store) Get(ctx context.Context, id int64) (model.Event, error) {
	if err := s.ready(ctx); err != nil {
		return model.Event{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, date, rigidity, location FROM Events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, store.ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event %d: %w", id, err)
	}
	return ev, nil
}

// ListAll returns every event in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]model.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, date, rigidity, location FROM Events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return collect(rows)
}

// ListByDay returns events whose date text contains day. instr keeps the
// match literal, so '%' and '_' in day are not wildcards.
func (s *Store) ListByDay(ctx context.Context, day string) ([]model.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, date, rigidity, location FROM Events WHERE instr(date, ?) > 0 ORDER BY id`, day)
	if err != nil {
		return nil, fmt.Errorf("list events for %q: %w", day, err)
	}
	return collect(rows)
}

// DeleteByName removes all events named name and returns how many went.
func (s *Store) DeleteByName(ctx context.Context, name string) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM Events WHERE name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("delete events named %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete events named %q: %w", name, err)
	}
	appLog.Debug("events deleted by name", "name", name, "count", n)
	return n, nil
}

// DeleteByID removes exactly one event.
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM Events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event %d: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	appLog.Debug("event deleted", "id", id)
	return nil
}

// ImportOccurrence inserts ev and links it to (sourceID, instanceKey) in one
// transaction. A key seen before is left alone, even if its event was
// deleted since.
func (s *Store) ImportOccurrence(ctx context.Context, sourceID, instanceKey string, ev model.Event) (int64, bool, error) {
	if err := s.ready(ctx); err != nil {
		return 0, false, err
	}
	if strings.TrimSpace(sourceID) == "" || strings.TrimSpace(instanceKey) == "" {
		return 0, false, errors.New("source id and instance key are required")
	}
	if err := ev.Validate(); err != nil {
		return 0, false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT event_id FROM feed_occurrences WHERE source_id = ? AND instance_key = ?`,
		sourceID, instanceKey,
	).Scan(&existing)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("lookup occurrence: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO Events (name, date, rigidity, location) VALUES (?, ?, ?, ?)`,
		ev.Name, ev.Date, string(ev.Rigidity), ev.Location,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert imported event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("insert imported event id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feed_occurrences (source_id, instance_key, event_id, imported_at) VALUES (?, ?, ?, ?)`,
		sourceID, instanceKey, id, time.Now().UTC().UnixMilli(),
	); err != nil {
		return 0, false, fmt.Errorf("link imported event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit import: %w", err)
	}
	return id, true, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEvent tolerates NULL rigidity/location written by older versions.
func scanEvent(row scanner) (model.Event, error) {
	var (
		ev       model.Event
		rigidity sql.NullString
		location sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.Name, &ev.Date, &rigidity, &location); err != nil {
		return model.Event{}, err
	}
	ev.Rigidity = model.Rigidity(rigidity.String)
	ev.Location = location.String
	return ev, nil
}

func collect(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()
	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
