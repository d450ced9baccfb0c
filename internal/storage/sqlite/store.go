// Package sqlite provides the SQLite-backed event store. The natural key
// (event_date, summary, description) is a UNIQUE constraint in the schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"campuscal/internal/model"
	"campuscal/internal/storage"
	"campuscal/internal/storage/sqlite/migrations"
)

// Store persists events in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.EventStore = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite event store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := ensureDir(cleanPath); err != nil {
		return nil, err
	}

	// Immediate transactions take the write lock up front, so two upserts
	// of the same key cannot both read "absent" and race to insert.
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const eventColumns = `start_at, end_at, cost, categories, summary, description, link, location, updated_at`

// Upsert replaces or inserts the record at key and stamps updated_at. The
// result is Unchanged only when every stored field already matched ev.
func (s *Store) Upsert(ctx context.Context, ev model.Event, key model.NaturalKey) (model.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if err := validate(ev, key); err != nil {
		return 0, err
	}

	categories, err := encodeLabels(ev.Categories)
	if err != nil {
		return 0, err
	}
	updatedAt := toMillis(s.now())

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, `+eventColumns+`
		   FROM events
		  WHERE event_date = ? AND summary = ? AND description = ?`,
		key.Date, key.Summary, key.Description,
	)
	var id int64
	existing, err := scanEvent(row, &id)

	result := model.Inserted
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (
			   event_date, summary, description,
			   start_at, end_at, cost, categories, link, location, updated_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Date, key.Summary, key.Description,
			toMillis(ev.Start), toMillis(ev.End), ev.Cost, categories, ev.Link, ev.Location, updatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("load event: %w", err)
	default:
		result = model.Updated
		if sameContent(existing, ev) {
			result = model.Unchanged
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE events
			    SET start_at = ?, end_at = ?, cost = ?, categories = ?,
			        link = ?, location = ?, updated_at = ?
			  WHERE id = ?`,
			toMillis(ev.Start), toMillis(ev.End), ev.Cost, categories, ev.Link, ev.Location, updatedAt, id,
		)
		if err != nil {
			return 0, fmt.Errorf("update event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return result, nil
}

// Get returns the record stored at key.
func (s *Store) Get(ctx context.Context, key model.NaturalKey) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return model.Event{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, `+eventColumns+`
		   FROM events
		  WHERE event_date = ? AND summary = ? AND description = ?`,
		key.Date, key.Summary, key.Description,
	)
	var id int64
	ev, err := scanEvent(row, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// FindByRange returns events ordered by start. At least one bound is
// required; see storage.EventFinder for the matching rule.
func (s *Store) FindByRange(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if start.IsZero() && end.IsZero() {
		return nil, storage.ErrRangeRequired
	}

	var where []string
	var args []any
	if !start.IsZero() {
		where = append(where, "start_at >= ?")
		args = append(args, toMillis(start))
	}
	if !end.IsZero() {
		where = append(where, "end_at <= ?")
		args = append(args, toMillis(end))
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, `+eventColumns+`
		   FROM events
		  WHERE `+strings.Join(where, " AND ")+`
		  ORDER BY start_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var id int64
		ev, err := scanEvent(rows, &id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner, id *int64) (model.Event, error) {
	var ev model.Event
	var startAt, endAt, updatedAt int64
	var categories string
	if err := row.Scan(
		id,
		&startAt,
		&endAt,
		&ev.Cost,
		&categories,
		&ev.Summary,
		&ev.Description,
		&ev.Link,
		&ev.Location,
		&updatedAt,
	); err != nil {
		return model.Event{}, err
	}
	labels, err := decodeLabels(categories)
	if err != nil {
		return model.Event{}, err
	}
	ev.Categories = labels
	ev.Start = fromMillis(startAt)
	ev.End = fromMillis(endAt)
	ev.UpdatedAt = fromMillis(updatedAt)
	return ev, nil
}

func validate(ev model.Event, key model.NaturalKey) error {
	switch {
	case strings.TrimSpace(key.Date) == "":
		return fmt.Errorf("%w: natural key date is required", storage.ErrInvalidEvent)
	case strings.TrimSpace(key.Summary) == "":
		return fmt.Errorf("%w: summary is required", storage.ErrInvalidEvent)
	case key.Summary != ev.Summary || key.Description != ev.Description:
		return fmt.Errorf("%w: natural key does not match event", storage.ErrInvalidEvent)
	case ev.Start.IsZero() || ev.End.IsZero():
		return fmt.Errorf("%w: start and end are required", storage.ErrInvalidEvent)
	case ev.End.Before(ev.Start):
		return fmt.Errorf("%w: end is before start", storage.ErrInvalidEvent)
	}
	return nil
}

// sameContent compares every stored field except updated_at, at the
// store's millisecond precision.
func sameContent(stored, ev model.Event) bool {
	return toMillis(stored.Start) == toMillis(ev.Start) &&
		toMillis(stored.End) == toMillis(ev.End) &&
		stored.Cost == ev.Cost &&
		stored.Link == ev.Link &&
		stored.Location == ev.Location &&
		labelsEqual(stored.Categories, normalizeLabels(ev.Categories))
}

// normalizeLabels sorts and dedupes labels so that categories compare as a
// set.
func normalizeLabels(labels []model.Label) []model.Label {
	out := make([]model.Label, 0, len(labels))
	seen := make(map[model.Label]bool, len(labels))
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func labelsEqual(a, b []model.Label) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeLabels(labels []model.Label) (string, error) {
	data, err := json.Marshal(normalizeLabels(labels))
	if err != nil {
		return "", fmt.Errorf("encode categories: %w", err)
	}
	return string(data), nil
}

func decodeLabels(raw string) ([]model.Label, error) {
	labels := make([]model.Label, 0)
	if strings.TrimSpace(raw) == "" {
		return labels, nil
	}
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return labels, nil
}
