// Package queue persists submissions that could not be delivered while the
// device was offline.
//
// Entries live in the queue_entries table of a database/sql store: a local
// SQLite file on the device, or a shared PostgreSQL database when several
// kiosks feed one queue.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/pathlabs/trackmate/internal/domain"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Kind identifies what a queued payload holds.
type Kind string

const (
	KindReport Kind = "report"
	KindSurvey Kind = "survey"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a recognized value.
func (k Kind) IsValid() bool {
	switch k {
	case KindReport, KindSurvey:
		return true
	}
	return false
}

// Entry is one undelivered submission.
type Entry struct {
	ID        uuid.UUID
	Kind      Kind
	Payload   json.RawMessage
	PhotoKey  string // Storage key of an attached photo, if any
	Attempts  int    // Failed delivery attempts so far
	LastError string // Error from the most recent failed attempt
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Entry) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s entry %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

// Open opens the queue database for driver and tunes the pool for it.
// SQLite gets a single connection so an in-memory database is shared and
// writers never contend.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA journal_mode = WAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Store is the queue repository.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB, driver string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		driver: driver,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue appends a payload to the queue.
func (s *Store) Enqueue(ctx context.Context, kind Kind, payload interface{}, photoKey string) (*Entry, error) {
	const op = "queue.enqueue"

	if !kind.IsValid() {
		return nil, domain.Errorf(domain.EINVALID, op, "unknown entry kind %q", kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode payload")
	}

	now := s.now().UTC()
	e := &Entry{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   data,
		PhotoKey:  photoKey,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO queue_entries (id, kind, payload, photo_key, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '', ?, ?)`),
		e.ID.String(), string(e.Kind), string(e.Payload), nullString(photoKey), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to store entry")
	}

	s.logger.Debug("entry queued", "id", e.ID, "kind", kind, "has_photo", photoKey != "")
	return e, nil
}

// List returns every queued entry, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	const op = "queue.list"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, photo_key, attempts, last_error, created_at, updated_at
		FROM queue_entries
		ORDER BY created_at, id`)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to read entry")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, op, "failed to list entries")
	}
	return entries, nil
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	const op = "queue.get"

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, kind, payload, photo_key, attempts, last_error, created_at, updated_at
		FROM queue_entries
		WHERE id = ?`), id.String())

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "queue entry", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read entry")
	}
	return e, nil
}

// Delete removes an entry after it was delivered.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "queue.delete"

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM queue_entries WHERE id = ?`), id.String())
	if err != nil {
		return domain.Internal(err, op, "failed to delete entry")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound(op, "queue entry", id.String())
	}
	return nil
}

// RecordFailure bumps the attempt counter and stores the failure text.
// The entry stays queued.
func (s *Store) RecordFailure(ctx context.Context, id uuid.UUID, cause string) error {
	const op = "queue.record_failure"

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE queue_entries
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`),
		cause, s.now().UTC(), id.String(),
	)
	if err != nil {
		return domain.Internal(err, op, "failed to record failure")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound(op, "queue entry", id.String())
	}
	return nil
}

// Count returns the number of queued entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries`).Scan(&n); err != nil {
		return 0, domain.Internal(err, "queue.count", "failed to count entries")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e        Entry
		id       string
		kind     string
		payload  string
		photoKey sql.NullString
	)
	if err := row.Scan(&id, &kind, &payload, &photoKey, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse entry id %q: %w", id, err)
	}
	e.ID = parsed
	e.Kind = Kind(kind)
	e.Payload = json.RawMessage(payload)
	e.PhotoKey = photoKey.String
	return &e, nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
