package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// checkTimeLayout is fixed-width so stored timestamps sort lexicographically.
const checkTimeLayout = "2006-01-02T15:04:05.000000"

// checkTimeParseLayout also accepts rows without fractional seconds, as
// written by older versions of the checker.
const checkTimeParseLayout = "2006-01-02T15:04:05.999999999"

// dsnParams are applied by the driver to every connection. Immediate
// transactions take the write lock on BEGIN, so a second process running
// AppendIfChanged waits out busy_timeout instead of failing its upgrade.
const dsnParams = "_txlock=immediate" +
	"&_pragma=busy_timeout(10000)" +
	"&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(FULL)"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a file-backed SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	mu  sync.Mutex
	now func() time.Time
}

// Option customises a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces time.Now as the source of check timestamps and of
// the current date used by UnreadToday.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs any
// pending schema migrations. Use ":memory:" for a throwaway store.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, unavailable("create db dir", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?"+dsnParams)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// AppendCheck inserts a new unread record stamped with the current time.
func (s *SQLiteStore) AppendCheck(ctx context.Context, obs Observation, receivedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insert(ctx, s.db, obs, receivedAt); err != nil {
		return unavailable("append check", err)
	}
	return nil
}

// Latest returns the newest record's observation, or the zero Observation
// when the store is empty.
func (s *SQLiteStore) Latest(ctx context.Context) (Observation, error) {
	obs, err := latest(ctx, s.db)
	if err != nil {
		return Observation{}, unavailable("latest record", err)
	}
	return obs, nil
}

// AppendIfChanged runs the read-latest and conditional insert in a single
// immediate transaction, serialized across processes sharing the file.
func (s *SQLiteStore) AppendIfChanged(ctx context.Context, obs Observation, receivedAt *time.Time, changed ChangeFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	prev, err := latest(ctx, tx)
	if err != nil {
		return false, unavailable("latest record", err)
	}
	if !changed(prev, obs) {
		return false, nil
	}

	if err := s.insert(ctx, tx, obs, receivedAt); err != nil {
		return false, unavailable("append check", err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("commit", err)
	}
	return true, nil
}

// UnreadToday returns unread records whose check time falls on the current
// local calendar date, in insertion order.
func (s *SQLiteStore) UnreadToday(ctx context.Context) ([]Unread, error) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)

	var rows []Unread
	err := s.db.SelectContext(ctx, &rows, `
		SELECT last_sender, last_subject FROM email_checks
		WHERE check_time >= ? AND check_time < ? AND is_read = 0
		ORDER BY id`,
		start.Format(checkTimeLayout), end.Format(checkTimeLayout),
	)
	if err != nil {
		return nil, unavailable("unread today", err)
	}
	return rows, nil
}

// MarkLatestUnreadAsRead flags the highest-id unread record as read.
func (s *SQLiteStore) MarkLatestUnreadAsRead(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE email_checks SET is_read = 1
		WHERE id = (
			SELECT id FROM email_checks
			WHERE is_read = 0
			ORDER BY id DESC LIMIT 1
		)`)
	if err != nil {
		return unavailable("mark latest unread as read", err)
	}
	return nil
}

type recordRow struct {
	ID               int64          `db:"id"`
	CheckTime        string         `db:"check_time"`
	EmailCount       int            `db:"email_count"`
	LastSender       string         `db:"last_sender"`
	LastSubject      string         `db:"last_subject"`
	LastReceivedTime sql.NullString `db:"last_received_time"`
	IsRead           bool           `db:"is_read"`
}

// Records returns up to limit records, newest first. limit <= 0 means all.
func (s *SQLiteStore) Records(ctx context.Context, limit int) ([]CheckRecord, error) {
	query := `
		SELECT id, check_time, email_count, last_sender, last_subject,
		       last_received_time, is_read
		FROM email_checks ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, unavailable("list records", err)
	}

	records := make([]CheckRecord, 0, len(rows))
	for _, r := range rows {
		checkTime, err := time.ParseInLocation(checkTimeParseLayout, r.CheckTime, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parsing check_time of record %d: %w", r.ID, err)
		}
		rec := CheckRecord{
			ID:          r.ID,
			CheckTime:   checkTime,
			EmailCount:  r.EmailCount,
			LastSender:  r.LastSender,
			LastSubject: r.LastSubject,
			IsRead:      r.IsRead,
		}
		if r.LastReceivedTime.Valid {
			received, err := time.Parse(time.RFC3339, r.LastReceivedTime.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_received_time of record %d: %w", r.ID, err)
			}
			rec.LastReceivedTime = &received
		}
		records = append(records, rec)
	}
	return records, nil
}

func latest(ctx context.Context, q sqlx.QueryerContext) (Observation, error) {
	var row struct {
		EmailCount  int    `db:"email_count"`
		LastSender  string `db:"last_sender"`
		LastSubject string `db:"last_subject"`
	}
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT email_count, last_sender, last_subject
		FROM email_checks
		ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return Observation{}, nil
	}
	if err != nil {
		return Observation{}, err
	}
	return Observation{EmailCount: row.EmailCount, LastSender: row.LastSender, LastSubject: row.LastSubject}, nil
}

func (s *SQLiteStore) insert(ctx context.Context, e sqlx.ExecerContext, obs Observation, receivedAt *time.Time) error {
	var received sql.NullString
	if receivedAt != nil {
		received = sql.NullString{String: receivedAt.Format(time.RFC3339), Valid: true}
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO email_checks (check_time, email_count, last_sender, last_subject, last_received_time)
		VALUES (?, ?, ?, ?, ?)`,
		s.now().Format(checkTimeLayout), obs.EmailCount, obs.LastSender, obs.LastSubject, received,
	)
	return err
}
