// Package history keeps the append-only log of mailbox check events used to
// decide whether a new snapshot is worth notifying about.
package history

import (
	"context"
	"fmt"
	"time"
)

// Observation is the part of a check that change detection compares.
type Observation struct {
	EmailCount  int
	LastSender  string
	LastSubject string
}

// CheckRecord is one persisted check event.
type CheckRecord struct {
	ID               int64
	CheckTime        time.Time
	EmailCount       int
	LastSender       string
	LastSubject      string
	LastReceivedTime *time.Time
	IsRead           bool
}

// Observation returns the comparable triple of r.
func (r CheckRecord) Observation() Observation {
	return Observation{EmailCount: r.EmailCount, LastSender: r.LastSender, LastSubject: r.LastSubject}
}

// Unread is a sender/subject pair from an unread record.
type Unread struct {
	Sender  string `db:"last_sender"`
	Subject string `db:"last_subject"`
}

// ChangeFunc reports whether cur differs materially from prev.
type ChangeFunc func(prev, cur Observation) bool

// Store defines the persistence operations on the check history.
type Store interface {
	// AppendCheck inserts a new unread record stamped with the current time.
	AppendCheck(ctx context.Context, obs Observation, receivedAt *time.Time) error

	// Latest returns the newest record's observation, or the zero
	// Observation when the store is empty.
	Latest(ctx context.Context) (Observation, error)

	// AppendIfChanged reads the latest observation and appends obs when
	// changed reports a difference, as one atomic step.
	AppendIfChanged(ctx context.Context, obs Observation, receivedAt *time.Time, changed ChangeFunc) (bool, error)

	// UnreadToday returns unread records checked on the current local date.
	UnreadToday(ctx context.Context) ([]Unread, error)

	// MarkLatestUnreadAsRead flags the highest-id unread record as read.
	// It is a no-op when nothing is unread.
	MarkLatestUnreadAsRead(ctx context.Context) error

	// Records returns up to limit records, newest first. limit <= 0 means all.
	Records(ctx context.Context, limit int) ([]CheckRecord, error)

	Close() error
}

// UnavailableError reports a failure of the underlying storage.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("history store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}
