package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracyhatemice/gomailcheck/internal/history"
	"github.com/tracyhatemice/gomailcheck/internal/receiver"
)

// Notification titles.
const (
	TitleNewMail = "New Emails Today"
	TitleError   = "POP3 Error"
)

// Notifier delivers best-effort user notifications.
type Notifier interface {
	NotifyAll(title, body string)
}

// Checker runs mailbox check cycles against one account.
type Checker struct {
	dialer   receiver.Dialer
	store    history.Store
	notifier Notifier
	logger   *slog.Logger
}

// New creates a Checker.
func New(dialer receiver.Dialer, store history.Store, notifier Notifier, logger *slog.Logger) *Checker {
	return &Checker{
		dialer:   dialer,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// RunCheck performs one check cycle. It never fails: any error, including a
// panic inside the cycle, is reported through the notifier.
func (c *Checker) RunCheck(ctx context.Context) {
	err := c.safeCheck(ctx)
	if err == nil {
		return
	}

	var te *receiver.TransportError
	var ue *history.UnavailableError
	switch {
	case errors.As(err, &te):
		c.logger.Error("mail transport failed", "op", te.Op, "error", te.Err)
	case errors.As(err, &ue):
		c.logger.Error("history store failed", "op", ue.Op, "error", ue.Err)
	default:
		c.logger.Error("check failed", "error", err)
	}
	c.notifier.NotifyAll(TitleError, err.Error())
}

func (c *Checker) safeCheck(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return c.check(ctx)
}

func (c *Checker) check(ctx context.Context) error {
	sess, err := c.dialer.Connect()
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			c.logger.Warn("closing mail session", "error", err)
		}
	}()

	ids, err := sess.List()
	if err != nil {
		return err
	}
	c.logger.Info("listed mailbox", "count", len(ids))

	var raw []byte
	if len(ids) > 0 {
		newest := ids[0]
		for _, id := range ids[1:] {
			newest = max(newest, id)
		}
		raw, err = sess.Retrieve(newest)
		if err != nil {
			return err
		}
	}

	snap := Translate(len(ids), raw)

	changed, err := c.store.AppendIfChanged(ctx, snap.Observation(), snap.ReceivedAt, Changed)
	if err != nil {
		return err
	}
	if !changed {
		c.logger.Info("no new messages", "count", snap.Count)
		return nil
	}
	c.logger.Info("mailbox changed",
		"count", snap.Count,
		"sender", snap.Sender,
		"subject", snap.Subject,
	)

	// An emptied mailbox is recorded but brings no new mail to announce.
	if snap.Count == 0 {
		c.logger.Info("mailbox is empty")
		return nil
	}

	unread, err := c.store.UnreadToday(ctx)
	if err != nil {
		return err
	}
	if body := FormatUnread(unread); body != "" {
		c.notifier.NotifyAll(TitleNewMail, body)
	}
	return nil
}

// MarkLastAsRead flags the newest unread check record as read.
func (c *Checker) MarkLastAsRead(ctx context.Context) error {
	return c.store.MarkLatestUnreadAsRead(ctx)
}

// Run checks immediately, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.logger.Info("starting checker", "interval", interval)

	c.RunCheck(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("checker stopped")
			return
		case <-ticker.C:
			c.RunCheck(ctx)
		}
	}
}

// FormatUnread renders one "sender – subject" line per unread record.
// Records with neither sender nor subject mark an emptied mailbox rather
// than a message and are left out.
func FormatUnread(unread []history.Unread) string {
	lines := make([]string, 0, len(unread))
	for _, u := range unread {
		if u.Sender == "" && u.Subject == "" {
			continue
		}
		lines = append(lines, u.Sender+" – "+u.Subject)
	}
	return strings.Join(lines, "\n")
}
