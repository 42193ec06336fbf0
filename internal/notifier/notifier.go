// Package notifier delivers check results to the user through the
// platform's notification tool. Delivery is best effort: failures are
// logged and never returned to the caller.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/tracyhatemice/gomailcheck/internal/config"
)

// Termux notification ids.
const (
	InfoID  = "gomailcheck-info"
	ErrorID = "gomailcheck-error"
)

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Desktop shows notifications on a desktop session.
type Desktop interface {
	Notify(title, body string) error
	Alert(title, body string) error
}

// beeepDesktop uses the native notification service of linux, darwin and
// windows.
type beeepDesktop struct{}

func (beeepDesktop) Notify(title, body string) error { return beeep.Notify(title, body, "") }

func (beeepDesktop) Alert(title, body string) error { return beeep.Alert(title, body, "") }

// Dispatcher sends notifications to the configured platform.
type Dispatcher struct {
	cfg     config.Notify
	action  string
	desktop Desktop
	run     Runner
	sleep   func(time.Duration)
	timeout time.Duration
	logger  *slog.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option { return func(d *Dispatcher) { d.run = r } }

// WithDesktop replaces the desktop notification backend.
func WithDesktop(desk Desktop) Option { return func(d *Dispatcher) { d.desktop = desk } }

// WithSleep replaces the pause used between vibration pulses.
func WithSleep(fn func(time.Duration)) Option { return func(d *Dispatcher) { d.sleep = fn } }

// New creates a Dispatcher for cfg.
func New(cfg config.Notify, logger *slog.Logger, opts ...Option) *Dispatcher {
	action := cfg.ActionCommand
	if action == "" {
		action = "gomailcheck"
	}
	d := &Dispatcher{
		cfg:     cfg,
		action:  action,
		desktop: beeepDesktop{},
		run:     execRunner,
		sleep:   time.Sleep,
		timeout: 30 * time.Second,
		logger:  logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NotifyAll shows title and body on the configured platform.
func (d *Dispatcher) NotifyAll(title, body string) {
	switch d.cfg.GetPlatform() {
	case "termux":
		d.termux(title, body)
	case "desktop":
		d.showDesktop(title, body)
	default:
		d.logger.Info("notification", "title", title, "body", body)
	}
}

// Clear removes a termux notification by id. Other platforms have nothing
// to clear.
func (d *Dispatcher) Clear(id string) error {
	if d.cfg.GetPlatform() != "termux" || !d.cfg.TermuxNotification {
		return nil
	}
	return d.exec("termux-notification-remove", id)
}

func (d *Dispatcher) termux(title, body string) {
	if d.cfg.TermuxNotification {
		var args []string
		// Titles ending in "Error" come from failed checks.
		if strings.HasSuffix(title, "Error") {
			args = []string{
				"--id", ErrorID,
				"--title", title,
				"--content", body,
				"--group", "errors",
				"--button1", "OK",
				"--button1-action", d.action + " clear-errors",
				"--vibrate", "1000,2000",
				"--priority", "max",
				"--sound",
			}
		} else {
			args = []string{
				"--id", InfoID,
				"--title", title,
				"--content", body,
				"--button1", "Mark as Read",
				"--button1-action", d.action + " mark-read",
				"--action", d.action + " mark-read",
				"--priority", "high",
				"--sound",
			}
		}
		if err := d.exec("termux-notification", args...); err != nil {
			d.logger.Warn("termux notification failed", "error", err)
		}
	}

	if d.cfg.TermuxVibration {
		for i := 0; i < 4; i++ {
			if err := d.exec("termux-vibrate", "-d", "1000"); err != nil {
				d.logger.Warn("termux vibrate failed", "error", err)
				return
			}
			d.sleep(2 * time.Second)
		}
	}
}

func (d *Dispatcher) showDesktop(title, body string) {
	if d.cfg.DesktopNotification {
		if err := d.desktop.Notify(title, body); err != nil {
			d.logger.Warn("desktop notification failed", "error", err)
		}
	}
	if d.cfg.DesktopAlert {
		if err := d.desktop.Alert(title, body); err != nil {
			d.logger.Warn("desktop alert failed", "error", err)
		}
	}
}

func (d *Dispatcher) exec(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.run(ctx, name, args...)
}
