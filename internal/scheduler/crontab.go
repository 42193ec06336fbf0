package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Crontab reads and replaces the current user's crontab.
type Crontab interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, content string) error
}

// SystemCrontab drives the crontab(1) command.
type SystemCrontab struct{}

// Read returns the installed crontab, or "" when the user has none.
func (SystemCrontab) Read(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "crontab", "-l")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(stderr.String()), "no crontab") {
			return "", nil
		}
		return "", fmt.Errorf("crontab -l: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Write installs content as the user's crontab.
func (SystemCrontab) Write(ctx context.Context, content string) error {
	cmd := exec.CommandContext(ctx, "crontab", "-")
	cmd.Stdin = strings.NewReader(content)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("crontab -: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Manager installs and removes tagged gomailcheck entries.
type Manager struct {
	tab     Crontab
	command string
	logger  *slog.Logger
}

// NewManager creates a Manager. command is the shell command prefix each
// entry runs, e.g. "cd /srv/mail && /usr/local/bin/gomailcheck -config config.yaml".
func NewManager(tab Crontab, command string, logger *slog.Logger) *Manager {
	return &Manager{tab: tab, command: command, logger: logger}
}

// Add installs t, replacing an existing entry with the same tag.
func (m *Manager) Add(ctx context.Context, t Task) error {
	current, err := m.tab.Read(ctx)
	if err != nil {
		return err
	}
	updated, replaced := AddEntry(current, t, m.command)
	if replaced {
		m.logger.Info("replacing existing cron job", "action", t.Action, "schedule", t.Schedule)
	}
	if err := m.tab.Write(ctx, updated); err != nil {
		return fmt.Errorf("add cron job %s: %w", t.Action, err)
	}
	m.logger.Info("added cron job", "entry", t.Entry(m.command))
	return nil
}

// Remove deletes entries for action; an empty schedule removes all of them.
func (m *Manager) Remove(ctx context.Context, action, schedule string) error {
	current, err := m.tab.Read(ctx)
	if err != nil {
		return err
	}
	updated, removed := RemoveEntries(current, action, schedule)
	if removed == 0 {
		m.logger.Info("no cron job found", "action", action)
		return nil
	}
	if err := m.tab.Write(ctx, updated); err != nil {
		return fmt.Errorf("remove cron job %s: %w", action, err)
	}
	m.logger.Info("removed cron jobs", "action", action, "count", removed)
	return nil
}

// Setup installs every task and returns how many succeeded.
func (m *Manager) Setup(ctx context.Context, tasks []Task) (int, error) {
	var errs []error
	ok := 0
	for _, t := range tasks {
		if err := m.Add(ctx, t); err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// RemoveAll deletes the entries of every task and returns how many succeeded.
func (m *Manager) RemoveAll(ctx context.Context, tasks []Task) (int, error) {
	var errs []error
	ok := 0
	for _, t := range tasks {
		if err := m.Remove(ctx, t.Action, t.Schedule); err != nil {
			errs = append(errs, err)
			continue
		}
		ok++
	}
	return ok, errors.Join(errs...)
}

// List returns the installed crontab.
func (m *Manager) List(ctx context.Context) (string, error) {
	return m.tab.Read(ctx)
}
