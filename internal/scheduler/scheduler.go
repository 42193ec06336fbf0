// Package scheduler installs gomailcheck actions into the user's crontab.
//
// Every managed entry ends with a tag comment of the form
//
//	# gomailcheck-<action>-<schedule with spaces replaced by underscores>
//
// so entries can be found again without touching unrelated lines.
package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/tracyhatemice/gomailcheck/internal/config"
)

const tagPrefix = "gomailcheck-"

// Actions are the subcommands a crontab entry may run.
var Actions = []string{"check", "mark-read", "clear-errors", "notify-status", "test-notify"}

// Task is one scheduled action.
type Task struct {
	Schedule string // five-field cron expression
	Action   string
}

// Tag returns the identifier comment text for t.
func (t Task) Tag() string {
	return tagPrefix + t.Action + "-" + strings.ReplaceAll(t.Schedule, " ", "_")
}

// Entry renders the crontab line that runs t through command.
func (t Task) Entry(command string) string {
	return fmt.Sprintf("%s %s %s # %s", t.Schedule, command, t.Action, t.Tag())
}

// NewTask validates schedule and action.
func NewTask(schedule, action string) (Task, error) {
	schedule = strings.Join(strings.Fields(schedule), " ")
	if _, err := cron.ParseStandard(schedule); err != nil {
		return Task{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if !slices.Contains(Actions, action) {
		return Task{}, fmt.Errorf("unknown action %q (available: %s)", action, strings.Join(Actions, ", "))
	}
	return Task{Schedule: schedule, Action: action}, nil
}

// ParseTask parses "minute hour day month weekday action".
func ParseTask(s string) (Task, error) {
	parts := strings.Fields(s)
	if len(parts) < 6 {
		return Task{}, fmt.Errorf("invalid task %q: expected 'minute hour day month weekday action'", s)
	}
	return NewTask(strings.Join(parts[:5], " "), parts[5])
}

// ParseTasks returns the valid tasks of cfg. Invalid entries are skipped
// and reported together in the returned error. Disabled schedules yield no
// tasks.
func ParseTasks(cfg config.Schedules) ([]Task, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var (
		tasks []Task
		errs  []error
	)
	for _, s := range cfg.Tasks {
		if strings.TrimSpace(s) == "" {
			continue
		}
		task, err := ParseTask(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, errors.Join(errs...)
}

// AddEntry returns crontab with any entry tagged like t replaced by a
// fresh one. replaced reports whether an old entry was dropped.
func AddEntry(crontab string, t Task, command string) (updated string, replaced bool) {
	kept, removed := filterLines(crontab, func(line string) bool {
		return hasTag(line, t.Tag())
	})
	kept = append(kept, t.Entry(command))
	return joinLines(kept), removed > 0
}

// RemoveEntries drops entries for action. An empty schedule removes every
// entry of that action.
func RemoveEntries(crontab, action, schedule string) (updated string, removed int) {
	match := func(line string) bool {
		return strings.Contains(line, "# "+tagPrefix+action+"-")
	}
	if schedule != "" {
		tag := Task{Schedule: strings.Join(strings.Fields(schedule), " "), Action: action}.Tag()
		match = func(line string) bool { return hasTag(line, tag) }
	}
	kept, removed := filterLines(crontab, match)
	return joinLines(kept), removed
}

func hasTag(line, tag string) bool {
	return strings.HasSuffix(strings.TrimSpace(line), "# "+tag)
}

func filterLines(crontab string, drop func(string) bool) ([]string, int) {
	var (
		kept    []string
		removed int
	)
	for _, line := range strings.Split(strings.TrimRight(crontab, "\n"), "\n") {
		if line == "" && len(kept) == 0 {
			continue
		}
		if drop(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return kept, removed
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
