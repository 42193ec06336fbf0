package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/tracyhatemice/gomailcheck/internal/checker"
	"github.com/tracyhatemice/gomailcheck/internal/config"
	"github.com/tracyhatemice/gomailcheck/internal/history"
	"github.com/tracyhatemice/gomailcheck/internal/notifier"
	"github.com/tracyhatemice/gomailcheck/internal/receiver"
	"github.com/tracyhatemice/gomailcheck/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.LogLevel)

	self := selfCommand(*configPath)
	if cfg.Notify.ActionCommand == "" {
		cfg.Notify.ActionCommand = self
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier.New(cfg.Notify, logger),
		self:     self,
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	name, args := flag.Arg(0), flag.Args()[1:]
	run, ok := actions[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	logger.Debug("executing command", "command", name)
	if err := run(ctx, a, args); err != nil {
		logger.Error("command failed", "command", name, "error", err)
		a.close()
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier *notifier.Dispatcher
	store    *history.SQLiteStore
	self     string
}

func (a *app) openStore() (*history.SQLiteStore, error) {
	if a.store == nil {
		s, err := history.NewSQLiteStore(a.cfg.Store.GetDBPath())
		if err != nil {
			return nil, err
		}
		a.store = s
	}
	return a.store, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
}

func (a *app) checker() (*checker.Checker, error) {
	dialer, err := newDialer(a.cfg.Mailbox, a.logger)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return checker.New(dialer, store, a.notifier, a.logger), nil
}

type action func(ctx context.Context, a *app, args []string) error

var actions = map[string]action{
	"check":         runCheck,
	"watch":         runWatch,
	"mark-read":     runMarkRead,
	"clear-errors":  runClearErrors,
	"notify-status": runNotifyStatus,
	"test-notify":   runTestNotify,
	"history":       runHistory,
	"schedule":      runSchedule,
}

func runCheck(ctx context.Context, a *app, _ []string) error {
	c, err := a.checker()
	if err != nil {
		a.notifier.NotifyAll(checker.TitleError, err.Error())
		return err
	}
	a.logger.Info("running email check")
	c.RunCheck(ctx)
	return nil
}

func runWatch(ctx context.Context, a *app, _ []string) error {
	c, err := a.checker()
	if err != nil {
		return err
	}
	c.Run(ctx, a.cfg.Mailbox.CheckInterval())
	return nil
}

func runMarkRead(ctx context.Context, a *app, _ []string) error {
	c, err := a.checker()
	if err != nil {
		return err
	}
	if err := c.MarkLastAsRead(ctx); err != nil {
		return err
	}
	if err := a.notifier.Clear(notifier.InfoID); err != nil {
		return fmt.Errorf("clear notification: %w", err)
	}
	return nil
}

func runClearErrors(_ context.Context, a *app, _ []string) error {
	return a.notifier.Clear(notifier.ErrorID)
}

func runNotifyStatus(_ context.Context, a *app, _ []string) error {
	a.notifier.NotifyAll("Email Checker", "Email checker is started and running")
	return nil
}

func runTestNotify(_ context.Context, a *app, _ []string) error {
	a.notifier.NotifyAll("Test Notification", "This is a test notification from the email checker.")
	return nil
}

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of records to show (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	records, err := store.Records(ctx, *limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHECKED\tCOUNT\tREAD\tSENDER\tSUBJECT")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%s\t%s\n",
			r.ID, r.CheckTime.Format("2006-01-02 15:04:05"), r.EmailCount, r.IsRead, r.LastSender, r.LastSubject)
	}
	return w.Flush()
}

func runSchedule(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: schedule setup|remove|list|add <schedule> <action>|del <action> [schedule]")
	}
	m := scheduler.NewManager(scheduler.SystemCrontab{}, a.self, a.logger)

	switch sub := strings.ToLower(args[0]); sub {
	case "setup", "remove":
		tasks, err := scheduler.ParseTasks(a.cfg.Schedules)
		if err != nil {
			a.logger.Warn("skipping invalid tasks", "error", err)
		}
		if len(tasks) == 0 {
			a.logger.Info("no scheduled tasks configured", "enabled", a.cfg.Schedules.Enabled)
			return nil
		}
		var n int
		if sub == "setup" {
			n, err = m.Setup(ctx, tasks)
		} else {
			n, err = m.RemoveAll(ctx, tasks)
		}
		a.logger.Info("schedule "+sub+" finished", "succeeded", n, "total", len(tasks))
		return err
	case "list":
		tab, err := m.List(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(tab) == "" {
			fmt.Println("No cron jobs found")
			return nil
		}
		fmt.Print(tab)
		return nil
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: schedule add '<minute hour day month weekday>' <action>")
		}
		task, err := scheduler.NewTask(args[1], args[2])
		if err != nil {
			return err
		}
		return m.Add(ctx, task)
	case "del":
		if len(args) < 2 {
			return fmt.Errorf("usage: schedule del <action> [schedule]")
		}
		schedule := ""
		if len(args) > 2 {
			schedule = args[2]
		}
		return m.Remove(ctx, args[1], schedule)
	default:
		return fmt.Errorf("unknown schedule command %q", sub)
	}
}

func newDialer(m config.Mailbox, logger *slog.Logger) (receiver.Dialer, error) {
	switch m.Protocol {
	case "pop3":
		return receiver.NewPOP3(
			m.Host, m.Port,
			m.Username, m.Password,
			m.UseTLS, m.Timeout(), logger,
		), nil
	case "imap":
		return receiver.NewIMAP(
			m.Host, m.Port,
			m.Username, m.Password,
			m.UseTLS, m.GetIMAPFolder(), m.Timeout(), logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", m.Protocol)
	}
}

// selfCommand returns the shell command that re-invokes this binary with
// the same configuration, for crontab entries and notification buttons.
func selfCommand(configPath string) string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	dir := filepath.Dir(configPath)
	return fmt.Sprintf("cd %s && %s -config %s", shellQuote(dir), shellQuote(exe), shellQuote(configPath))
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: gomailcheck [-config path] <command> [args]

Commands:
  check                    check the mailbox once
  watch                    check on every check_interval_seconds until interrupted
  mark-read                mark the newest unread check as read
  clear-errors             dismiss error notifications
  notify-status            send a "checker is running" notification
  test-notify              send a test notification
  history [-n N]           show recent check records
  schedule setup           install crontab entries from the config
  schedule remove          remove crontab entries from the config
  schedule list            show the current crontab
  schedule add '<cron>' <action>
  schedule del <action> [cron]
`)
}
