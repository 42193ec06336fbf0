package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel  string    `yaml:"log_level"`
	Mailbox   Mailbox   `yaml:"mailbox"`
	Store     Store     `yaml:"store"`
	Notify    Notify    `yaml:"notify"`
	Schedules Schedules `yaml:"schedules"`
}

// Mailbox describes the monitored email account.
type Mailbox struct {
	Protocol             string `yaml:"protocol"` // "pop3" or "imap"
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	UseTLS               bool   `yaml:"use_tls"`
	IMAPFolder           string `yaml:"imap_folder"`
	TimeoutSeconds       int    `yaml:"timeout_seconds"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
}

// Store holds the check-history database settings.
type Store struct {
	Path string `yaml:"path"`
}

// Notify selects and tunes the notification platform.
type Notify struct {
	Platform            string `yaml:"platform"` // "termux", "desktop" or "none"
	TermuxNotification  bool   `yaml:"termux_notification"`
	TermuxVibration     bool   `yaml:"termux_vibration"`
	DesktopNotification bool   `yaml:"desktop_notification"`
	DesktopAlert        bool   `yaml:"desktop_alert"`
	ActionCommand       string `yaml:"action_command"`
}

// Schedules lists the crontab entries managed by the schedule command.
type Schedules struct {
	Enabled bool     `yaml:"enabled"`
	Tasks   []string `yaml:"tasks"` // "m h dom mon dow action"
}

// GetIMAPFolder returns the IMAP folder name, defaulting to "INBOX".
func (m *Mailbox) GetIMAPFolder() string {
	if m.IMAPFolder == "" {
		return "INBOX"
	}
	return m.IMAPFolder
}

// Timeout returns the dial timeout, defaulting to 30 seconds.
func (m *Mailbox) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// CheckInterval returns the watch-mode interval, defaulting to five minutes.
func (m *Mailbox) CheckInterval() time.Duration {
	if m.CheckIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

// GetDBPath returns the history database path, defaulting to "email_logs.db".
func (s *Store) GetDBPath() string {
	if s.Path == "" {
		return "email_logs.db"
	}
	return s.Path
}

// GetPlatform returns the notification platform, defaulting to "termux".
func (n *Notify) GetPlatform() string {
	if n.Platform == "" {
		return "termux"
	}
	return n.Platform
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel: "info",
		Mailbox: Mailbox{
			Protocol: "pop3",
			UseTLS:   true,
		},
		Notify: Notify{
			TermuxNotification:  true,
			DesktopNotification: true,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	m := c.Mailbox
	if m.Protocol != "pop3" && m.Protocol != "imap" {
		return fmt.Errorf("mailbox.protocol must be pop3 or imap")
	}
	if m.Host == "" {
		return fmt.Errorf("mailbox.host is required")
	}
	if m.Port == 0 {
		return fmt.Errorf("mailbox.port is required")
	}
	if m.Username == "" {
		return fmt.Errorf("mailbox.username is required")
	}
	switch c.Notify.GetPlatform() {
	case "termux", "desktop", "none":
	default:
		return fmt.Errorf("notify.platform must be termux, desktop or none")
	}
	return nil
}
