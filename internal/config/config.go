// Package config loads the immutable configuration snapshot consumed by
// every component of the relay.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the validated, immutable snapshot read once at startup.
// Field names mirror the option table: yaml tags are the option names.
type Config struct {
	BotToken    string `yaml:"bot_token"`
	BotUsername string `yaml:"bot_username"`

	ReplyDelayRaw string        `yaml:"reply_delay"`
	ReplyDelay    time.Duration `yaml:"-"`

	PollTimeout int `yaml:"poll_timeout"`
	PollLimit   int `yaml:"poll_limit"`

	AccessPath string `yaml:"access_path"`

	WebhookEnabled  bool   `yaml:"webhook_enabled"`
	WebhookPort     int    `yaml:"webhook_port"`
	WebhookThreads  int    `yaml:"webhook_threads"`
	WebhookPoolSize int    `yaml:"webhook_pool_size"`
	WebhookSecret   string `yaml:"webhook_secret"`

	AdminID int64 `yaml:"admin_id"`

	WorkerCount  int `yaml:"worker_count"`
	UserRingSize int `yaml:"user_ring_size"`

	LogPath      string `yaml:"log_path"`
	LogMaxSizeMB int    `yaml:"log_max_size_mb"`

	CompletionEndpoint     string `yaml:"completion_endpoint"`
	CompletionModel        string `yaml:"completion_model"`
	CompletionMaxTokens    int    `yaml:"completion_max_tokens"`
	CompletionSystemPrompt string `yaml:"completion_system_prompt"`

	// AuditPath is a sqlite database file recording access-list changes
	// and unresolved slash-commands. Empty disables the audit trail
	// entirely -- no database is opened.
	AuditPath           string `yaml:"audit_path"`
	AuditRetentionHours int    `yaml:"audit_retention_hours"`
}

// defaults applied before bounds validation, for options the operator
// left unset (YAML zero value would otherwise be out of range).
func withDefaults(c Config) Config {
	if c.PollTimeout == 0 {
		c.PollTimeout = 30
	}
	if c.PollLimit == 0 {
		c.PollLimit = 100
	}
	if c.WebhookPort == 0 {
		c.WebhookPort = 8443
	}
	if c.WebhookThreads == 0 {
		c.WebhookThreads = 4
	}
	if c.WebhookPoolSize == 0 {
		c.WebhookPoolSize = 8
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 4
	}
	if c.UserRingSize == 0 {
		c.UserRingSize = 32
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 4
	}
	if c.AuditRetentionHours == 0 {
		c.AuditRetentionHours = 30 * 24
	}
	return c
}

// Load reads and validates path, returning an immutable snapshot. Any
// out-of-range option is a fatal configuration error.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	delay, err := parseDurationOrDefault("reply_delay", c.ReplyDelayRaw, 0)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.ReplyDelay = delay

	c = withDefaults(c)

	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// parseDurationField and parseDurationOrDefault accept Go duration
// strings ("5s", "250ms") for any *_raw config field backed by a
// time.Duration, rather than yaml's bare-integer-nanoseconds default.
func parseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

func parseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationField(field, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func validate(c *Config) error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required")
	}
	if err := between("reply_delay", int(c.ReplyDelay/time.Second), 0, 300); err != nil {
		return err
	}
	if err := between("poll_timeout", c.PollTimeout, 1, 120); err != nil {
		return err
	}
	if err := between("poll_limit", c.PollLimit, 1, 100); err != nil {
		return err
	}
	if c.WebhookEnabled {
		if err := between("webhook_port", c.WebhookPort, 1, 65535); err != nil {
			return err
		}
		if err := between("webhook_threads", c.WebhookThreads, 1, 32); err != nil {
			return err
		}
		if err := between("webhook_pool_size", c.WebhookPoolSize, 1, 64); err != nil {
			return err
		}
	}
	if err := between("worker_count", c.WorkerCount, 1, 16); err != nil {
		return err
	}
	if err := between("user_ring_size", c.UserRingSize, 4, 256); err != nil {
		return err
	}
	if c.LogPath == "" {
		return fmt.Errorf("log_path is required")
	}
	if c.LogMaxSizeMB < 1 {
		return fmt.Errorf("log_max_size_mb must be >= 1")
	}
	if c.AccessPath == "" {
		return fmt.Errorf("access_path is required")
	}
	if c.AuditPath != "" {
		if err := between("audit_retention_hours", c.AuditRetentionHours, 1, 24*365); err != nil {
			return err
		}
	}
	return nil
}

func between(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be in [%d, %d], got %d", field, lo, hi, v)
	}
	return nil
}
