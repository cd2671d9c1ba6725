package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig   `json:"telegram" yaml:"telegram"`
	Logging   LoggingConfig    `json:"logging" yaml:"logging"`
	Storage   StorageConfig    `json:"storage" yaml:"storage"`
	Broadcast BroadcastConfig  `json:"broadcast" yaml:"broadcast"`
	Retention *RetentionConfig `json:"retention,omitempty" yaml:"retention,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token" yaml:"token"`

	// OwnerUserIDs are seeded into the admin table as superusers at startup.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty" yaml:"owner_user_ids,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty" yaml:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Console is a pointer so "omitted" defaults to true.
	Console *bool             `json:"console,omitempty" yaml:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty" yaml:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
}

// BroadcastConfig controls the fan-out dispatcher.
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 20
//   - max_concurrent_pairs: 8
type BroadcastConfig struct {
	RatePerSec         int `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	MaxConcurrentPairs int `json:"max_concurrent_pairs,omitempty" yaml:"max_concurrent_pairs,omitempty"`
}

// RetentionConfig controls the scheduled ledger sweep.
// If the whole section is omitted, the sweep is disabled.
type RetentionConfig struct {
	// Sweep is a cron spec (e.g. "0 4 * * *").
	Sweep string `json:"sweep" yaml:"sweep"`

	// MaxAge is a Go duration string; receipts and messages older than this
	// are deleted. Defaults to 4320h (180 days).
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDuration(c.Telegram.PollTimeout, 10*time.Second); err != nil {
		return fmt.Errorf("telegram.poll_timeout: %w", err)
	}
	if _, err := ParseDuration(c.Storage.BusyTimeout, 0); err != nil {
		return fmt.Errorf("storage.busy_timeout: %w", err)
	}
	if c.Retention != nil {
		if strings.TrimSpace(c.Retention.Sweep) == "" {
			return fmt.Errorf("retention.sweep is required when retention is set")
		}
		if _, err := ParseDuration(c.Retention.MaxAge, 0); err != nil {
			return fmt.Errorf("retention.max_age: %w", err)
		}
	}
	return nil
}

// ParseDuration parses a Go duration string, returning def when s is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func (c *Config) ConsoleLogging() bool {
	if c.Logging.Console == nil {
		return true
	}
	return *c.Logging.Console
}
