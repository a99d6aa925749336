package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the whole notifier configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// All sizes are plain byte counts.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Audio     AudioConfig     `json:"audio"`
	Poller    PollerConfig    `json:"poller"`
	Broadcast BroadcastConfig `json:"broadcast"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig points at the SQLite database that the bot frontend owns.
// The notifier only reads podcasts/followers and patches poll bookkeeping.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AudioConfig controls the local audio working directory and size policy.
//
// Defaults (when fields are omitted/zero):
//   - platform_limit_bytes: 49 MiB (Telegram bot API caps uploads at 50 MB;
//     keep headroom for container overhead)
//   - absolute_limit_bytes: 2 GiB
//   - download_timeout: "20m"
//   - upload_timeout: "20m"
//   - prune_schedule: "@every 1h"
//   - prune_max_age: "6h"
type AudioConfig struct {
	Dir                string `json:"dir"`
	DownloadTimeout    string `json:"download_timeout,omitempty"`
	UploadTimeout      string `json:"upload_timeout,omitempty"`
	PlatformLimitBytes int64  `json:"platform_limit_bytes,omitempty"`
	AbsoluteLimitBytes int64  `json:"absolute_limit_bytes,omitempty"`
	PruneSchedule      string `json:"prune_schedule,omitempty"`
	PruneMaxAge        string `json:"prune_max_age,omitempty"`
}

// PollerConfig controls the feed polling loop.
type PollerConfig struct {
	Interval   string      `json:"interval,omitempty"` // default "1m"
	FetchRetry RetryConfig `json:"fetch_retry,omitempty"`
}

// BroadcastConfig controls the delivery side of the pipeline.
type BroadcastConfig struct {
	QueueSize  int         `json:"queue_size,omitempty"`   // default 64
	RatePerSec int         `json:"rate_per_sec,omitempty"` // default 3
	SendRetry  RetryConfig `json:"send_retry,omitempty"`
}

// RetryConfig names a bounded retry policy per call site.
// Attempts 0 falls back to the call site's default; callers that retry
// forever do so explicitly, never through this config.
type RetryConfig struct {
	Attempts int    `json:"attempts,omitempty"`
	Base     string `json:"base,omitempty"`
	MaxDelay string `json:"max_delay,omitempty"`
}

// ParseDurationField parses a duration-string config value. Empty counts as
// unset and parses to zero; negative durations are rejected. path names the
// offending field in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the value is unset.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
