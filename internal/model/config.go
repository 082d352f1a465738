// Package model defines the data structures for herald's configuration, message records, and state files.
package model

import "time"

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Herald   HeraldConfig   `yaml:"herald"`
	Messages MessagesConfig `yaml:"messages"`
	Delegate DelegateConfig `yaml:"delegate"`
	Inbox    InboxConfig    `yaml:"inbox"`
	Audit    AuditConfig    `yaml:"audit"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type HeraldConfig struct {
	Version     string `yaml:"version"`
	Created     string `yaml:"created"`
	ProjectRoot string `yaml:"project_root"`
}

// DefaultMessageDurationMs applies when default_duration_ms is unset.
const DefaultMessageDurationMs = 10000

type MessagesConfig struct {
	DefaultDurationMs int `yaml:"default_duration_ms"` // auto-dismiss after shown; 0 is 10s, <0 disables
	HighDurationMs    int `yaml:"high_duration_ms"`    // high-priority default; 0 falls back to default_duration_ms
}

type DelegateConfig struct {
	Kinds       []string `yaml:"kinds"` // "banner", "notify", "tmux"
	ShowAnimMs  int      `yaml:"show_anim_ms"`
	HideAnimMs  int      `yaml:"hide_anim_ms"`
	BannerWidth int      `yaml:"banner_width"`
}

type InboxConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxFileSize int  `yaml:"max_file_bytes"`
	// DebounceMs is the quiet period after the last event for a file
	// before it is read.
	DebounceMs int `yaml:"debounce_ms"`
}

type AuditConfig struct {
	Enabled        bool  `yaml:"enabled"`
	MaxSizeBytes   int64 `yaml:"max_size_bytes"`
	EnableChecksum bool  `yaml:"enable_checksum"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	FlushIntervalSec   int `yaml:"flush_interval_sec"`
	EventBufferSize    int `yaml:"event_buffer_size"`
	// RestoreOnStart re-enqueues the records of state/snapshot.yaml at startup.
	RestoreOnStart bool `yaml:"restore_on_start"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WithDefaults fills unset fields. Zero-valued durations keep their meaning
// only where documented above.
func (c Config) WithDefaults() Config {
	if c.Messages.DefaultDurationMs == 0 {
		c.Messages.DefaultDurationMs = DefaultMessageDurationMs
	}
	if len(c.Delegate.Kinds) == 0 {
		c.Delegate.Kinds = []string{"banner"}
	}
	if c.Delegate.BannerWidth <= 0 {
		c.Delegate.BannerWidth = 60
	}
	if c.Inbox.MaxFileSize <= 0 {
		c.Inbox.MaxFileSize = 64 * 1024
	}
	if c.Inbox.DebounceMs <= 0 {
		c.Inbox.DebounceMs = 200
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 10
	}
	if c.Daemon.FlushIntervalSec <= 0 {
		c.Daemon.FlushIntervalSec = 5
	}
	if c.Daemon.EventBufferSize <= 0 {
		c.Daemon.EventBufferSize = 256
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return c
}

// DefaultDuration returns the auto-dismiss duration for a priority; negative means never.
func (m MessagesConfig) DefaultDuration(p Priority) time.Duration {
	ms := m.DefaultDurationMs
	if ms == 0 {
		ms = DefaultMessageDurationMs
	}
	if p == PriorityHigh && m.HighDurationMs != 0 {
		ms = m.HighDurationMs
	}
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}
