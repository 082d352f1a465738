package model

import (
	"fmt"
	"time"
)

// InboxMessage is an enqueue request dropped into inbox/ or sent over the socket.
type InboxMessage struct {
	SchemaVersion    int        `yaml:"schema_version" json:"-"`
	FileType         string     `yaml:"file_type" json:"-"`
	MinReaderVersion int        `yaml:"min_reader_version,omitempty" json:"-"`
	Identifier       Identifier `yaml:"identifier" json:"identifier"`
	Scope            ScopeKey   `yaml:"scope" json:"scope"`
	Priority         Priority   `yaml:"priority,omitempty" json:"priority,omitempty"`
	Properties       Properties `yaml:"properties,omitempty" json:"properties,omitempty"`
	// DurationMs: 0 uses the configured default, negative never auto-dismisses.
	DurationMs int `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
}

func (m InboxMessage) Key() MessageKey {
	return MessageKey{Identifier: m.Identifier, Scope: m.Scope}
}

// Duration converts DurationMs, mapping 0 to def.
func (m InboxMessage) Duration(def time.Duration) time.Duration {
	switch {
	case m.DurationMs < 0:
		return -1
	case m.DurationMs == 0:
		return def
	default:
		return time.Duration(m.DurationMs) * time.Millisecond
	}
}

func (m InboxMessage) Validate() error {
	if err := ValidateIdentifier(m.Identifier); err != nil {
		return err
	}
	if err := m.Scope.Validate(); err != nil {
		return err
	}
	if m.Priority != "" && m.Priority != PriorityNormal && m.Priority != PriorityHigh {
		return fmt.Errorf("unknown priority %q", m.Priority)
	}
	return nil
}
