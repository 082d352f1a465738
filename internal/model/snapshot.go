package model

import "time"

// QueueSnapshot is the persisted view of the queue written to state/snapshot.yaml.
// Readers ignore unknown fields; fields added later must tolerate zero values.
type QueueSnapshot struct {
	SchemaVersion    int              `yaml:"schema_version" json:"schema_version"`
	FileType         string           `yaml:"file_type" json:"file_type"`
	MinReaderVersion int              `yaml:"min_reader_version,omitempty" json:"min_reader_version,omitempty"`
	Suspended        bool             `yaml:"suspended" json:"suspended"`
	SuspendTokens    int              `yaml:"suspend_tokens" json:"suspend_tokens"`
	Records          []RecordSnapshot `yaml:"records" json:"records"`
	Scopes           []ScopeSnapshot  `yaml:"scopes" json:"scopes"`
	TakenAt          string           `yaml:"taken_at" json:"taken_at"`
}

type RecordSnapshot struct {
	ID         string      `yaml:"id" json:"id"`
	Identifier Identifier  `yaml:"identifier" json:"identifier"`
	Scope      ScopeKey    `yaml:"scope" json:"scope"`
	Priority   Priority    `yaml:"priority" json:"priority"`
	State      RecordState `yaml:"state" json:"state"`
	Sequence   uint64      `yaml:"sequence" json:"sequence"`
	Properties Properties  `yaml:"properties,omitempty" json:"properties,omitempty"`
	EnqueuedAt string      `yaml:"enqueued_at" json:"enqueued_at"`
	// DurationMs is the record's own auto-dismiss delay: 0 means the
	// configured default, negative never.
	DurationMs int `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
	// Removed marks a dismissed record whose hide has not finished.
	Removed bool `yaml:"removed,omitempty" json:"removed,omitempty"`
}

// Duration is DurationMs as a record duration.
func (r RecordSnapshot) Duration() time.Duration {
	if r.DurationMs < 0 {
		return -1
	}
	return time.Duration(r.DurationMs) * time.Millisecond
}

// DurationMillis converts a record duration for RecordSnapshot.DurationMs.
// Positive durations under a millisecond round up so they do not turn
// into the default.
func DurationMillis(d time.Duration) int {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	case d < time.Millisecond:
		return 1
	default:
		return int(d / time.Millisecond)
	}
}

type ScopeSnapshot struct {
	Scope     ScopeKey `yaml:"scope" json:"scope"`
	Active    bool     `yaml:"active" json:"active"`
	Destroyed bool     `yaml:"destroyed" json:"destroyed"`
}

// ActiveRecords returns the records currently occupying a display slot.
func (s QueueSnapshot) ActiveRecords() []RecordSnapshot {
	var out []RecordSnapshot
	for _, r := range s.Records {
		if IsRecordVisible(r.State) {
			out = append(out, r)
		}
	}
	return out
}
