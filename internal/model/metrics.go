package model

// Metrics is written to state/metrics.yaml on every flush.
type Metrics struct {
	SchemaVersion   int             `yaml:"schema_version" json:"-"`
	FileType        string          `yaml:"file_type" json:"-"`
	QueueDepth      QueueDepth      `yaml:"queue_depth" json:"queue_depth"`
	Counters        MetricsCounters `yaml:"counters" json:"counters"`
	DaemonHeartbeat *string         `yaml:"daemon_heartbeat" json:"daemon_heartbeat,omitempty"`
	UpdatedAt       *string         `yaml:"updated_at" json:"updated_at,omitempty"`
}

type QueueDepth struct {
	Pending int `yaml:"pending" json:"pending"`
	Active  int `yaml:"active" json:"active"`
	// Scopes counts queued records per scope key.
	Scopes map[string]int `yaml:"scopes" json:"scopes"`
}

type MetricsCounters struct {
	Enqueued   int                   `yaml:"enqueued" json:"enqueued"`
	Dropped    int                   `yaml:"dropped" json:"dropped"`
	Shown      int                   `yaml:"shown" json:"shown"`
	Hidden     int                   `yaml:"hidden" json:"hidden"`
	Dismissed  map[DismissReason]int `yaml:"dismissed" json:"dismissed"`
	Suspends   int                   `yaml:"suspends" json:"suspends"`
	Resumes    int                   `yaml:"resumes" json:"resumes"`
	InboxFiles int                   `yaml:"inbox_files" json:"inbox_files"`
	Quarantine int                   `yaml:"quarantined" json:"quarantined"`
	// EventsLost counts bus deliveries dropped on full subscriber buffers.
	EventsLost int `yaml:"events_lost" json:"events_lost"`
}

// DepthOf counts the queue depth of a snapshot.
func DepthOf(s QueueSnapshot) QueueDepth {
	d := QueueDepth{Scopes: make(map[string]int)}
	for _, r := range s.Records {
		switch r.State {
		case RecordPending:
			d.Pending++
		case RecordActive:
			d.Active++
		default:
			continue
		}
		d.Scopes[r.Scope.String()]++
	}
	return d
}
