package uds

import "github.com/msageha/herald/internal/model"

// Daemon commands.
const (
	CmdPing       = "ping"
	CmdEnqueue    = "enqueue"
	CmdDismiss    = "dismiss"
	CmdDismissAll = "dismiss_all"
	CmdSuspend    = "suspend"
	CmdResume     = "resume"
	CmdScope      = "scope"
	CmdStatus     = "status"
	CmdShutdown   = "shutdown"
)

type EnqueueParams struct {
	Identifier string            `json:"identifier"`
	Scope      string            `json:"scope"`
	Priority   string            `json:"priority,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	// DurationMs: 0 uses the configured default, negative never auto-dismisses.
	DurationMs int `json:"duration_ms,omitempty"`
}

type EnqueueResult struct {
	Enqueued bool   `json:"enqueued"`
	RecordID string `json:"record_id,omitempty"`
	State    string `json:"state,omitempty"`
}

type DismissParams struct {
	Identifier string `json:"identifier"`
	Scope      string `json:"scope"`
	Reason     string `json:"reason,omitempty"`
}

type DismissAllParams struct {
	Reason string `json:"reason,omitempty"`
}

type DismissResult struct {
	Dismissed bool `json:"dismissed"`
}

type SuspendResult struct {
	Token  string `json:"token"`
	Tokens int    `json:"tokens"`
}

type ResumeParams struct {
	Token string `json:"token"`
}

type ResumeResult struct {
	Resumed bool `json:"resumed"`
	Tokens  int  `json:"tokens"`
}

// Scope actions.
const (
	ScopeActivate   = "activate"
	ScopeDeactivate = "deactivate"
	ScopeDestroy    = "destroy"
)

type ScopeParams struct {
	Scope  string `json:"scope"`
	Action string `json:"action"`
}

type ScopeResult struct {
	Applied bool `json:"applied"`
}

type StatusResult struct {
	PID       int                 `json:"pid"`
	StartedAt string              `json:"started_at"`
	Snapshot  model.QueueSnapshot `json:"snapshot"`
	Metrics   model.Metrics       `json:"metrics"`
}
