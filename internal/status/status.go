// Package status reports the queue of a herald directory, live from the
// daemon or from its last flushed state files.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/msageha/herald/internal/lock"
	"github.com/msageha/herald/internal/model"
	"github.com/msageha/herald/internal/uds"
	yamlutil "github.com/msageha/herald/internal/yaml"
)

// Report sources.
const (
	SourceDaemon   = "daemon"
	SourceSnapshot = "snapshot"
	SourceNone     = "none"
)

type Report struct {
	Daemon   DaemonStatus         `json:"daemon"`
	Source   string               `json:"source"`
	Snapshot *model.QueueSnapshot `json:"snapshot,omitempty"`
	Metrics  *model.Metrics       `json:"metrics,omitempty"`
}

type DaemonStatus struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	// StaleLock: the daemon is unreachable and nobody holds its lock.
	StaleLock bool `json:"stale_lock,omitempty"`
	// Unresponsive: the lock is held but the socket did not answer.
	Unresponsive bool `json:"unresponsive,omitempty"`
}

// Run collects the report for rootDir and prints it to w.
func Run(rootDir string, jsonOutput bool, w io.Writer) error {
	r := Collect(rootDir)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := io.WriteString(w, Render(r))
	return err
}

// Collect asks the daemon first and falls back to state/*.yaml.
func Collect(rootDir string) Report {
	client := uds.NewClient(filepath.Join(rootDir, uds.DefaultSocketName))
	var live uds.StatusResult
	if err := client.Call(uds.CmdStatus, nil, &live); err == nil {
		return Report{
			Daemon:   DaemonStatus{Running: true, PID: live.PID, StartedAt: live.StartedAt},
			Source:   SourceDaemon,
			Snapshot: &live.Snapshot,
			Metrics:  &live.Metrics,
		}
	}

	r := Report{Source: SourceNone}
	lockPath := filepath.Join(rootDir, "locks", "daemon.lock")
	if h, err := lock.ReadHolder(lockPath); err == nil {
		r.Daemon.PID = h.PID
		if !h.Since.IsZero() {
			r.Daemon.StartedAt = h.Since.Format(time.RFC3339)
		}
		if held, _ := lock.Held(lockPath); held {
			r.Daemon.Unresponsive = true
		} else {
			r.Daemon.StaleLock = true
		}
	}

	var snap model.QueueSnapshot
	if err := yamlutil.ReadFile(filepath.Join(rootDir, "state", "snapshot.yaml"), yamlutil.FileTypeStateSnapshot, &snap); err == nil {
		r.Source = SourceSnapshot
		r.Snapshot = &snap
	}
	var metrics model.Metrics
	if err := yamlutil.ReadFile(filepath.Join(rootDir, "state", "metrics.yaml"), yamlutil.FileTypeStateMetrics, &metrics); err == nil {
		r.Metrics = &metrics
	}
	return r
}

const (
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorRed      lipgloss.Color = "#f38ba8"
	colorYellow   lipgloss.Color = "#f9e2af"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	downStyle   = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle    = lipgloss.NewStyle().Foreground(colorOverlay1)
)

// Render formats r for a terminal.
func Render(r Report) string {
	var b strings.Builder

	switch {
	case r.Daemon.Running:
		fmt.Fprintf(&b, "Daemon: %s pid=%d since %s\n", okStyle.Render("running"), r.Daemon.PID, r.Daemon.StartedAt)
	case r.Daemon.Unresponsive:
		fmt.Fprintf(&b, "Daemon: %s (lock held by pid=%d, socket not answering)\n", warnStyle.Render("unresponsive"), r.Daemon.PID)
	case r.Daemon.StaleLock:
		fmt.Fprintf(&b, "Daemon: %s (stale lock, pid=%d)\n", downStyle.Render("stopped"), r.Daemon.PID)
	default:
		fmt.Fprintf(&b, "Daemon: %s\n", downStyle.Render("stopped"))
	}

	if r.Snapshot == nil {
		b.WriteString(dimStyle.Render("No queue state.") + "\n")
		return b.String()
	}
	snap := r.Snapshot
	if r.Source == SourceSnapshot {
		fmt.Fprintf(&b, "%s\n", dimStyle.Render("Last snapshot taken at "+snap.TakenAt))
	}
	if snap.Suspended {
		fmt.Fprintf(&b, "Queue: %s (%d tokens)\n", warnStyle.Render("suspended"), snap.SuspendTokens)
	} else {
		fmt.Fprintf(&b, "Queue: %s\n", okStyle.Render("live"))
	}

	b.WriteString("\n" + headerStyle.Render("Scopes:") + "\n")
	if len(snap.Scopes) == 0 {
		b.WriteString("  none\n")
	}
	for _, sc := range snap.Scopes {
		state := "active"
		switch {
		case sc.Destroyed:
			state = "destroyed"
		case !sc.Active:
			state = "inactive"
		}
		fmt.Fprintf(&b, "  %-20s  %s\n", sc.Scope, state)
	}

	b.WriteString("\n" + headerStyle.Render("Records:") + "\n")
	if len(snap.Records) == 0 {
		b.WriteString("  none\n")
	} else {
		now := time.Now()
		fmt.Fprintf(&b, "  %-24s  %-20s  %-8s  %-9s  %-6s  %s\n", "IDENTIFIER", "SCOPE", "PRIORITY", "STATE", "AGE", "ID")
		for _, rec := range snap.Records {
			state := string(rec.State)
			if rec.Removed {
				state = "fading"
			}
			fmt.Fprintf(&b, "  %-24s  %-20s  %-8s  %-9s  %-6s  %s\n",
				rec.Identifier, rec.Scope, rec.Priority, state, recordAge(rec, now), rec.ID)
		}
	}

	if r.Metrics != nil {
		c := r.Metrics.Counters
		b.WriteString("\n" + headerStyle.Render("Counters:") + "\n")
		fmt.Fprintf(&b, "  enqueued=%d dropped=%d shown=%d hidden=%d suspends=%d resumes=%d inbox=%d quarantined=%d\n",
			c.Enqueued, c.Dropped, c.Shown, c.Hidden, c.Suspends, c.Resumes, c.InboxFiles, c.Quarantine)
		if c.EventsLost > 0 {
			fmt.Fprintf(&b, "  %s\n", warnStyle.Render(fmt.Sprintf("%d events lost (bus buffer full)", c.EventsLost)))
		}
		if len(c.Dismissed) > 0 {
			reasons := make([]string, 0, len(c.Dismissed))
			for reason, n := range c.Dismissed {
				reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
			}
			sort.Strings(reasons)
			fmt.Fprintf(&b, "  dismissed: %s\n", strings.Join(reasons, " "))
		}
	}
	return b.String()
}

// recordAge falls back to the time stamped in the record ID for snapshots
// written without enqueued_at.
func recordAge(rec model.RecordSnapshot, now time.Time) string {
	at, err := time.Parse(time.RFC3339, rec.EnqueuedAt)
	if err != nil {
		if at, err = model.IDTime(rec.ID); err != nil {
			return "-"
		}
	}
	return now.Sub(at).Truncate(time.Second).String()
}
