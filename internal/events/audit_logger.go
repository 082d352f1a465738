package events

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxLogSize = 100 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	// ArchiveDir sits next to the live log and receives rotated files.
	ArchiveDir = "archive"
)

var ErrAuditClosed = errors.New("audit log is closed")

// LogEntry is one line of the audit log. The correlation fields are lifted
// out of the event data; whatever remains goes to Details.
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	RecordID   string                 `json:"record_id,omitempty"`
	Identifier string                 `json:"identifier,omitempty"`
	Scope      string                 `json:"scope,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Checksum   string                 `json:"checksum,omitempty"`
}

func entryFor(e Event) LogEntry {
	entry := LogEntry{Timestamp: e.Timestamp, EventType: string(e.Type)}
	lifted := map[string]*string{
		KeyRecordID:   &entry.RecordID,
		KeyIdentifier: &entry.Identifier,
		KeyScope:      &entry.Scope,
		KeyReason:     &entry.Reason,
	}
	for k, v := range e.Data {
		if dst, ok := lifted[k]; ok {
			if s, isStr := v.(string); isStr {
				*dst = s
				continue
			}
		}
		if entry.Details == nil {
			entry.Details = make(map[string]interface{})
		}
		entry.Details[k] = v
	}
	return entry
}

// checksum is the truncated SHA-256 of the entry encoded without its
// checksum field.
func (e LogEntry) checksum() (string, error) {
	e.Checksum = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

type AuditOption func(*AuditLogger)

// WithMaxSize rotates the log before it would grow past n bytes.
func WithMaxSize(n int64) AuditOption {
	return func(l *AuditLogger) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// WithChecksums signs every entry so VerifyAuditLog can detect edits.
func WithChecksums(enabled bool) AuditOption {
	return func(l *AuditLogger) { l.checksums = enabled }
}

// AuditLogger appends queue events to a JSONL file.
type AuditLogger struct {
	mu        sync.Mutex
	path      string
	maxSize   int64
	checksums bool

	file      *os.File
	size      int64
	rotations int
	now       func() time.Time
}

// OpenAuditLog opens path for appending, creating its directory.
func OpenAuditLog(path string, opts ...AuditOption) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxSize: DefaultMaxLogSize, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file, l.size = f, info.Size()
	return nil
}

// Attach logs every event published on bus from one subscriber, so lines
// keep publish order. onError, if set, receives write failures. The
// returned func detaches.
func (l *AuditLogger) Attach(bus *Bus, onError func(error)) func() {
	return bus.Subscribe(func(e Event) {
		if err := l.LogEvent(e); err != nil && onError != nil {
			onError(err)
		}
	})
}

// LogEvent appends e, keeping its publish timestamp.
func (l *AuditLogger) LogEvent(e Event) error {
	entry := entryFor(e)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	return l.append(entry)
}

func (l *AuditLogger) append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrAuditClosed
	}

	if l.checksums {
		sum, err := entry.checksum()
		if err != nil {
			return fmt.Errorf("checksum %s entry: %w", entry.EventType, err)
		}
		entry.Checksum = sum
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", entry.EventType, err)
	}
	line = append(line, '\n')

	if l.size > 0 && l.size+int64(len(line)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return l.file.Sync()
}

// rotate moves the live file to archive/<stem>.<stamp>.<n>.jsonl and
// starts a new one.
func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	dir := filepath.Join(filepath.Dir(l.path), ArchiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	l.rotations++
	stem := strings.TrimSuffix(filepath.Base(l.path), LogFileExtension)
	name := fmt.Sprintf("%s.%s.%d%s", stem, l.now().Format("20060102_150405"), l.rotations, LogFileExtension)
	if err := os.Rename(l.path, filepath.Join(dir, name)); err != nil {
		return err
	}
	return l.open()
}

// Size is the number of bytes in the live file.
func (l *AuditLogger) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Close syncs and closes the file. Later writes fail with ErrAuditClosed.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// IntegrityReport summarises VerifyAuditLog.
type IntegrityReport struct {
	Entries   int `json:"entries"`
	Signed    int `json:"signed"`
	Tampered  int `json:"tampered"`
	Malformed int `json:"malformed"`
	// FirstBadLine is the 1-based line of the first tampered or malformed
	// entry, or 0.
	FirstBadLine int `json:"first_bad_line,omitempty"`
}

func (r IntegrityReport) OK() bool { return r.Tampered == 0 && r.Malformed == 0 }

// VerifyAuditLog recomputes the checksum of every signed entry in path.
// Unsigned entries count as entries but are not checked.
func VerifyAuditLog(path string) (IntegrityReport, error) {
	var r IntegrityReport
	f, err := os.Open(path)
	if err != nil {
		return r, fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for line := 1; sc.Scan(); line++ {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		bad := false
		var entry LogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			r.Malformed++
			bad = true
		} else {
			r.Entries++
			if entry.Checksum != "" {
				r.Signed++
				if sum, err := entry.checksum(); err != nil || sum != entry.Checksum {
					r.Tampered++
					bad = true
				}
			}
		}
		if bad && r.FirstBadLine == 0 {
			r.FirstBadLine = line
		}
	}
	if err := sc.Err(); err != nil {
		return r, fmt.Errorf("scan audit log: %w", err)
	}
	return r, nil
}
