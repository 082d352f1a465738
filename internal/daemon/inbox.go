package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/herald/internal/model"
	yamlutil "github.com/msageha/herald/internal/yaml"
)

// inboxProcessor turns files dropped into inbox/ into enqueues. fsnotify
// reports a Create and one or more Writes per file, so each path waits for
// a quiet period before it is read, and concurrent work on one path is
// collapsed.
type inboxProcessor struct {
	d     *Daemon
	dir   string
	delay time.Duration
	group singleflight.Group

	mu       sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
	inflight sync.WaitGroup
}

func newInboxProcessor(d *Daemon) *inboxProcessor {
	return &inboxProcessor{
		d:      d,
		dir:    filepath.Join(d.rootDir, "inbox"),
		delay:  time.Duration(d.config.Inbox.DebounceMs) * time.Millisecond,
		timers: make(map[string]*time.Timer),
	}
}

// HandleFileEvent schedules path once no further event for it has arrived
// within the debounce delay.
func (p *inboxProcessor) HandleFileEvent(path string) {
	if !isInboxFile(path) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if t, ok := p.timers[path]; ok {
		t.Stop()
	}
	p.timers[path] = time.AfterFunc(p.delay, func() { p.fire(path) })
}

func (p *inboxProcessor) fire(path string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	delete(p.timers, path)
	p.inflight.Add(1)
	p.mu.Unlock()
	defer p.inflight.Done()

	p.d.log(model.LogLevelDebug, "inbox debounced file=%s", filepath.Base(path))
	p.processOnce(path)
}

// Stop drops pending timers and waits for files already being processed.
func (p *inboxProcessor) Stop() {
	p.mu.Lock()
	p.stopped = true
	for path, t := range p.timers {
		t.Stop()
		delete(p.timers, path)
	}
	p.mu.Unlock()
	p.inflight.Wait()
}

func (p *inboxProcessor) processOnce(path string) {
	_, _, _ = p.group.Do(path, func() (interface{}, error) {
		p.process(path)
		return nil, nil
	})
}

// Scan processes every inbox file in name order without waiting; files
// found at startup were written while the daemon was down.
func (p *inboxProcessor) Scan() {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.d.log(model.LogLevelWarn, "scan inbox: %v", err)
		}
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isInboxFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		p.processOnce(filepath.Join(p.dir, name))
	}
}

func isInboxFile(path string) bool {
	base := filepath.Base(path)
	// temp files from atomic writers
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, ".yaml") || strings.HasSuffix(base, ".yml")
}

func (p *inboxProcessor) process(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// already consumed by an earlier event
		return
	}
	if info.IsDir() {
		return
	}
	if max := p.d.config.Inbox.MaxFileSize; max > 0 && info.Size() > int64(max) {
		p.reject(path, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), max))
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		p.d.log(model.LogLevelWarn, "read inbox file %s: %v", path, err)
		return
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		// writer has created the file but not filled it yet
		return
	}

	var msg model.InboxMessage
	if err := yamlutil.Decode(content, yamlutil.FileTypeInboxMessage, &msg); err != nil {
		p.reject(path, err)
		return
	}
	if err := msg.Validate(); err != nil {
		p.reject(path, err)
		return
	}

	res, err := p.d.enqueue(p.d.ctx, msg)
	if err != nil {
		p.d.log(model.LogLevelWarn, "enqueue from %s: %v", filepath.Base(path), err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.d.log(model.LogLevelWarn, "remove inbox file %s: %v", path, err)
	}
	p.d.metrics.inboxFile(false)
	p.d.log(model.LogLevelInfo, "inbox %s key=%s enqueued=%t", filepath.Base(path), msg.Key(), res.Enqueued)
}

func (p *inboxProcessor) reject(path string, cause error) {
	p.d.log(model.LogLevelWarn, "invalid inbox file %s: %v", filepath.Base(path), cause)
	dest, err := yamlutil.Quarantine(p.d.rootDir, path)
	if err != nil {
		p.d.log(model.LogLevelError, "quarantine %s: %v", path, err)
		return
	}
	p.d.log(model.LogLevelInfo, "quarantined %s as %s", filepath.Base(path), filepath.Base(dest))
	p.d.metrics.inboxFile(true)
}
