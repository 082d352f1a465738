package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/herald/internal/events"
	"github.com/msageha/herald/internal/model"
	yamlutil "github.com/msageha/herald/internal/yaml"
)

// metricsCollector counts bus events. Counts may lag the queue slightly
// because the bus delivers asynchronously.
type metricsCollector struct {
	mu       sync.Mutex
	counters model.MetricsCounters
	bus      *events.Bus
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		counters: model.MetricsCounters{Dismissed: make(map[model.DismissReason]int)},
	}
}

func (m *metricsCollector) attach(bus *events.Bus) {
	m.bus = bus
	bus.Subscribe(m.observe, events.MessageEvents...)
}

func (m *metricsCollector) observe(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &m.counters
	switch e.Type {
	case events.EventMessageEnqueued:
		c.Enqueued++
	case events.EventMessageDropped:
		c.Dropped++
	case events.EventMessageShown:
		c.Shown++
	case events.EventMessageHidden:
		c.Hidden++
	case events.EventMessageDismissed:
		reason, _ := e.Data[events.KeyReason].(string)
		c.Dismissed[model.ParseDismissReason(reason)]++
	case events.EventQueueSuspended:
		c.Suspends++
	case events.EventQueueResumed:
		c.Resumes++
	}
}

func (m *metricsCollector) inboxFile(quarantined bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.InboxFiles++
	if quarantined {
		m.counters.Quarantine++
	}
}

func (m *metricsCollector) snapshot() model.MetricsCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters
	if m.bus != nil {
		c.EventsLost = int(m.bus.Dropped())
	}
	c.Dismissed = make(map[model.DismissReason]int, len(m.counters.Dismissed))
	for k, v := range m.counters.Dismissed {
		c.Dismissed[k] = v
	}
	return c
}

func (m *metricsCollector) build(snap model.QueueSnapshot) model.Metrics {
	now := time.Now().UTC().Format(time.RFC3339)
	return model.Metrics{
		SchemaVersion:   yamlutil.CurrentSchemaVersion,
		FileType:        yamlutil.FileTypeStateMetrics,
		QueueDepth:      model.DepthOf(snap),
		Counters:        m.snapshot(),
		DaemonHeartbeat: &now,
		UpdatedAt:       &now,
	}
}

// flushState writes state/snapshot.yaml and state/metrics.yaml.
func (d *Daemon) flushState(ctx context.Context) error {
	var snap model.QueueSnapshot
	if err := d.onLoop(ctx, func() { snap = d.dispatcher.Queue().Snapshot() }); err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}
	snap.SchemaVersion = yamlutil.CurrentSchemaVersion
	snap.FileType = yamlutil.FileTypeStateSnapshot

	if err := yamlutil.AtomicWrite(d.snapshotPath(), &snap, yamlutil.ExpectFileType(yamlutil.FileTypeStateSnapshot)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	// rebuilt every tick, no .bak
	metrics := d.metrics.build(snap)
	if err := yamlutil.AtomicWrite(filepath.Join(d.rootDir, "state", "metrics.yaml"), &metrics, yamlutil.WithoutBackup()); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
