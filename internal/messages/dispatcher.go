package messages

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/msageha/herald/internal/events"
	"github.com/msageha/herald/internal/model"
)

// Delegate renders messages. Show and Hide are called on the main loop;
// the completion callbacks may be invoked inline or later from any goroutine.
type Delegate interface {
	Show(rec *Record, onShown func())
	Hide(rec *Record, animate bool, onHidden func())
}

// Poster schedules fn on the goroutine that owns the dispatcher. Post
// returns false when the work was dropped.
type Poster interface {
	Post(fn func()) bool
}

// Stopper is the part of *time.Timer the dispatcher needs.
type Stopper interface {
	Stop() bool
}

// AfterFunc matches time.AfterFunc.
type AfterFunc func(d time.Duration, fn func()) Stopper

type autoDismiss struct {
	stop Stopper
}

// Dispatcher is the public entry point of the message system. It owns a
// QueueManager and translates its display requests into Delegate calls.
type Dispatcher struct {
	qm        *QueueManager
	delegate  Delegate
	poster    Poster
	config    model.MessagesConfig
	logger    *log.Logger
	logLevel  model.LogLevel
	afterFunc AfterFunc
	timers    map[*Record]*autoDismiss
	closed    bool
}

// NewDispatcher creates a Dispatcher. A nil poster applies delegate
// completions inline, which is only safe if the delegate completes on the
// calling goroutine. Without a poster there is no goroutine to deliver
// timer expiry to, so auto-dismiss stays off until SetAfterFunc installs a
// timer source that fires on the calling goroutine.
func NewDispatcher(delegate Delegate, poster Poster, cfg model.MessagesConfig, logger *log.Logger, logLevel model.LogLevel) *Dispatcher {
	d := &Dispatcher{
		delegate: delegate,
		poster:   poster,
		config:   cfg,
		logger:   logger,
		logLevel: logLevel,
		timers:   make(map[*Record]*autoDismiss),
	}
	if poster != nil {
		d.afterFunc = func(dur time.Duration, fn func()) Stopper {
			return time.AfterFunc(dur, fn)
		}
	}
	d.qm = NewQueueManager(display{d})
	d.qm.SetLogger(logger, logLevel)
	return d
}

// SetEventBus sets the event bus for publishing queue events.
func (d *Dispatcher) SetEventBus(bus *events.Bus) {
	d.qm.SetEventBus(bus)
}

// SetAfterFunc overrides the auto-dismiss timer source. With a nil
// poster, f must run its callbacks on the dispatcher's goroutine.
func (d *Dispatcher) SetAfterFunc(f AfterFunc) {
	d.afterFunc = f
}

// Queue exposes the queue manager for read-only queries.
func (d *Dispatcher) Queue() *QueueManager {
	return d.qm
}

// EnqueueMessage validates and queues msg. A nil record with a nil error
// means the message was dropped as a duplicate or because its scope is gone.
func (d *Dispatcher) EnqueueMessage(msg Message) (*Record, error) {
	if err := model.ValidateIdentifier(msg.Identifier); err != nil {
		return nil, err
	}
	if err := msg.Scope.Validate(); err != nil {
		return nil, err
	}
	if msg.Priority == "" {
		msg.Priority = model.PriorityNormal
	}
	if msg.Priority != model.PriorityNormal && msg.Priority != model.PriorityHigh {
		return nil, fmt.Errorf("unknown priority %q", msg.Priority)
	}
	msg.Properties = msg.Properties.Clone()
	rec, ok := d.qm.Enqueue(msg)
	if !ok {
		return nil, nil
	}
	d.log(model.LogLevelInfo, "enqueued id=%s key=%s priority=%s", rec.ID, rec.Key(), rec.Priority)
	return rec, nil
}

func (d *Dispatcher) DismissMessage(key model.MessageKey, reason model.DismissReason) bool {
	if reason == "" {
		reason = model.DismissProgrammatic
	}
	ok := d.qm.Dismiss(key, reason)
	if ok {
		d.log(model.LogLevelInfo, "dismissed key=%s reason=%s", key, reason)
	}
	return ok
}

func (d *Dispatcher) DismissAllMessages(reason model.DismissReason) {
	if reason == "" {
		reason = model.DismissProgrammatic
	}
	n := d.qm.Len()
	d.qm.DismissAll(reason)
	d.log(model.LogLevelInfo, "dismissed all count=%d reason=%s", n, reason)
}

func (d *Dispatcher) Suspend() Token {
	return d.qm.Suspend()
}

func (d *Dispatcher) Resume(t Token) bool {
	return d.qm.Resume(t)
}

func (d *Dispatcher) SetScopeActive(scope model.ScopeKey, active bool) bool {
	return d.qm.SetScopeActive(scope, active)
}

func (d *Dispatcher) DestroyScope(scope model.ScopeKey, reason model.DismissReason) {
	d.qm.DestroyScope(scope, reason)
	d.log(model.LogLevelInfo, "scope destroyed scope=%s", scope)
}

// Close disarms every auto-dismiss timer. Later timers are not armed.
func (d *Dispatcher) Close() {
	d.closed = true
	for rec, t := range d.timers {
		t.stop.Stop()
		delete(d.timers, rec)
	}
}

func (d *Dispatcher) complete(fn func()) {
	if d.poster == nil {
		fn()
		return
	}
	if !d.poster.Post(fn) {
		d.log(model.LogLevelWarn, "completion dropped: loop closed")
	}
}

func (d *Dispatcher) durationFor(rec *Record) time.Duration {
	if rec.Duration != 0 {
		return rec.Duration
	}
	return d.config.DefaultDuration(rec.Priority)
}

func (d *Dispatcher) arm(rec *Record) {
	if d.closed || d.afterFunc == nil {
		return
	}
	dur := d.durationFor(rec)
	if dur < 0 {
		return
	}
	d.disarm(rec)
	t := &autoDismiss{}
	d.timers[rec] = t
	t.stop = d.afterFunc(dur, func() {
		d.complete(func() {
			if d.timers[rec] != t {
				return
			}
			delete(d.timers, rec)
			d.log(model.LogLevelDebug, "auto-dismiss id=%s after %s", rec.ID, dur)
			d.qm.DismissRecord(rec, model.DismissTimer)
		})
	})
}

func (d *Dispatcher) disarm(rec *Record) {
	if t, ok := d.timers[rec]; ok {
		t.stop.Stop()
		delete(d.timers, rec)
	}
}

// display adapts the dispatcher to the queue manager's Display without
// putting Show and Hide on the Dispatcher's public surface.
type display struct {
	d *Dispatcher
}

func (x display) Show(rec *Record) {
	d := x.d
	d.guard("show", rec, func() {
		d.delegate.Show(rec, once(func() {
			d.complete(func() {
				if d.qm.OnShown(rec) {
					d.arm(rec)
				}
			})
		}))
	})
}

func (x display) Hide(rec *Record, animate bool) {
	d := x.d
	d.disarm(rec)
	d.guard("hide", rec, func() {
		d.delegate.Hide(rec, animate, once(func() {
			d.complete(func() { d.qm.OnHidden(rec) })
		}))
	})
}

// guard keeps a panicking delegate from unwinding through the queue manager.
func (d *Dispatcher) guard(op string, rec *Record, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log(model.LogLevelError, "delegate %s panic id=%s: %v", op, rec.ID, r)
		}
	}()
	fn()
}

// once makes a completion callback safe to invoke more than once.
func once(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}

func (d *Dispatcher) log(level model.LogLevel, format string, args ...any) {
	if d.logger == nil || level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s dispatcher: %s", time.Now().Format(time.RFC3339), level, msg)
}
