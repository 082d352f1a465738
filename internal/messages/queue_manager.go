// Package messages implements the in-page message queue: ordering,
// per-scope display slots, suspension and dismissal.
//
// All methods must be called from one goroutine (the host's main loop).
// Completions arriving from other goroutines have to be posted back to it;
// Dispatcher does that when it is given a Poster.
package messages

import (
	"fmt"
	"log"
	"slices"
	"sort"
	"time"

	"github.com/msageha/herald/internal/events"
	"github.com/msageha/herald/internal/model"
)

// Display is driven by the QueueManager. Implementations report completion
// back through QueueManager.OnShown and QueueManager.OnHidden.
type Display interface {
	Show(rec *Record)
	Hide(rec *Record, animate bool)
}

// Drop reasons published with EventMessageDropped.
const (
	DropDuplicate      = "duplicate"
	DropScopeDestroyed = "scope_destroyed"
	DropInvalid        = "invalid"
)

type scopeState struct {
	key       model.ScopeKey
	active    bool
	destroyed bool
	// current occupies the display slot; it is either active or hiding
	current *Record
}

// QueueManager keeps queued records ordered by priority then enqueue order
// and shows at most one record per scope.
type QueueManager struct {
	display  Display
	eventBus *events.Bus
	logger   *log.Logger
	logLevel model.LogLevel
	now      func() time.Time

	records    []*Record
	byKey      map[model.MessageKey]*Record
	scopes     map[model.ScopeKey]*scopeState
	scopeOrder []*scopeState
	suspend    *TokenHolder
	seq        uint64

	updating bool
	dirty    bool
}

func NewQueueManager(display Display) *QueueManager {
	q := &QueueManager{
		display:  display,
		logLevel: model.LogLevelInfo,
		now:      time.Now,
		byKey:    make(map[model.MessageKey]*Record),
		scopes:   make(map[model.ScopeKey]*scopeState),
	}
	q.suspend = NewTokenHolder(q.update)
	return q
}

// SetEventBus sets the event bus for publishing queue events.
func (q *QueueManager) SetEventBus(bus *events.Bus) {
	q.eventBus = bus
}

func (q *QueueManager) SetLogger(logger *log.Logger, level model.LogLevel) {
	q.logger = logger
	q.logLevel = level
}

// SetClock overrides the enqueue timestamp source for testing.
func (q *QueueManager) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue inserts msg. It returns false, and changes nothing, when a record
// with the same identifier is already queued in that scope or when the
// scope has been destroyed.
func (q *QueueManager) Enqueue(msg Message) (*Record, bool) {
	if msg.Priority == "" {
		msg.Priority = model.PriorityNormal
	}
	key := msg.Key()

	st := q.scopes[msg.Scope]
	if st != nil && st.destroyed {
		q.drop(key, DropScopeDestroyed)
		return nil, false
	}
	if _, dup := q.byKey[key]; dup {
		q.drop(key, DropDuplicate)
		return nil, false
	}
	if st == nil {
		st = q.addScope(msg.Scope)
	}

	q.seq++
	now := q.now()
	id, err := model.NewRecordID(now)
	if err != nil {
		id = fmt.Sprintf("%s_%010d_%08x", model.RecordIDPrefix, now.Unix(), uint32(q.seq))
	}
	rec := &Record{
		ID:         id,
		Message:    msg,
		state:      model.RecordPending,
		seq:        q.seq,
		enqueuedAt: now,
	}
	q.mutate(func() {
		q.insert(rec)
		q.byKey[key] = rec
		q.log(model.LogLevelDebug, "enqueue id=%s key=%s priority=%s seq=%d", rec.ID, key, rec.Priority, rec.seq)
		q.publish(events.EventMessageEnqueued, rec, nil)
	})
	return rec, true
}

// Dismiss removes the record queued under key. Unknown keys, including a
// record already dismissed and still fading out, are a no-op.
func (q *QueueManager) Dismiss(key model.MessageKey, reason model.DismissReason) bool {
	rec, ok := q.byKey[key]
	if !ok {
		return false
	}
	q.mutate(func() { q.remove(rec, reason, true) })
	return true
}

// DismissRecord dismisses rec only if it is still the record queued under its key.
func (q *QueueManager) DismissRecord(rec *Record, reason model.DismissReason) bool {
	if rec == nil || q.byKey[rec.Key()] != rec {
		return false
	}
	return q.Dismiss(rec.Key(), reason)
}

// DismissAll hides every visible record, then clears the queue.
func (q *QueueManager) DismissAll(reason model.DismissReason) {
	q.mutate(func() {
		for _, st := range slices.Clone(q.scopeOrder) {
			if cur := st.current; cur != nil && !cur.removed {
				q.remove(cur, reason, false)
			}
		}
		for _, rec := range slices.Clone(q.records) {
			if !rec.removed {
				q.remove(rec, reason, false)
			}
		}
	})
}

// Suspend blocks all display until every returned token is resumed.
// Visible records are hidden and return to pending.
func (q *QueueManager) Suspend() Token {
	t := q.suspend.Acquire()
	q.log(model.LogLevelDebug, "suspend tokens=%d", q.suspend.Len())
	q.publishQueue(events.EventQueueSuspended)
	return t
}

// Resume releases t. Unknown or reused tokens are a no-op.
func (q *QueueManager) Resume(t Token) bool {
	if !q.suspend.Release(t) {
		return false
	}
	q.log(model.LogLevelDebug, "resume tokens=%d", q.suspend.Len())
	q.publishQueue(events.EventQueueResumed)
	return true
}

// SetScopeActive toggles whether scope may show messages. Inactive scopes
// keep their records pending. Destroyed scopes ignore the call.
func (q *QueueManager) SetScopeActive(scope model.ScopeKey, active bool) bool {
	st := q.scopes[scope]
	if st != nil && st.destroyed {
		return false
	}
	if st == nil {
		st = q.addScope(scope)
	}
	if st.active == active {
		return true
	}
	q.mutate(func() { st.active = active })
	return true
}

// DestroyScope dismisses every record of scope and rejects later enqueues into it.
func (q *QueueManager) DestroyScope(scope model.ScopeKey, reason model.DismissReason) {
	if reason == "" {
		reason = model.DismissScopeDestroyed
	}
	st := q.scopes[scope]
	if st == nil {
		st = q.addScope(scope)
	}
	if st.destroyed {
		return
	}
	q.mutate(func() {
		st.destroyed = true
		if cur := st.current; cur != nil && !cur.removed {
			q.remove(cur, reason, false)
		}
		for _, rec := range slices.Clone(q.records) {
			if rec.Scope == scope && !rec.removed {
				q.remove(rec, reason, false)
			}
		}
	})
}

// OnShown acknowledges that rec finished showing. It returns false for
// stale completions (rec no longer active).
func (q *QueueManager) OnShown(rec *Record) bool {
	st := q.scopes[rec.Scope]
	if st == nil || st.current != rec || rec.state != model.RecordActive {
		return false
	}
	q.log(model.LogLevelDebug, "shown id=%s key=%s", rec.ID, rec.Key())
	q.publish(events.EventMessageShown, rec, nil)
	return true
}

// OnHidden frees rec's display slot. A removed record becomes dismissed,
// anything else goes back to pending with its original sequence number.
func (q *QueueManager) OnHidden(rec *Record) {
	st := q.scopes[rec.Scope]
	if st == nil || st.current != rec || rec.state != model.RecordHiding {
		return
	}
	q.mutate(func() {
		st.current = nil
		next := model.RecordPending
		if rec.removed {
			next = model.RecordDismissed
		}
		q.setState(rec, next)
		q.log(model.LogLevelDebug, "hidden id=%s key=%s state=%s", rec.ID, rec.Key(), rec.state)
		q.publish(events.EventMessageHidden, rec, nil)
	})
}

// Active returns the record shown in scope, or nil. A record that is
// fading out does not count as active.
func (q *QueueManager) Active(scope model.ScopeKey) *Record {
	st := q.scopes[scope]
	if st == nil || st.current == nil || st.current.state != model.RecordActive {
		return nil
	}
	return st.current
}

// Pending returns queued records that are not visible, in display order.
func (q *QueueManager) Pending() []*Record {
	var out []*Record
	for _, rec := range q.records {
		if rec.state == model.RecordPending {
			out = append(out, rec)
		}
	}
	return out
}

// Records returns every queued record in display order.
func (q *QueueManager) Records() []*Record {
	return slices.Clone(q.records)
}

// Get returns the record queued under key.
func (q *QueueManager) Get(key model.MessageKey) (*Record, bool) {
	rec, ok := q.byKey[key]
	return rec, ok
}

func (q *QueueManager) Len() int { return len(q.records) }

func (q *QueueManager) IsSuspended() bool { return q.suspend.HasTokens() }

func (q *QueueManager) IsScopeDestroyed(scope model.ScopeKey) bool {
	st := q.scopes[scope]
	return st != nil && st.destroyed
}

// Snapshot captures the queue, including records fading out after dismissal.
func (q *QueueManager) Snapshot() model.QueueSnapshot {
	snap := model.QueueSnapshot{
		Suspended:     q.suspend.HasTokens(),
		SuspendTokens: q.suspend.Len(),
		TakenAt:       q.now().UTC().Format(time.RFC3339),
	}
	for _, rec := range q.records {
		snap.Records = append(snap.Records, rec.snapshot())
	}
	for _, st := range q.scopeOrder {
		if cur := st.current; cur != nil && cur.removed {
			snap.Records = append(snap.Records, cur.snapshot())
		}
		snap.Scopes = append(snap.Scopes, model.ScopeSnapshot{
			Scope:     st.key,
			Active:    st.active,
			Destroyed: st.destroyed,
		})
	}
	return snap
}

// mutate runs fn and then reconciles the display slots once. Calls nested
// inside fn, or inside a reconcile, only mark the queue dirty.
func (q *QueueManager) mutate(fn func()) {
	if q.updating {
		fn()
		q.dirty = true
		return
	}
	q.updating = true
	fn()
	q.updating = false
	q.update()
}

func (q *QueueManager) update() {
	if q.updating {
		q.dirty = true
		return
	}
	q.updating = true
	defer func() { q.updating = false }()
	for {
		q.dirty = false
		q.reconcile()
		if !q.dirty {
			return
		}
	}
}

// reconcile moves each scope one step toward showing its head record.
func (q *QueueManager) reconcile() {
	suspended := q.suspend.HasTokens()
	for _, st := range slices.Clone(q.scopeOrder) {
		cur := st.current
		if cur != nil && cur.state == model.RecordHiding {
			// nothing new activates until the hide completes
			continue
		}
		var want *Record
		if !suspended && st.active && !st.destroyed {
			want = q.head(st.key)
		}
		if cur == want {
			continue
		}
		if cur != nil {
			q.log(model.LogLevelDebug, "withdraw id=%s key=%s suspended=%t", cur.ID, cur.Key(), suspended)
			q.startHide(cur, true)
			continue
		}
		st.current = want
		q.setState(want, model.RecordActive)
		q.log(model.LogLevelDebug, "show id=%s key=%s", want.ID, want.Key())
		q.display.Show(want)
	}
}

func (q *QueueManager) head(scope model.ScopeKey) *Record {
	for _, rec := range q.records {
		if rec.Scope != scope {
			continue
		}
		if rec.state == model.RecordPending || rec.state == model.RecordActive {
			return rec
		}
	}
	return nil
}

func (q *QueueManager) startHide(rec *Record, animate bool) {
	if !q.setState(rec, model.RecordHiding) {
		return
	}
	q.display.Hide(rec, animate)
}

// remove takes rec out of the queue and fires its dismiss callback. A
// visible record keeps its display slot until the hide completes.
func (q *QueueManager) remove(rec *Record, reason model.DismissReason, animate bool) {
	delete(q.byKey, rec.Key())
	if i := slices.Index(q.records, rec); i >= 0 {
		q.records = slices.Delete(q.records, i, i+1)
	}
	rec.removed = true
	rec.dismissReason = reason

	switch rec.state {
	case model.RecordPending:
		q.setState(rec, model.RecordDismissed)
	case model.RecordActive:
		q.startHide(rec, animate)
	case model.RecordHiding:
		// already fading out; OnHidden finishes it as dismissed
	}

	q.log(model.LogLevelDebug, "dismiss id=%s key=%s reason=%s", rec.ID, rec.Key(), reason)
	q.publish(events.EventMessageDismissed, rec, map[string]interface{}{events.KeyReason: string(reason)})
	if rec.OnDismissed != nil {
		q.safeCall(func() { rec.OnDismissed(reason) })
	}
}

func (q *QueueManager) insert(rec *Record) {
	i := sort.Search(len(q.records), func(i int) bool {
		return rec.before(q.records[i])
	})
	q.records = slices.Insert(q.records, i, rec)
}

func (q *QueueManager) addScope(key model.ScopeKey) *scopeState {
	st := &scopeState{key: key, active: true}
	q.scopes[key] = st
	q.scopeOrder = append(q.scopeOrder, st)
	return st
}

func (q *QueueManager) setState(rec *Record, to model.RecordState) bool {
	if err := rec.transition(to); err != nil {
		q.log(model.LogLevelWarn, "record %s: %v", rec.ID, err)
		return false
	}
	return true
}

func (q *QueueManager) drop(key model.MessageKey, why string) {
	q.log(model.LogLevelDebug, "drop key=%s reason=%s", key, why)
	if q.eventBus == nil {
		return
	}
	q.eventBus.Publish(events.EventMessageDropped, map[string]interface{}{
		events.KeyIdentifier: string(key.Identifier),
		events.KeyScope:      key.Scope.String(),
		events.KeyReason:     why,
	})
}

func (q *QueueManager) publish(et events.EventType, rec *Record, extra map[string]interface{}) {
	if q.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		events.KeyRecordID:   rec.ID,
		events.KeyIdentifier: string(rec.Identifier),
		events.KeyScope:      rec.Scope.String(),
		events.KeyPriority:   string(rec.Priority),
	}
	for k, v := range extra {
		data[k] = v
	}
	q.eventBus.Publish(et, data)
}

func (q *QueueManager) publishQueue(et events.EventType) {
	if q.eventBus == nil {
		return
	}
	q.eventBus.Publish(et, map[string]interface{}{events.KeyTokens: q.suspend.Len()})
}

// safeCall runs a caller-supplied callback; a panic in it is logged, not propagated.
func (q *QueueManager) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log(model.LogLevelError, "dismiss callback panic: %v", r)
		}
	}()
	fn()
}

func (q *QueueManager) log(level model.LogLevel, format string, args ...any) {
	if q.logger == nil || level < q.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	q.logger.Printf("%s %s queue_manager: %s", time.Now().Format(time.RFC3339), level, msg)
}
