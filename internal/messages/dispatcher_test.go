package messages

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/herald/internal/events"
	"github.com/msageha/herald/internal/model"
)

type delegateCall struct {
	op      string
	id      model.Identifier
	scope   model.ScopeKey
	animate bool
}

func (c delegateCall) String() string {
	if c.op == "hide" {
		return fmt.Sprintf("hide %s@%s animate=%t", c.id, c.scope, c.animate)
	}
	return fmt.Sprintf("show %s@%s", c.id, c.scope)
}

// fakeDelegate records calls. In sync mode completions run inline;
// otherwise the test finishes them with finishShow/finishHide.
type fakeDelegate struct {
	sync   bool
	calls  []delegateCall
	shown  map[*Record]func()
	hidden map[*Record]func()
}

func newFakeDelegate(sync bool) *fakeDelegate {
	return &fakeDelegate{
		sync:   sync,
		shown:  make(map[*Record]func()),
		hidden: make(map[*Record]func()),
	}
}

func (f *fakeDelegate) Show(rec *Record, onShown func()) {
	f.calls = append(f.calls, delegateCall{op: "show", id: rec.Identifier, scope: rec.Scope})
	if f.sync {
		onShown()
		return
	}
	f.shown[rec] = onShown
}

func (f *fakeDelegate) Hide(rec *Record, animate bool, onHidden func()) {
	f.calls = append(f.calls, delegateCall{op: "hide", id: rec.Identifier, scope: rec.Scope, animate: animate})
	if f.sync {
		onHidden()
		return
	}
	f.hidden[rec] = onHidden
}

func (f *fakeDelegate) finishShow(t *testing.T, rec *Record) {
	t.Helper()
	fn, ok := f.shown[rec]
	require.True(t, ok, "no pending show for %s", rec.Key())
	delete(f.shown, rec)
	fn()
}

func (f *fakeDelegate) finishHide(t *testing.T, rec *Record) {
	t.Helper()
	fn, ok := f.hidden[rec]
	require.True(t, ok, "no pending hide for %s", rec.Key())
	delete(f.hidden, rec)
	fn()
}

func (f *fakeDelegate) trace() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Stopper {
	t := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last(t *testing.T) *fakeTimer {
	t.Helper()
	require.NotEmpty(t, c.timers, "no timer armed")
	return c.timers[len(c.timers)-1]
}

var (
	tab1 = model.ScopeKey{Type: model.ScopeTab, ID: "1"}
	tab2 = model.ScopeKey{Type: model.ScopeTab, ID: "2"}
)

func newTestDispatcher(t *testing.T, sync bool) (*Dispatcher, *fakeDelegate, *fakeClock) {
	t.Helper()
	del := newFakeDelegate(sync)
	clock := &fakeClock{}
	d := NewDispatcher(del, nil, model.MessagesConfig{
		DefaultDurationMs: 10000,
		HighDurationMs:    20000,
	}, log.New(&bytes.Buffer{}, "", 0), model.LogLevelDebug)
	d.SetAfterFunc(clock.AfterFunc)
	return d, del, clock
}

func msg(id string, scope model.ScopeKey, p model.Priority) Message {
	return Message{Identifier: model.Identifier(id), Scope: scope, Priority: p}
}

func mustEnqueue(t *testing.T, d *Dispatcher, m Message) *Record {
	t.Helper()
	rec, err := d.EnqueueMessage(m)
	require.NoError(t, err)
	require.NotNil(t, rec, "enqueue of %s dropped", m.Key())
	return rec
}

func TestDispatcher_EnqueueShowsHead(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	mustEnqueue(t, d, msg("b", tab1, model.PriorityNormal))

	assert.Equal(t, []string{"show a@tab:1"}, del.trace())
	assert.Same(t, a, d.Queue().Active(tab1))
	assert.Equal(t, model.RecordActive, a.State())
	assert.Equal(t, 2, d.Queue().Len())
}

func TestDispatcher_HighPriorityPreempts(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	b := mustEnqueue(t, d, msg("b", tab1, model.PriorityHigh))

	assert.Equal(t, []string{
		"show a@tab:1",
		"hide a@tab:1 animate=true",
		"show b@tab:1",
	}, del.trace())
	assert.Same(t, b, d.Queue().Active(tab1))
	assert.Equal(t, model.RecordPending, a.State())
	assert.Equal(t, uint64(1), a.Sequence(), "requeued record keeps its sequence")

	// dismissing B brings A back
	require.True(t, d.DismissMessage(b.Key(), model.DismissGesture))
	assert.Same(t, a, d.Queue().Active(tab1))
	assert.Equal(t, model.RecordDismissed, b.State())
	assert.Equal(t, model.DismissGesture, b.DismissReason())
}

func TestDispatcher_EqualPriorityDoesNotPreempt(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityHigh))
	mustEnqueue(t, d, msg("b", tab1, model.PriorityHigh))

	assert.Equal(t, []string{"show a@tab:1"}, del.trace())
	assert.Same(t, a, d.Queue().Active(tab1))
}

func TestDispatcher_DuplicateIsNoop(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	rec, err := d.EnqueueMessage(msg("a", tab1, model.PriorityHigh))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, d.Queue().Len())
	assert.Len(t, del.calls, 1)

	// same identifier in another scope is a different message
	mustEnqueue(t, d, msg("a", tab2, model.PriorityNormal))
	assert.Equal(t, 2, d.Queue().Len())
}

func TestDispatcher_EnqueueValidation(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)

	tests := []struct {
		name string
		msg  Message
	}{
		{"empty identifier", msg("", tab1, model.PriorityNormal)},
		{"bad identifier", msg("Bad-Id", tab1, model.PriorityNormal)},
		{"no scope", msg("a", model.ScopeKey{}, model.PriorityNormal)},
		{"bad scope type", msg("a", model.ScopeKey{Type: "frame", ID: "1"}, model.PriorityNormal)},
		{"bad priority", msg("a", tab1, model.Priority("low"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.EnqueueMessage(tt.msg)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, 0, d.Queue().Len())
}

func TestDispatcher_DefaultPriorityIsNormal(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)
	rec := mustEnqueue(t, d, Message{Identifier: "a", Scope: tab1})
	assert.Equal(t, model.PriorityNormal, rec.Priority)
}

func TestDispatcher_TransitionGap(t *testing.T) {
	d, del, _ := newTestDispatcher(t, false)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	del.finishShow(t, a)
	b := mustEnqueue(t, d, msg("b", tab1, model.PriorityHigh))
	require.Equal(t, model.RecordHiding, a.State())
	assert.Nil(t, d.Queue().Active(tab1), "hiding record is not active")

	// nothing activates while A is still hiding
	mustEnqueue(t, d, msg("c", tab1, model.PriorityHigh))
	assert.Len(t, del.calls, 2)

	del.finishHide(t, a)
	assert.Equal(t, []string{
		"show a@tab:1",
		"hide a@tab:1 animate=true",
		"show b@tab:1",
	}, del.trace())
	assert.Same(t, b, d.Queue().Active(tab1))
	assert.Equal(t, model.RecordPending, a.State())
}

func TestDispatcher_DismissIdempotent(t *testing.T) {
	d, del, _ := newTestDispatcher(t, false)

	var reasons []model.DismissReason
	m := msg("a", tab1, model.PriorityNormal)
	m.OnDismissed = func(r model.DismissReason) { reasons = append(reasons, r) }
	a := mustEnqueue(t, d, m)
	del.finishShow(t, a)

	require.True(t, d.DismissMessage(a.Key(), model.DismissPrimaryAction))
	assert.False(t, d.DismissMessage(a.Key(), model.DismissGesture), "second dismiss is a no-op")
	assert.Equal(t, []model.DismissReason{model.DismissPrimaryAction}, reasons)
	assert.Equal(t, model.RecordHiding, a.State())
	assert.Equal(t, 0, d.Queue().Len())

	del.finishHide(t, a)
	assert.Equal(t, model.RecordDismissed, a.State())
	assert.Equal(t, []model.DismissReason{model.DismissPrimaryAction}, reasons)
}

func TestDispatcher_ReenqueueWhileHiding(t *testing.T) {
	d, del, _ := newTestDispatcher(t, false)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	del.finishShow(t, a)
	require.True(t, d.DismissMessage(a.Key(), model.DismissGesture))

	a2 := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	assert.NotEqual(t, a.ID, a2.ID)
	assert.Equal(t, model.RecordPending, a2.State())

	del.finishHide(t, a)
	assert.Same(t, a2, d.Queue().Active(tab1))
}

func TestDispatcher_DismissUnknown(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)
	assert.False(t, d.DismissMessage(model.MessageKey{Identifier: "nope", Scope: tab1}, model.DismissGesture))
}

func TestDispatcher_DismissPending(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	var got model.DismissReason
	mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	m := msg("b", tab1, model.PriorityNormal)
	m.OnDismissed = func(r model.DismissReason) { got = r }
	b := mustEnqueue(t, d, m)

	require.True(t, d.DismissMessage(b.Key(), ""))
	assert.Equal(t, model.DismissProgrammatic, got)
	assert.Equal(t, model.RecordDismissed, b.State())
	assert.Len(t, del.calls, 1, "pending dismiss never reaches the delegate")
}

func TestDispatcher_DismissAll(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	var mu sync.Mutex
	dismissed := map[model.Identifier]model.DismissReason{}
	for _, id := range []string{"a", "b"} {
		for _, scope := range []model.ScopeKey{tab1, tab2} {
			m := msg(id, scope, model.PriorityNormal)
			m.OnDismissed = func(r model.DismissReason) {
				mu.Lock()
				dismissed[model.Identifier(id+"@"+scope.String())] = r
				mu.Unlock()
			}
			mustEnqueue(t, d, m)
		}
	}

	d.DismissAllMessages(model.DismissWindowDestroyed)

	assert.Equal(t, 0, d.Queue().Len())
	assert.Len(t, dismissed, 4)
	for k, r := range dismissed {
		assert.Equal(t, model.DismissWindowDestroyed, r, k)
	}
	assert.Equal(t, []string{
		"show a@tab:1",
		"show a@tab:2",
		"hide a@tab:1 animate=false",
		"hide a@tab:2 animate=false",
	}, del.trace(), "pending records are never shown during teardown")
	assert.Nil(t, d.Queue().Active(tab1))
	assert.Nil(t, d.Queue().Active(tab2))
}

func TestDispatcher_DismissAllDeferred(t *testing.T) {
	d, del, _ := newTestDispatcher(t, false)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	mustEnqueue(t, d, msg("b", tab1, model.PriorityNormal))
	del.finishShow(t, a)

	d.DismissAllMessages(model.DismissProgrammatic)
	assert.Equal(t, model.RecordHiding, a.State())
	del.finishHide(t, a)
	assert.Equal(t, model.RecordDismissed, a.State())
	assert.Nil(t, d.Queue().Active(tab1))
	assert.Len(t, del.calls, 2)
}

func TestDispatcher_SuspendResume(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	tok := d.Suspend()
	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	assert.Empty(t, del.calls, "nothing shown while suspended")
	assert.True(t, d.Queue().IsSuspended())
	assert.Equal(t, model.RecordPending, a.State())

	require.True(t, d.Resume(tok))
	assert.False(t, d.Queue().IsSuspended())
	assert.Same(t, a, d.Queue().Active(tab1))
}

func TestDispatcher_SuspendHidesActive(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	b := mustEnqueue(t, d, msg("b", tab2, model.PriorityNormal))
	before := d.Queue().Snapshot()

	tok := d.Suspend()
	assert.Equal(t, model.RecordPending, a.State())
	assert.Equal(t, model.RecordPending, b.State())
	assert.Nil(t, d.Queue().Active(tab1))

	require.True(t, d.Resume(tok))
	after := d.Queue().Snapshot()
	assert.Equal(t, before.Records, after.Records, "suspend then resume leaves the queue unchanged")
	assert.Same(t, a, d.Queue().Active(tab1))
	assert.Same(t, b, d.Queue().Active(tab2))
	assert.Len(t, del.calls, 6)
}

func TestDispatcher_NestedSuspend(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)

	t1 := d.Suspend()
	t2 := d.Suspend()
	assert.NotEqual(t, t1, t2)
	mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))

	require.True(t, d.Resume(t1))
	assert.True(t, d.Queue().IsSuspended())
	assert.Nil(t, d.Queue().Active(tab1))

	assert.False(t, d.Resume(t1), "reused token")
	assert.False(t, d.Resume(Token("bogus")), "unknown token")
	assert.True(t, d.Queue().IsSuspended())

	require.True(t, d.Resume(t2))
	assert.NotNil(t, d.Queue().Active(tab1))
}

func TestDispatcher_AutoDismissTimer(t *testing.T) {
	d, _, clock := newTestDispatcher(t, true)

	var got model.DismissReason
	m := msg("a", tab1, model.PriorityNormal)
	m.OnDismissed = func(r model.DismissReason) { got = r }
	a := mustEnqueue(t, d, m)

	tm := clock.last(t)
	assert.Equal(t, 10*time.Second, tm.d)
	tm.fn()

	assert.Equal(t, model.DismissTimer, got)
	assert.Equal(t, model.RecordDismissed, a.State())
}

func TestDispatcher_TimerDurations(t *testing.T) {
	tests := []struct {
		name     string
		priority model.Priority
		duration time.Duration
		want     time.Duration
		armed    bool
	}{
		{"normal default", model.PriorityNormal, 0, 10 * time.Second, true},
		{"high default", model.PriorityHigh, 0, 20 * time.Second, true},
		{"explicit", model.PriorityNormal, 3 * time.Second, 3 * time.Second, true},
		{"never", model.PriorityNormal, -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, clock := newTestDispatcher(t, true)
			m := msg("a", tab1, tt.priority)
			m.Duration = tt.duration
			mustEnqueue(t, d, m)
			if !tt.armed {
				assert.Empty(t, clock.timers)
				return
			}
			assert.Equal(t, tt.want, clock.last(t).d)
		})
	}
}

func TestDispatcher_PreemptDisarmsTimer(t *testing.T) {
	d, _, clock := newTestDispatcher(t, true)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	ta := clock.last(t)
	mustEnqueue(t, d, msg("b", tab1, model.PriorityHigh))
	assert.True(t, ta.stopped)

	// a late firing of the stopped timer must not dismiss A
	ta.fn()
	assert.Equal(t, model.RecordPending, a.State())
	assert.Equal(t, 2, d.Queue().Len())
}

func TestDispatcher_StaleTimerAfterReshow(t *testing.T) {
	d, _, clock := newTestDispatcher(t, true)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	first := clock.last(t)
	tok := d.Suspend()
	require.True(t, d.Resume(tok))
	second := clock.last(t)
	require.NotSame(t, first, second)

	first.fn()
	assert.Equal(t, model.RecordActive, a.State(), "stale timer ignored")
	second.fn()
	assert.Equal(t, model.RecordDismissed, a.State())
}

func TestDispatcher_ScopeActivation(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	require.True(t, d.SetScopeActive(tab1, false))
	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	assert.Empty(t, del.calls)

	require.True(t, d.SetScopeActive(tab1, true))
	assert.Same(t, a, d.Queue().Active(tab1))

	require.True(t, d.SetScopeActive(tab1, false))
	assert.Equal(t, model.RecordPending, a.State())
	assert.Equal(t, 1, d.Queue().Len())
}

func TestDispatcher_DestroyScope(t *testing.T) {
	d, del, _ := newTestDispatcher(t, true)

	var reasons []model.DismissReason
	for _, id := range []string{"a", "b"} {
		m := msg(id, tab1, model.PriorityNormal)
		m.OnDismissed = func(r model.DismissReason) { reasons = append(reasons, r) }
		mustEnqueue(t, d, m)
	}
	other := mustEnqueue(t, d, msg("a", tab2, model.PriorityNormal))

	d.DestroyScope(tab1, "")
	assert.Equal(t, []model.DismissReason{model.DismissScopeDestroyed, model.DismissScopeDestroyed}, reasons)
	assert.True(t, d.Queue().IsScopeDestroyed(tab1))
	assert.Contains(t, del.trace(), "hide a@tab:1 animate=false")

	rec, err := d.EnqueueMessage(msg("c", tab1, model.PriorityNormal))
	require.NoError(t, err)
	assert.Nil(t, rec, "enqueue into destroyed scope is dropped")
	assert.False(t, d.SetScopeActive(tab1, true))

	assert.Same(t, other, d.Queue().Active(tab2))
	assert.Equal(t, 1, d.Queue().Len())
}

func TestDispatcher_CallbackPanicRecovered(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)

	m := msg("a", tab1, model.PriorityNormal)
	m.OnDismissed = func(model.DismissReason) { panic("boom") }
	a := mustEnqueue(t, d, m)
	b := mustEnqueue(t, d, msg("b", tab1, model.PriorityNormal))

	assert.NotPanics(t, func() { d.DismissMessage(a.Key(), model.DismissGesture) })
	assert.Same(t, b, d.Queue().Active(tab1))
}

func TestDispatcher_CompletionCalledTwice(t *testing.T) {
	d, del, _ := newTestDispatcher(t, false)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	fn := del.shown[a]
	fn()
	fn()
	assert.Equal(t, model.RecordActive, a.State())
}

// queuePoster holds posted work until the test drains it. Timers may post
// from their own goroutines.
type queuePoster struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
}

func (p *queuePoster) Post(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, fn)
	return true
}

func (p *queuePoster) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *queuePoster) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		fn()
	}
}

func TestDispatcher_PostsCompletions(t *testing.T) {
	del := newFakeDelegate(true)
	poster := &queuePoster{}
	d := NewDispatcher(del, poster, model.MessagesConfig{DefaultDurationMs: -1}, nil, model.LogLevelInfo)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	b := mustEnqueue(t, d, msg("b", tab1, model.PriorityHigh))
	require.Equal(t, model.RecordHiding, a.State(), "hidden completion is posted, not inline")
	assert.Equal(t, 2, poster.pending())

	poster.drain()
	assert.Same(t, b, d.Queue().Active(tab1))
	assert.Equal(t, model.RecordPending, a.State())
}

func TestDispatcher_Events(t *testing.T) {
	d, _, _ := newTestDispatcher(t, true)
	bus := events.NewBus(32)
	defer bus.Close()
	d.SetEventBus(bus)

	var mu sync.Mutex
	seen := map[events.EventType][]events.Event{}
	var order []events.EventType
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		seen[e.Type] = append(seen[e.Type], e)
		order = append(order, e.Type)
		mu.Unlock()
	})

	tok := d.Suspend()
	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	d.EnqueueMessage(msg("a", tab1, model.PriorityNormal))
	d.Resume(tok)
	d.DismissMessage(a.Key(), model.DismissGesture)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, et := range events.MessageEvents {
			if len(seen[et]) != 1 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond, "one event of every type")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.EventQueueSuspended, events.EventMessageEnqueued, events.EventMessageDropped,
	}, order[:3], "one subscriber sees events in publish order")
	assert.Equal(t, DropDuplicate, seen[events.EventMessageDropped][0].Data[events.KeyReason])
	dis := seen[events.EventMessageDismissed][0]
	assert.Equal(t, a.ID, dis.Data[events.KeyRecordID])
	assert.Equal(t, "gesture", dis.Data[events.KeyReason])
	assert.Equal(t, "tab:1", dis.Data[events.KeyScope])
}

func TestDispatcher_LogFormat(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(newFakeDelegate(true), nil, model.MessagesConfig{}, log.New(&buf, "", 0), model.LogLevelInfo)
	d.SetAfterFunc((&fakeClock{}).AfterFunc)
	mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))

	out := buf.String()
	assert.Contains(t, out, " INFO dispatcher: enqueued")
	assert.NotContains(t, out, "DEBUG", "debug lines filtered at info level")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		_, err := time.Parse(time.RFC3339, strings.Fields(line)[0])
		assert.NoError(t, err)
	}
}

func TestDispatcher_ZeroConfigUsesDefaultDuration(t *testing.T) {
	clock := &fakeClock{}
	d := NewDispatcher(newFakeDelegate(true), nil, model.MessagesConfig{}, nil, model.LogLevelInfo)
	d.SetAfterFunc(clock.AfterFunc)

	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	assert.Equal(t, model.RecordActive, a.State())
	assert.Equal(t, 10*time.Second, clock.last(t).d)
}

func TestDispatcher_NoPosterNoTimers(t *testing.T) {
	d := NewDispatcher(newFakeDelegate(true), nil, model.MessagesConfig{DefaultDurationMs: 1}, nil, model.LogLevelInfo)
	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, model.RecordActive, a.State(), "expiry must not run off the owning goroutine")
	assert.Empty(t, d.timers)
}

func TestDispatcher_PosterTimerExpiry(t *testing.T) {
	poster := &queuePoster{}
	d := NewDispatcher(newFakeDelegate(true), poster, model.MessagesConfig{DefaultDurationMs: 1}, nil, model.LogLevelInfo)
	a := mustEnqueue(t, d, msg("a", tab1, model.PriorityNormal))
	poster.drain()
	require.Equal(t, model.RecordActive, a.State())

	// the real timer only posts; the dismissal happens on drain
	require.Eventually(t, func() bool { return poster.pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, model.RecordActive, a.State())
	poster.drain()
	assert.Equal(t, model.RecordDismissed, a.State())
}
