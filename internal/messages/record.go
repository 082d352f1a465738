package messages

import (
	"time"

	"github.com/msageha/herald/internal/model"
)

// Message is what callers enqueue.
type Message struct {
	Identifier model.Identifier
	Scope      model.ScopeKey
	Priority   model.Priority
	Properties model.Properties
	// Duration is the auto-dismiss delay once shown. Zero uses the
	// dispatcher default; negative never auto-dismisses.
	Duration    time.Duration
	OnDismissed func(reason model.DismissReason)
}

func (m Message) Key() model.MessageKey {
	return model.MessageKey{Identifier: m.Identifier, Scope: m.Scope}
}

// Record is the queued state of one message. Fields other than the
// embedded Message are owned by the QueueManager.
type Record struct {
	ID string
	Message

	state      model.RecordState
	seq        uint64
	enqueuedAt time.Time

	// removed is set once the record left the queue while its hide
	// animation is still running.
	removed       bool
	dismissReason model.DismissReason
}

func (r *Record) Key() model.MessageKey { return r.Message.Key() }

func (r *Record) State() model.RecordState { return r.state }

func (r *Record) Sequence() uint64 { return r.seq }

func (r *Record) EnqueuedAt() time.Time { return r.enqueuedAt }

// DismissReason is empty until the record is dismissed.
func (r *Record) DismissReason() model.DismissReason { return r.dismissReason }

// before reports whether r sorts ahead of o: higher priority, then FIFO.
func (r *Record) before(o *Record) bool {
	if r.Priority.Rank() != o.Priority.Rank() {
		return r.Priority.Rank() > o.Priority.Rank()
	}
	return r.seq < o.seq
}

func (r *Record) transition(to model.RecordState) error {
	if err := model.ValidateRecordTransition(r.state, to); err != nil {
		return err
	}
	r.state = to
	return nil
}

func (r *Record) snapshot() model.RecordSnapshot {
	return model.RecordSnapshot{
		ID:         r.ID,
		Identifier: r.Identifier,
		Scope:      r.Scope,
		Priority:   r.Priority,
		State:      r.state,
		Sequence:   r.seq,
		Properties: r.Properties.Clone(),
		EnqueuedAt: r.enqueuedAt.UTC().Format(time.RFC3339Nano),
		DurationMs: model.DurationMillis(r.Duration),
		Removed:    r.removed,
	}
}
