package notify

import (
	"github.com/msageha/herald/internal/messages"
	"github.com/msageha/herald/internal/model"
)

// Delegate posts every shown message as a desktop notification. Hiding
// has nothing to take down, so both completions fire inline.
type Delegate struct {
	post    func(Notification) error
	onError func(error)
}

// NewDelegate uses Post. onError, if set, receives notification failures.
func NewDelegate(onError func(error)) *Delegate {
	return &Delegate{post: Post, onError: onError}
}

// notificationFor maps a record onto a notification. Only high priority
// messages make a sound.
func notificationFor(rec *messages.Record) Notification {
	n := Notification{
		Title:    rec.Properties.Title(),
		Subtitle: rec.Scope.String(),
		Body:     rec.Properties.Description(),
	}
	if n.Title == "" {
		n.Title = string(rec.Identifier)
	}
	if n.Body == "" {
		n.Body, n.Subtitle = n.Subtitle, ""
	}
	if rec.Priority == model.PriorityHigh {
		n.Sound = "default"
	}
	return n
}

func (d *Delegate) Show(rec *messages.Record, onShown func()) {
	if err := d.post(notificationFor(rec)); err != nil && d.onError != nil {
		d.onError(err)
	}
	onShown()
}

func (d *Delegate) Hide(_ *messages.Record, _ bool, onHidden func()) {
	onHidden()
}
