package banner

import (
	"sync"

	"github.com/msageha/herald/internal/messages"
)

// Multi fans a record out to several delegates. Each completion fires once
// every delegate has completed.
type Multi []messages.Delegate

func (m Multi) Show(rec *messages.Record, onShown func()) {
	done := barrier(len(m), onShown)
	for _, d := range m {
		d.Show(rec, done)
	}
}

func (m Multi) Hide(rec *messages.Record, animate bool, onHidden func()) {
	done := barrier(len(m), onHidden)
	for _, d := range m {
		d.Hide(rec, animate, done)
	}
}

// barrier returns a callback that runs fn on its n-th invocation.
func barrier(n int, fn func()) func() {
	if n == 0 {
		fn()
		return func() {}
	}
	var mu sync.Mutex
	left := n
	return func() {
		mu.Lock()
		left--
		fire := left == 0
		mu.Unlock()
		if fire {
			fn()
		}
	}
}
