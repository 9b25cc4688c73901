// Package notify implements the single-slot toast channel. One message is
// live at a time; emitting a new one replaces the current message and
// restarts the clearance timer, so a message either survives its full
// interval or is cleanly superseded.
package notify

import (
	"sync"
	"time"

	"github.com/fairyhunter13/storefront-console/internal/model"
)

// Notifier holds the current toast and its clearance timer.
type Notifier struct {
	mu    sync.Mutex
	ttl   time.Duration
	cur   *model.Toast
	timer *time.Timer
	gen   uint64
}

// New creates a Notifier whose messages clear after ttl.
func New(ttl time.Duration) *Notifier {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &Notifier{ttl: ttl}
}

// Notify sets the current message, replacing any live one and resetting
// the timer.
func (n *Notifier) Notify(message string, kind model.ToastKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cur = &model.Toast{Message: message, Kind: kind}
	n.gen++
	gen := n.gen
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.ttl, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		// A newer message owns the slot now; leave it alone.
		if n.gen == gen {
			n.cur = nil
		}
	})
}

// Success emits a success toast.
func (n *Notifier) Success(message string) { n.Notify(message, model.ToastSuccess) }

// Error emits an error toast.
func (n *Notifier) Error(message string) { n.Notify(message, model.ToastError) }

// Current returns the live toast, if any.
func (n *Notifier) Current() (model.Toast, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur == nil {
		return model.Toast{}, false
	}
	return *n.cur, true
}
