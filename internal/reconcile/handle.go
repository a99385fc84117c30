package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Request is one accepted transition request.
type Request struct {
	ID               string         `json:"id"`
	Channel          pool.ChannelID `json:"channel"`
	Target           int            `json:"target"`
	WaitForExecution bool           `json:"wait_for_execution"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Handle is the caller's view of a request. It resolves exactly once.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Handle struct {
	Request

	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	state   State
	outcome Outcome
}

func newHandle(channel pool.ChannelID, target int, wait bool, now time.Time) *Handle {
	return &Handle{
		Request: Request{
			ID:               uuid.NewString(),
			Channel:          channel,
			Target:           target,
			WaitForExecution: wait,
			CreatedAt:        now,
		},
		done:  make(chan struct{}),
		state: Idle,
	}
}

// Done is closed when the handle resolves.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		o, _ := h.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the resolution, and false while still pending.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
	default:
		return Outcome{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome, true
}

// State returns the latest reconciliation state of this request.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	if !h.state.Terminal() {
		h.state = s
	}
	h.mu.Unlock()
}

// resolve records o if the handle is still pending and reports whether it did.
func (h *Handle) resolve(o Outcome) bool {
	resolved := false
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = o
		h.state = o.State
		h.mu.Unlock()
		close(h.done)
		resolved = true
	})
	return resolved
}
