package coordinator

import (
	"sync"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Subscription delivers StatusUpdates for a set of channels.
//
// Delivery keeps only the latest update per channel: a slow consumer sees
// every channel's current state, never a backlog of superseded ones.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Subscription struct {
	filter map[pool.ChannelID]struct{}

	mu      sync.Mutex
	pending map[pool.ChannelID]StatusUpdate
	order   []pool.ChannelID

	notify    chan struct{}
	out       chan StatusUpdate
	done      chan struct{}
	closeOnce sync.Once
	detach    func(*Subscription)
}

// Subscribe registers for updates of ids, or of every channel when ids is
// empty. The current view of each matching channel is delivered first.
// Call Close when done.
func (c *Coordinator) Subscribe(ids ...pool.ChannelID) *Subscription {
	s := &Subscription{
		pending: make(map[pool.ChannelID]StatusUpdate),
		notify:  make(chan struct{}, 1),
		out:     make(chan StatusUpdate),
		done:    make(chan struct{}),
		detach:  c.unsubscribe,
	}
	if len(ids) > 0 {
		s.filter = make(map[pool.ChannelID]struct{}, len(ids))
		for _, id := range ids {
			s.filter[id] = struct{}{}
		}
	}

	c.subMu.Lock()
	c.subs[s] = struct{}{}
	c.subMu.Unlock()

	go s.pump()

	if cfg := c.cache.Config(); cfg != nil {
		for _, u := range c.updates(cfg, ids) {
			s.offer(u)
		}
	}
	return s
}

func (c *Coordinator) unsubscribe(s *Subscription) {
	c.subMu.Lock()
	delete(c.subs, s)
	c.subMu.Unlock()
}

// Updates returns the delivery channel. It is closed by Close.
func (s *Subscription) Updates() <-chan StatusUpdate {
	return s.out
}

// Close stops delivery and detaches from the coordinator.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.detach(s)
		close(s.done)
	})
}

// offer replaces the pending update for the channel and wakes the pump.
func (s *Subscription) offer(u StatusUpdate) {
	if s.filter != nil {
		if _, ok := s.filter[u.Channel]; !ok {
			return
		}
	}
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	if _, queued := s.pending[u.Channel]; !queued {
		s.order = append(s.order, u.Channel)
	}
	s.pending[u.Channel] = u
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.order) == 0 {
				s.mu.Unlock()
				break
			}
			id := s.order[0]
			s.order = s.order[1:]
			u := s.pending[id]
			delete(s.pending, id)
			s.mu.Unlock()

			select {
			case s.out <- u:
			case <-s.done:
				return
			}
		}
	}
}
