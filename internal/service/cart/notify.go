package cart

import (
	"sync"

	"fitcart/internal/domain"
)

type delivery struct {
	subs  []func(domain.CartState)
	state domain.CartState
}

// notifier delivers state changes to subscribers from its own goroutine, in
// the order they were queued. Subscribers never run on the store's worker,
// so they may call store operations.
type notifier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    []delivery
	delivering bool
	closed     bool
}

func newNotifier() *notifier {
	n := &notifier{}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier) enqueue(d delivery) {
	if len(d.subs) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = append(n.pending, d)
	n.cond.Broadcast()
}

func (n *notifier) run() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		for len(n.pending) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.pending) == 0 {
			return
		}
		d := n.pending[0]
		n.pending[0] = delivery{}
		n.pending = n.pending[1:]
		n.delivering = true
		n.mu.Unlock()

		for _, fn := range d.subs {
			fn(d.state.Clone())
		}

		n.mu.Lock()
		n.delivering = false
		n.cond.Broadcast()
	}
}

// flush blocks until everything queued so far has been delivered. It must not
// be called from a subscriber.
func (n *notifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.pending) > 0 || n.delivering {
		n.cond.Wait()
	}
}

// close lets the goroutine exit once the queue is drained. Later deliveries
// are dropped.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.cond.Broadcast()
}
