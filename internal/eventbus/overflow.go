package eventbus

import (
	"context"
	"sync"
)

// spillRing holds envelopes that did not fit into a subscriber channel and
// feeds them back in FIFO order.
type spillRing struct {
	mu    sync.Mutex
	items []Envelope
	start int
	size  int
	wake  chan struct{}
	done  chan struct{}
}

func newSpillRing(capacity int) *spillRing {
	if capacity <= 0 {
		capacity = defaultMaxOverflow
	}
	return &spillRing{
		items: make([]Envelope, capacity),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push appends env; it reports false when the ring is full.
func (r *spillRing) push(env Envelope) bool {
	r.mu.Lock()
	if r.size == len(r.items) {
		r.mu.Unlock()
		return false
	}
	r.items[(r.start+r.size)%len(r.items)] = env
	r.size++
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *spillRing) pop() (Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return Envelope{}, false
	}
	env := r.items[r.start]
	r.items[r.start] = Envelope{}
	r.start = (r.start + 1) % len(r.items)
	r.size--
	return env, true
}

func (r *spillRing) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// drain forwards buffered envelopes into ch until ctx is cancelled.
func (r *spillRing) drain(ctx context.Context, ch chan<- Envelope) {
	defer close(r.done)
	for {
		for {
			env, ok := r.pop()
			if !ok {
				break
			}
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
	}
}
