package eventbus

import (
	"context"
	"sync"
)

// SubscriptionCloser is the minimal contract required to close a subscription.
type SubscriptionCloser interface {
	Close()
}

// Workers runs background consumers tied to one context and tracks the
// subscriptions they read from so shutdown can close them together.
type Workers struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	subs   []SubscriptionCloser
	wg     sync.WaitGroup
}

// Start initialises the worker context from parent.
func (w *Workers) Start(parent context.Context) {
	w.ctx, w.cancel = context.WithCancel(parent)
}

// Context returns the active worker context.
func (w *Workers) Context() context.Context {
	return w.ctx
}

// Track registers subscriptions to close on Stop.
func (w *Workers) Track(subs ...SubscriptionCloser) {
	w.mu.Lock()
	w.subs = append(w.subs, subs...)
	w.mu.Unlock()
}

// Go runs fn in a tracked goroutine.
func (w *Workers) Go(fn func(ctx context.Context)) {
	w.wg.Add(1)
	go func(ctx context.Context) {
		defer w.wg.Done()
		fn(ctx)
	}(w.ctx)
}

// Stop cancels the context, closes tracked subscriptions, and waits for
// workers to exit or ctx to expire.
func (w *Workers) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
