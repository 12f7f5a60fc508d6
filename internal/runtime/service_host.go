package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultShutdownTimeout bounds a single service's Shutdown call.
const DefaultShutdownTimeout = 5 * time.Second

// ServiceFactory constructs a service instance. It is invoked on every start
// or restart so a restarted service never reuses stale state.
type ServiceFactory func(ctx context.Context) (Service, error)

// ServiceHost starts the host's services in registration order and stops
// them in reverse.
type ServiceHost struct {
	mu        sync.Mutex
	order     []string
	entries   map[string]*serviceRegistration
	started   bool
	errors    chan error
	cancel    context.CancelFunc
	parentCtx context.Context
	logger    *log.Logger
}

// Option configures a service registration.
type Option func(*serviceRegistration)

type serviceRegistration struct {
	name            string
	factory         ServiceFactory
	service         Service
	shutdownTimeout time.Duration
	errWatch        bool
}

// WithShutdownTimeout customises the shutdown timeout for a service.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(reg *serviceRegistration) {
		reg.shutdownTimeout = timeout
	}
}

// NewServiceHost creates a new service host.
func NewServiceHost() *ServiceHost {
	return &ServiceHost{
		entries: make(map[string]*serviceRegistration),
		errors:  make(chan error, 1),
		logger:  log.Default(),
	}
}

// Register adds a service factory under name. Registration closes once the
// host has started.
func (h *ServiceHost) Register(name string, factory ServiceFactory, opts ...Option) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("runtime: cannot register service %q after start", name)
	}
	if _, exists := h.entries[name]; exists {
		return fmt.Errorf("runtime: service %q already registered", name)
	}
	if factory == nil {
		return fmt.Errorf("runtime: service %q has no factory", name)
	}

	reg := &serviceRegistration{
		name:            name,
		factory:         factory,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(reg)
	}

	h.entries[name] = reg
	h.order = append(h.order, name)
	return nil
}

// RegisterService registers an already constructed service. It cannot be
// restarted with fresh state.
func (h *ServiceHost) RegisterService(name string, svc Service, opts ...Option) error {
	return h.Register(name, func(context.Context) (Service, error) { return svc, nil }, opts...)
}

// Names returns registered service names in start order.
func (h *ServiceHost) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// Start creates and starts every registered service. If one fails, the ones
// already started are shut down in reverse order.
func (h *ServiceHost) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("runtime: service host already started")
	}
	h.started = true
	h.parentCtx, h.cancel = context.WithCancel(ctx)
	order := append([]string(nil), h.order...)
	h.mu.Unlock()

	started := make([]*serviceRegistration, 0, len(order))
	for _, name := range order {
		reg := h.getRegistration(name)
		if reg == nil {
			continue
		}
		if err := h.startOne(reg); err != nil {
			h.rollback(started)
			h.mu.Lock()
			h.started = false
			h.cancel()
			h.mu.Unlock()
			return err
		}
		started = append(started, reg)
		h.logger.Printf("[Runtime] started %s", name)
	}
	return nil
}

func (h *ServiceHost) startOne(reg *serviceRegistration) error {
	svc, err := reg.factory(h.parentCtx)
	if err != nil {
		return fmt.Errorf("runtime: create service %q: %w", reg.name, err)
	}
	if err := svc.Start(h.parentCtx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), reg.shutdownTimeoutOrDefault())
		if stopErr := svc.Shutdown(stopCtx); stopErr != nil {
			h.logger.Printf("[Runtime] release %s after failed start: %v", reg.name, stopErr)
		}
		cancel()
		return fmt.Errorf("runtime: start service %q: %w", reg.name, err)
	}
	reg.service = svc
	h.watchErrors(reg)
	return nil
}

// Stop shuts services down in reverse registration order. It returns the
// last shutdown error but always attempts every service.
func (h *ServiceHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel := h.cancel
	h.cancel = nil
	order := append([]string(nil), h.order...)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var stopErr error
	for i := len(order) - 1; i >= 0; i-- {
		reg := h.getRegistration(order[i])
		if reg == nil || reg.service == nil {
			continue
		}
		if err := h.stopOne(ctx, reg); err != nil {
			h.logger.Printf("[Runtime] %v", err)
			stopErr = err
			continue
		}
		h.logger.Printf("[Runtime] stopped %s", reg.name)
	}
	return stopErr
}

func (h *ServiceHost) stopOne(ctx context.Context, reg *serviceRegistration) error {
	stopCtx, cancel := context.WithTimeout(ctx, reg.shutdownTimeoutOrDefault())
	defer cancel()

	err := reg.service.Shutdown(stopCtx)
	reg.service = nil
	reg.errWatch = false
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime: shutdown service %q: %w", reg.name, err)
	}
	return nil
}

// Restart stops the named services in reverse registration order, then
// starts fresh instances from their factories in registration order. When a
// start fails the services after it stay stopped and the error is also
// reported on Errors.
func (h *ServiceHost) Restart(ctx context.Context, names ...string) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return errors.New("runtime: host not started")
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		if h.entries[name] == nil {
			h.mu.Unlock()
			return fmt.Errorf("runtime: service %q not registered", name)
		}
		want[name] = true
	}
	regs := make([]*serviceRegistration, 0, len(want))
	for _, name := range h.order {
		if want[name] {
			regs = append(regs, h.entries[name])
		}
	}
	h.mu.Unlock()

	for i := len(regs) - 1; i >= 0; i-- {
		if regs[i].service == nil {
			continue
		}
		if err := h.stopOne(ctx, regs[i]); err != nil {
			return err
		}
	}
	for _, reg := range regs {
		if err := h.startOne(reg); err != nil {
			h.report(err)
			return err
		}
		h.logger.Printf("[Runtime] restarted %s", reg.name)
	}
	return nil
}

// Errors returns a channel receiving fatal service errors. Only the first
// pending error is kept.
func (h *ServiceHost) Errors() <-chan error {
	return h.errors
}

// WatchFile polls path and invokes handler whenever its modification time
// or size changes, including when it appears or disappears. The watcher
// stops when the returned cancel function is called or the host stops.
func (h *ServiceHost) WatchFile(path string, interval time.Duration, handler func(path string)) (func(), error) {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil, errors.New("runtime: cannot watch files before host is started")
	}
	parentCtx := h.parentCtx
	h.mu.Unlock()

	if path == "" {
		return nil, errors.New("runtime: watch path is empty")
	}
	if interval <= 0 {
		interval = time.Second
	}

	watchCtx, cancel := context.WithCancel(parentCtx)
	last := statFile(path)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				current := statFile(path)
				if current == last {
					continue
				}
				last = current
				if handler != nil {
					handler(path)
				}
			}
		}
	}()
	return cancel, nil
}

type fileState struct {
	exists  bool
	size    int64
	modTime int64
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime().UnixNano()}
}

func (h *ServiceHost) getRegistration(name string) *serviceRegistration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[name]
}

func (h *ServiceHost) watchErrors(reg *serviceRegistration) {
	if reg.service == nil || reg.errWatch {
		return
	}
	observable, ok := reg.service.(interface{ Errors() <-chan error })
	if !ok {
		return
	}
	reg.errWatch = true

	go func(name string, ch <-chan error) {
		for err := range ch {
			if err == nil {
				continue
			}
			h.report(fmt.Errorf("%s service error: %w", name, err))
		}
	}(reg.name, observable.Errors())
}

func (h *ServiceHost) report(err error) {
	select {
	case h.errors <- err:
	default:
	}
}

func (reg *serviceRegistration) shutdownTimeoutOrDefault() time.Duration {
	if reg.shutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return reg.shutdownTimeout
}

func (h *ServiceHost) rollback(started []*serviceRegistration) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	for i := len(started) - 1; i >= 0; i-- {
		if started[i].service == nil {
			continue
		}
		if err := h.stopOne(ctx, started[i]); err != nil {
			h.logger.Printf("[Runtime] rollback: %v", err)
		}
	}
}
