package components

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/kvstore"
)

const (
	// MarkerPrefix namespaces ephemeral expiry markers in the kv store.
	MarkerPrefix = "component:ephemeral:"

	ExpiredMessage   = "This interaction has expired. Please run the command again."
	FailureMessage   = "Something went wrong while handling this interaction."
	ForbiddenMessage = "You do not have permission to use this."
)

type ephemeralEntry struct {
	binding
	timer *time.Timer
}

// Registry is the component callback directory.
type Registry struct {
	kv      kvstore.Store
	store   Store
	checker PermissionChecker
	bus     *eventbus.Bus
	logger  *log.Logger
	newID   func() string

	mu        sync.RWMutex
	ephemeral map[string]*ephemeralEntry
	handlers  map[string]binding
	cache     map[string]Record

	workers eventbus.Workers
}

// Option customises a Registry.
type Option func(*Registry)

// WithChecker enables permission-gated handlers.
func WithChecker(checker PermissionChecker) Option {
	return func(r *Registry) {
		r.checker = checker
	}
}

// WithBus makes Start watch platform deletions for cleanup.
func WithBus(bus *eventbus.Bus) Option {
	return func(r *Registry) {
		r.bus = bus
	}
}

// WithLogger overrides the registry logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a registry over the expiring kv store and the document store.
func New(kv kvstore.Store, store Store, opts ...Option) *Registry {
	r := &Registry{
		kv:        kv,
		store:     store,
		logger:    log.Default(),
		newID:     uuid.NewString,
		ephemeral: make(map[string]*ephemeralEntry),
		handlers:  make(map[string]binding),
		cache:     make(map[string]Record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func markerKey(id string) string {
	return MarkerPrefix + id
}

// RegisterEphemeral binds h to a fresh id that expires after ttl.
func (r *Registry) RegisterEphemeral(h Handler, ttl time.Duration, opts ...HandlerOption) string {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	id := r.newID()
	entry := &ephemeralEntry{binding: binding{name: id, handler: h}}
	for _, opt := range opts {
		opt(&entry.binding)
	}

	if r.kv != nil {
		if err := r.kv.Set(context.Background(), markerKey(id), []byte{1}, ttl); err != nil {
			r.logger.Printf("[Components] set expiry marker for %s: %v", id, err)
		}
	}

	r.mu.Lock()
	r.ephemeral[id] = entry
	entry.timer = time.AfterFunc(ttl, func() { r.expire(id) })
	r.mu.Unlock()
	return id
}

func (r *Registry) expire(id string) {
	r.mu.Lock()
	delete(r.ephemeral, id)
	r.mu.Unlock()
	if r.kv != nil {
		if err := r.kv.Delete(context.Background(), markerKey(id)); err != nil {
			r.logger.Printf("[Components] drop expiry marker for %s: %v", id, err)
		}
	}
}

// RegisterPersistentHandler registers a named handler that persistent
// components refer to. Registering the same name again replaces it.
func (r *Registry) RegisterPersistentHandler(name string, h Handler, opts ...HandlerOption) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("components: handler name is required")
	}
	if h == nil {
		return fmt.Errorf("components: handler %q is nil", name)
	}
	b := binding{name: name, handler: h}
	for _, opt := range opts {
		opt(&b)
	}

	r.mu.Lock()
	r.handlers[name] = b
	r.mu.Unlock()
	return nil
}

// UnregisterPersistentHandler removes a named handler. Stored bindings that
// refer to it resolve as expired until it is registered again.
func (r *Registry) UnregisterPersistentHandler(name string) {
	r.mu.Lock()
	delete(r.handlers, name)
	r.mu.Unlock()
}

// CreatePersistentComponent allocates an id bound to handlerName and stores
// the binding.
func (r *Registry) CreatePersistentComponent(ctx context.Context, handlerName string, kind Kind, opts ...ComponentOption) (string, error) {
	handlerName = strings.TrimSpace(handlerName)
	if handlerName == "" {
		return "", errors.New("components: handler name is required")
	}
	if r.store == nil {
		return "", errors.New("components: no store configured")
	}
	if _, ok := r.resolveHandler(handlerName); !ok {
		r.logger.Printf("[Components] WARNING: creating component for unregistered handler %q", handlerName)
	}

	rec := Record{
		CustomID:      r.newID(),
		HandlerID:     handlerName,
		ComponentType: kind,
		CreatedAt:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&rec)
	}

	if err := r.store.SaveComponent(ctx, rec); err != nil {
		return "", fmt.Errorf("components: save %s: %w", rec.CustomID, err)
	}

	r.mu.Lock()
	r.cache[rec.CustomID] = rec
	r.mu.Unlock()
	return rec.CustomID, nil
}

// AttachMessage records the message a persistent component was posted in.
func (r *Registry) AttachMessage(ctx context.Context, customID, guildID, channelID, messageID string) error {
	if r.store == nil {
		return errors.New("components: no store configured")
	}
	if err := r.store.AttachComponentMessage(ctx, customID, guildID, channelID, messageID); err != nil {
		return fmt.Errorf("components: attach %s: %w", customID, err)
	}

	r.mu.Lock()
	if rec, ok := r.cache[customID]; ok {
		rec.GuildID, rec.ChannelID, rec.MessageID = guildID, channelID, messageID
		r.cache[customID] = rec
	}
	r.mu.Unlock()
	return nil
}

// DeletePersistentComponent removes one binding from the store and cache.
func (r *Registry) DeletePersistentComponent(ctx context.Context, customID string) error {
	if r.store != nil {
		if err := r.store.DeleteComponent(ctx, customID); err != nil {
			return fmt.Errorf("components: delete %s: %w", customID, err)
		}
	}
	r.mu.Lock()
	delete(r.cache, customID)
	r.mu.Unlock()
	return nil
}

// Load replaces the cache with every binding in the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.ListComponents(ctx)
	if err != nil {
		return fmt.Errorf("components: load: %w", err)
	}

	cache := make(map[string]Record, len(records))
	for _, rec := range records {
		cache[rec.CustomID] = rec
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()

	r.logger.Printf("[Components] loaded %d persistent component(s)", len(records))
	return nil
}

// CleanupMessage deletes every binding posted in messageID.
func (r *Registry) CleanupMessage(ctx context.Context, messageID string) (int, error) {
	if messageID == "" || r.store == nil {
		return 0, nil
	}
	ids, err := r.store.DeleteComponentsByMessage(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("components: cleanup message %s: %w", messageID, err)
	}
	r.evict(ids)
	return len(ids), nil
}

// CleanupChannel deletes every binding posted in channelID.
func (r *Registry) CleanupChannel(ctx context.Context, channelID string) (int, error) {
	if channelID == "" || r.store == nil {
		return 0, nil
	}
	ids, err := r.store.DeleteComponentsByChannel(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("components: cleanup channel %s: %w", channelID, err)
	}
	r.evict(ids)
	return len(ids), nil
}

func (r *Registry) evict(ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	for _, id := range ids {
		delete(r.cache, id)
	}
	r.mu.Unlock()
}

// Start loads the persisted directory and, when a bus is configured, starts
// the deletion watchers.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Load(ctx); err != nil {
		return err
	}
	if r.bus == nil {
		return nil
	}

	r.workers.Start(context.Background())
	msgSub := eventbus.SubscribeTo(r.bus, eventbus.Platform.MessageDeleted, eventbus.WithSubscriptionName("components_message_cleanup"))
	chanSub := eventbus.SubscribeTo(r.bus, eventbus.Platform.ChannelDeleted, eventbus.WithSubscriptionName("components_channel_cleanup"))
	r.workers.Track(msgSub, chanSub)

	r.workers.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, msgSub, func(env eventbus.TypedEnvelope[eventbus.MessageDeletedEvent]) {
			if n, err := r.CleanupMessage(ctx, env.Payload.MessageID); err != nil {
				r.logger.Printf("[Components] %v", err)
			} else if n > 0 {
				r.logger.Printf("[Components] removed %d component(s) of deleted message %s", n, env.Payload.MessageID)
			}
		})
	})
	r.workers.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, chanSub, func(env eventbus.TypedEnvelope[eventbus.ChannelDeletedEvent]) {
			if n, err := r.CleanupChannel(ctx, env.Payload.ChannelID); err != nil {
				r.logger.Printf("[Components] %v", err)
			} else if n > 0 {
				r.logger.Printf("[Components] removed %d component(s) of deleted channel %s", n, env.Payload.ChannelID)
			}
		})
	})
	return nil
}

// Shutdown stops the watchers and all pending ephemeral timers.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for id, entry := range r.ephemeral {
		entry.timer.Stop()
		delete(r.ephemeral, id)
	}
	r.mu.Unlock()

	if r.bus == nil {
		return nil
	}
	return r.workers.Stop(ctx)
}
