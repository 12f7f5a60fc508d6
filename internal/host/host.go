// Package host assembles the Heimdall process: it owns every shared service
// instance, hands them to plugins, and runs them under one ServiceHost.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/components"
	"github.com/lerndmina/Heimdall-sub000/internal/config"
	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
	"github.com/lerndmina/Heimdall-sub000/internal/httpapi"
	"github.com/lerndmina/Heimdall-sub000/internal/interactions"
	"github.com/lerndmina/Heimdall-sub000/internal/kvstore"
	"github.com/lerndmina/Heimdall-sub000/internal/observability"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
	"github.com/lerndmina/Heimdall-sub000/internal/plugins"
	hostruntime "github.com/lerndmina/Heimdall-sub000/internal/runtime"
	"github.com/lerndmina/Heimdall-sub000/internal/store"
)

const (
	// serviceOpTimeout bounds graceful shutdown of the whole service set.
	serviceOpTimeout = 15 * time.Second

	overrideWatchInterval = 2 * time.Second
	sessionIssuer         = "heimdall"
)

// Options groups what New needs beyond the config.
type Options struct {
	Config config.Config
	// Builtins holds compiled-in plugin modules addressed by "builtin:<entry>".
	Builtins *plugins.BuiltinLoader
	// Members and Identity default to the platform REST client.
	Members  platform.MemberFetcher
	Identity platform.IdentityResolver
	Logger   *log.Logger
}

// Host is one running Heimdall process.
type Host struct {
	cfg    config.Config
	paths  config.Paths
	logger *log.Logger

	store      *store.Store
	kv         *kvstore.Memory
	registry   *permissions.Registry
	checker    *permissions.Checker
	components *components.Registry
	bus        *eventbus.Bus
	gateway    *gateway.Gateway
	router     *interactions.Router
	api        *httpapi.Server
	plugins    *plugins.Runtime
	metrics    *observability.PrometheusExporter
	http       *httpService

	services  *hostruntime.ServiceHost
	lifecycle *hostruntime.Lifecycle

	mu          sync.Mutex
	stopWatch   func()
	reloadMu    sync.Mutex
	startedOnce bool
}

// New constructs every service in startup order. Nothing listens and no
// plugin is loaded until Start.
func New(opts Options) (*Host, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	paths := cfg.Paths()
	if err := config.EnsureDirs(paths); err != nil {
		return nil, fmt.Errorf("host: prepare data directory: %w", err)
	}

	db, err := store.Open(store.Options{DSN: cfg.DatabaseDSN, Path: paths.Database})
	if err != nil {
		return nil, fmt.Errorf("host: open store: %w", err)
	}
	kv, err := kvstore.NewMemory(cfg.Cache.Size, kvstore.WithPinnedPrefix(components.MarkerPrefix))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("host: create kv store: %w", err)
	}

	h := &Host{
		cfg:       cfg,
		paths:     paths,
		logger:    logger,
		store:     db,
		kv:        kv,
		bus:       eventbus.New(eventbus.WithLogger(logger)),
		services:  hostruntime.NewServiceHost(),
		lifecycle: hostruntime.NewLifecycle(),
	}

	h.registry = permissions.NewRegistry(permissions.WithLogger(logger))
	h.checker = permissions.NewChecker(h.registry, db, permissions.WithBotOwners(cfg.BotOwnerIDs...))
	h.components = components.New(kv, db,
		components.WithChecker(h.checker),
		components.WithBus(h.bus),
		components.WithLogger(logger),
	)

	rest := platform.NewClient(cfg.PlatformBotToken, platform.WithBaseURL(cfg.PlatformAPIURL))
	members := opts.Members
	if members == nil {
		members = rest
	}
	identity := opts.Identity
	if identity == nil {
		identity = rest
	}
	identity = h.identityResolver(identity)

	originAllowed := allowOrigins(cfg.AllowedOrigins)
	h.gateway = gateway.New(cfg.Gateway, gateway.Deps{
		Identity:      identity,
		Members:       members,
		Permissions:   h.checker,
		Bus:           h.bus,
		OriginAllowed: originAllowed,
		Logger:        logger,
	})
	counter := observability.NewEventCounter()
	h.bus.AddObserver(counter)
	h.metrics = observability.NewPrometheusExporter(h.bus, counter).WithGateway(h.gateway)

	h.router = interactions.New(h.registry, h.checker, h.components, interactions.WithLogger(logger))
	h.api = httpapi.New(httpapi.Deps{
		Identity:       identity,
		Members:        members,
		Permissions:    h.checker,
		Registry:       h.registry,
		Overrides:      db,
		Gateway:        h.gateway,
		Stats:          h.gateway,
		Bus:            h.bus,
		GatewayHandler: h.gateway,
		GatewayPath:    cfg.GatewayPath,
		OriginAllowed:  originAllowed,
		Metrics:        h.metrics,
		Logger:         logger,
	})

	builtins := opts.Builtins
	if builtins == nil {
		builtins = plugins.NewBuiltinLoader()
	}
	h.plugins = plugins.New(paths.Plugins, plugins.ChainLoader{builtins, plugins.NewScriptLoader()}, plugins.Services{
		Store:       db,
		KV:          kv,
		Permissions: h.registry,
		Checker:     h.checker,
		Components:  h.components,
		Gateway:     h.gateway,
		Commands:    h.router,
		Platform:    members,
		HTTP:        h.api,
		Bus:         h.bus,
	}, plugins.WithOverrideFile(paths.OverrideFile), plugins.WithLogger(logger))
	h.metrics.WithPlugins(h.plugins)

	h.http = newHTTPService(cfg.HTTPAddr, h.api, logger)

	if err := h.registerServices(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// identityResolver layers dashboard session tokens and a short-lived cache
// over the platform identity endpoint.
func (h *Host) identityResolver(platformIdentity platform.IdentityResolver) platform.IdentityResolver {
	var resolver platform.IdentityResolver = platformIdentity
	if h.cfg.SessionSecret != "" {
		resolver = gateway.IdentityChain{
			Sessions: gateway.NewSessionTokens([]byte(h.cfg.SessionSecret), sessionIssuer),
			Platform: platformIdentity,
		}
	}
	if h.cfg.Gateway.IdentityCacheTTL > 0 {
		resolver = gateway.NewCachedIdentity(resolver, h.cfg.Cache.Size, h.cfg.Gateway.IdentityCacheTTL)
	}
	return resolver
}

func allowOrigins(origins []string) func(string) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(origin string) bool {
		if wildcard {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

// registerServices fixes the start order: components load their persisted
// directory, plugins load, then the gateway and HTTP server begin serving.
func (h *Host) registerServices() error {
	regs := []struct {
		name string
		svc  hostruntime.Service
	}{
		{"components", h.components},
		{"plugins", &pluginService{runtime: h.plugins}},
		{"gateway", h.gateway},
		{"http", h.http},
	}
	for _, r := range regs {
		if err := h.services.RegisterService(r.name, r.svc); err != nil {
			return fmt.Errorf("host: register %s: %w", r.name, err)
		}
	}
	return nil
}

// Start brings every service up. A plugin load failure aborts startup and
// rolls back the services already started.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.startedOnce {
		h.mu.Unlock()
		return errors.New("host: already started")
	}
	h.startedOnce = true
	h.mu.Unlock()

	if err := h.services.Start(ctx); err != nil {
		return fmt.Errorf("host: start services: %w", err)
	}
	h.logger.Printf("[Host] listening on %s (gateway %s)", h.http.Addr(), h.cfg.GatewayPath)

	if h.cfg.WatchOverrides {
		stop, err := h.services.WatchFile(h.paths.OverrideFile, overrideWatchInterval, func(string) {
			_ = h.reloadPlugins()
		})
		if err != nil {
			h.logger.Printf("[Host] override watcher: %v", err)
		} else {
			h.mu.Lock()
			h.stopWatch = stop
			h.mu.Unlock()
		}
	}
	return nil
}

// reloadPlugins closes the gateway, reloads every plugin, and reopens the
// gateway. A failed reload leaves no plugin loaded and the gateway closed,
// so the host stops serving: the error also reaches Run through the
// service host, which shuts everything down.
func (h *Host) reloadPlugins() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.logger.Printf("[Host] plugin override file changed, reloading plugins")

	ctx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	defer cancel()
	if err := h.services.Restart(ctx, "plugins", "gateway"); err != nil {
		h.logger.Printf("[Host] plugin reload failed, shutting down: %v", err)
		return fmt.Errorf("host: reload plugins: %w", err)
	}
	return nil
}

// Run starts the host and blocks until Shutdown is called, ctx ends, or a
// service reports a fatal error. Services are always stopped on return.
func (h *Host) Run(ctx context.Context) error {
	pidFile := h.paths.PIDFile
	if pid, running := hostruntime.RunningPID(pidFile); running {
		h.close()
		return fmt.Errorf("host: already running (pid %d)", pid)
	}
	if err := hostruntime.WritePIDFile(pidFile, os.Getpid()); err != nil {
		return fmt.Errorf("host: write pid file: %w", err)
	}
	defer hostruntime.RemovePIDFile(pidFile)

	if err := h.Start(ctx); err != nil {
		h.close()
		return err
	}

	var runErr error
	select {
	case <-h.lifecycle.Done():
	case <-ctx.Done():
	case err := <-h.services.Errors():
		h.logger.Printf("[Host] %v", err)
		runErr = err
	}

	if err := h.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown asks Run to return.
func (h *Host) Shutdown() {
	h.lifecycle.Shutdown()
}

// Stop stops all services in reverse start order and closes the store.
func (h *Host) Stop() error {
	h.mu.Lock()
	stopWatch := h.stopWatch
	h.stopWatch = nil
	h.mu.Unlock()
	if stopWatch != nil {
		stopWatch()
	}

	ctx, cancel := context.WithTimeout(context.Background(), serviceOpTimeout)
	defer cancel()
	err := h.services.Stop(ctx)
	h.close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("host: stop services: %w", err)
	}
	return nil
}

func (h *Host) close() {
	h.bus.Shutdown()
	if err := h.store.Close(); err != nil {
		h.logger.Printf("[Host] store close: %v", err)
	}
}

// HandleInteraction routes a platform interaction to its command, context
// menu, or component handler.
func (h *Host) HandleInteraction(ctx context.Context, in *platform.Interaction) (bool, error) {
	return h.router.Route(ctx, in)
}

// MessageDeleted reports a deleted platform message so bound components are
// cleaned up.
func (h *Host) MessageDeleted(ctx context.Context, guildID, channelID, messageID string) {
	eventbus.Publish(ctx, h.bus, eventbus.Platform.MessageDeleted, eventbus.SourcePlatform,
		eventbus.MessageDeletedEvent{GuildID: guildID, ChannelID: channelID, MessageID: messageID})
}

// ChannelDeleted reports a deleted platform channel.
func (h *Host) ChannelDeleted(ctx context.Context, guildID, channelID string) {
	eventbus.Publish(ctx, h.bus, eventbus.Platform.ChannelDeleted, eventbus.SourcePlatform,
		eventbus.ChannelDeletedEvent{GuildID: guildID, ChannelID: channelID})
}

// Addr returns the HTTP listen address once started.
func (h *Host) Addr() string { return h.http.Addr() }

// Plugins returns the plugin runtime.
func (h *Host) Plugins() *plugins.Runtime { return h.plugins }

// Gateway returns the live broadcast gateway.
func (h *Host) Gateway() *gateway.Gateway { return h.gateway }

// Permissions returns the permission registry.
func (h *Host) Permissions() *permissions.Registry { return h.registry }

// Components returns the component callback registry.
func (h *Host) Components() *components.Registry { return h.components }

// Store returns the document store.
func (h *Host) Store() *store.Store { return h.store }
