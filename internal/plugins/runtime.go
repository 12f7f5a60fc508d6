// Package plugins discovers, orders, loads, and unloads feature plugins and
// wires their capabilities into the host's command, HTTP, and permission
// registries.
package plugins

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/plugins/manifest"
)

// Status is the state of a plugin known to the runtime.
type Status string

const (
	StatusLoaded   Status = "loaded"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
	StatusUnloaded Status = "unloaded"
)

// LoadedPlugin is the runtime record of one discovered plugin.
type LoadedPlugin struct {
	Manifest *manifest.Manifest
	API      any
	Status   Status
	Err      error

	module Module
}

// Runtime owns the plugin lifecycle.
type Runtime struct {
	dir          string
	overrideFile string
	loader       Loader
	services     Services
	lookupEnv    LookupEnv
	logger       *log.Logger

	mu      sync.RWMutex
	plugins map[string]*LoadedPlugin
	order   []string // names in load order, loaded plugins only
	known   []string // every discovered name in discovery order
	warned  int
}

// Option customises a Runtime.
type Option func(*Runtime)

// WithOverrideFile sets the operator override file path.
func WithOverrideFile(path string) Option {
	return func(r *Runtime) {
		r.overrideFile = path
	}
}

// WithLookupEnv replaces os.LookupEnv for env validation and accessors.
func WithLookupEnv(lookup LookupEnv) Option {
	return func(r *Runtime) {
		if lookup != nil {
			r.lookupEnv = lookup
		}
	}
}

// WithLogger overrides the runtime logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a runtime for plugins under dir.
func New(dir string, loader Loader, services Services, opts ...Option) *Runtime {
	r := &Runtime{
		dir:       dir,
		loader:    loader,
		services:  services,
		lookupEnv: os.LookupEnv,
		logger:    log.Default(),
		plugins:   make(map[string]*LoadedPlugin),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan discovers and orders plugins without loading them.
func (r *Runtime) Plan() (*Plan, error) {
	overrides, err := manifest.LoadOverrides(r.overrideFile)
	if err != nil {
		return nil, err
	}
	return BuildPlan(r.dir, overrides, r.lookupEnv)
}

// LoadAll discovers, validates, orders, and loads every enabled plugin. It
// stops at the first plugin that fails to load and unloads the plugins it
// had already loaded, in reverse order, so a failed call leaves nothing
// loaded.
func (r *Runtime) LoadAll(ctx context.Context) error {
	plan, err := r.Plan()
	if plan != nil {
		r.record(plan)
	}
	if err != nil {
		return err
	}

	for _, m := range plan.Order {
		if err := ctx.Err(); err != nil {
			r.UnloadAll(context.WithoutCancel(ctx))
			return err
		}
		if err := r.loadOne(ctx, m); err != nil {
			r.setFailed(m, err)
			r.logger.Printf("[Plugins] failed to load %s: %v", m.Name, err)
			r.UnloadAll(context.WithoutCancel(ctx))
			return &LoadError{Plugin: m.Name, Err: err}
		}
	}
	r.logger.Printf("[Plugins] loaded %d plugin(s), %d disabled", len(plan.Order), len(plan.Disabled))
	return nil
}

func (r *Runtime) record(plan *Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]*LoadedPlugin, len(plan.Discovered))
	r.known = r.known[:0]
	r.order = nil
	r.warned = len(plan.Warnings)
	for _, m := range plan.Discovered {
		r.known = append(r.known, m.Name)
		lp := &LoadedPlugin{Manifest: m}
		if _, off := plan.Disabled[m.Name]; off {
			lp.Status = StatusDisabled
			r.publish(m, eventbus.PluginStatusDisabled, nil)
		}
		r.plugins[m.Name] = lp
	}
}

func (r *Runtime) loadOne(ctx context.Context, m *manifest.Manifest) error {
	pc := r.newContext(m)

	mod, err := r.loader.Load(ctx, m)
	if err != nil {
		return err
	}
	api, err := mod.Init(ctx, pc)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := r.registerCapabilities(m.Name, mod); err != nil {
		r.teardown(context.WithoutCancel(ctx), m.Name, mod)
		return err
	}

	r.mu.Lock()
	lp := r.plugins[m.Name]
	lp.module = mod
	lp.API = api
	lp.Status = StatusLoaded
	lp.Err = nil
	r.order = append(r.order, m.Name)
	r.mu.Unlock()

	r.publish(m, eventbus.PluginStatusLoaded, nil)
	r.logger.Printf("[Plugins] loaded %s %s", m.Name, m.Version)
	return nil
}

func (r *Runtime) newContext(m *manifest.Manifest) *Context {
	env := make(map[string]string)
	for _, key := range m.EnvKeys() {
		if v, ok := r.lookupEnv(key); ok {
			env[key] = v
		}
	}

	r.mu.RLock()
	deps := make(map[string]any)
	for _, dep := range m.AllDependencies() {
		if lp, ok := r.plugins[dep]; ok && lp.Status == StatusLoaded {
			deps[dep] = lp.API
		}
	}
	r.mu.RUnlock()

	return &Context{
		Services: r.services,
		Manifest: m,
		Logger:   log.New(r.logger.Writer(), fmt.Sprintf("[Plugin:%s] ", m.Name), r.logger.Flags()),
		env:      env,
		deps:     deps,
	}
}

func (r *Runtime) registerCapabilities(name string, mod Module) error {
	s := r.services
	if p, ok := mod.(PermissionProvider); ok && s.Permissions != nil {
		if err := s.Permissions.Register(name, p.PermissionCategories()...); err != nil {
			return fmt.Errorf("register permissions: %w", err)
		}
	}
	if s.Commands != nil {
		if p, ok := mod.(CommandProvider); ok {
			for _, cmd := range p.Commands() {
				if err := s.Commands.RegisterCommand(name, cmd); err != nil {
					return fmt.Errorf("register command %s: %w", cmd.Name, err)
				}
			}
		}
		if p, ok := mod.(ContextMenuProvider); ok {
			for _, menu := range p.ContextMenus() {
				if err := s.Commands.RegisterContextMenu(name, menu); err != nil {
					return fmt.Errorf("register context menu %s: %w", menu.Name, err)
				}
			}
		}
		if p, ok := mod.(EventProvider); ok {
			for _, h := range p.Events() {
				if err := s.Commands.RegisterEvent(name, h); err != nil {
					return fmt.Errorf("register event %s: %w", h.Event, err)
				}
			}
		}
	}
	if p, ok := mod.(RouterProvider); ok && s.HTTP != nil {
		if routes := p.Routes(); len(routes) > 0 {
			if err := s.HTTP.MountPlugin(name, routes); err != nil {
				return fmt.Errorf("mount routes: %w", err)
			}
		}
	}
	return nil
}

func (r *Runtime) setFailed(m *manifest.Manifest, err error) {
	r.mu.Lock()
	if lp, ok := r.plugins[m.Name]; ok {
		lp.Status = StatusFailed
		lp.Err = err
	}
	r.mu.Unlock()
	r.publish(m, eventbus.PluginStatusFailed, err)
}

// UnloadAll tears plugins down in reverse load order. Teardown errors are
// logged and do not stop the remaining plugins.
func (r *Runtime) UnloadAll(ctx context.Context) {
	r.mu.Lock()
	order := r.order
	r.order = nil
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		r.mu.RLock()
		lp := r.plugins[name]
		r.mu.RUnlock()
		if lp == nil {
			continue
		}

		r.teardown(ctx, name, lp.module)

		r.mu.Lock()
		lp.module = nil
		lp.API = nil
		lp.Status = StatusUnloaded
		r.mu.Unlock()
		r.publish(lp.Manifest, eventbus.PluginStatusUnloaded, nil)
		r.logger.Printf("[Plugins] unloaded %s", name)
	}
}

// teardown runs the module's unload hook and drops everything registered
// under name from the command router and HTTP mount point.
func (r *Runtime) teardown(ctx context.Context, name string, mod Module) {
	if u, ok := mod.(Unloader); ok {
		if err := safeUnload(ctx, u); err != nil {
			r.logger.Printf("[Plugins] unload %s: %v", name, err)
		}
	}
	if r.services.Commands != nil {
		r.services.Commands.RemovePlugin(name)
	}
	if r.services.HTTP != nil {
		r.services.HTTP.UnmountPlugin(name)
	}
}

func safeUnload(ctx context.Context, u Unloader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return u.Unload(ctx)
}

// Reload unloads everything and loads again from disk. When loading fails
// the runtime is left with nothing loaded.
func (r *Runtime) Reload(ctx context.Context) error {
	r.UnloadAll(ctx)
	return r.LoadAll(ctx)
}

// Plugins returns every discovered plugin in discovery order.
func (r *Runtime) Plugins() []LoadedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LoadedPlugin, 0, len(r.known))
	for _, name := range r.known {
		if lp, ok := r.plugins[name]; ok {
			out = append(out, *lp)
		}
	}
	return out
}

// LoadOrder returns the names of loaded plugins in load order.
func (r *Runtime) LoadOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// WarningsCount reports how many plugin directories the last discovery skipped.
func (r *Runtime) WarningsCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.warned
}

// StatusCounts tallies discovered plugins by status. Plugins that were
// discovered but never attempted are counted under "pending".
func (r *Runtime) StatusCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, lp := range r.plugins {
		status := string(lp.Status)
		if status == "" {
			status = "pending"
		}
		out[status]++
	}
	return out
}

// API returns the public API of a loaded plugin.
func (r *Runtime) API(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lp, ok := r.plugins[name]
	if !ok || lp.Status != StatusLoaded {
		return nil, false
	}
	return lp.API, true
}

func (r *Runtime) publish(m *manifest.Manifest, status eventbus.PluginStatus, err error) {
	ev := eventbus.PluginLifecycleEvent{Name: m.Name, Version: m.Version, Status: status}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Publish(context.Background(), r.services.Bus, eventbus.Plugins.Lifecycle, eventbus.SourcePluginRuntime, ev)
}
