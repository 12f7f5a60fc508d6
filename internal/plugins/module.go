package plugins

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lerndmina/Heimdall-sub000/internal/httpapi"
	"github.com/lerndmina/Heimdall-sub000/internal/interactions"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/plugins/manifest"
)

// Module is a loaded plugin entry. Init receives the plugin's context and
// returns the public API other plugins see as a dependency; nil is allowed.
type Module interface {
	Init(ctx context.Context, pc *Context) (any, error)
}

// Optional capabilities, probed after Init.
type (
	CommandProvider interface {
		Commands() []interactions.Command
	}
	ContextMenuProvider interface {
		ContextMenus() []interactions.ContextMenu
	}
	EventProvider interface {
		Events() []interactions.EventHandler
	}
	RouterProvider interface {
		Routes() []httpapi.Route
	}
	PermissionProvider interface {
		PermissionCategories() []permissions.Category
	}
	Unloader interface {
		Unload(ctx context.Context) error
	}
)

// ErrUnsupported is returned by a Loader that does not handle a manifest.
var ErrUnsupported = errors.New("plugins: loader does not support manifest")

// Loader resolves a manifest's entry into a Module.
type Loader interface {
	Load(ctx context.Context, m *manifest.Manifest) (Module, error)
}

// BuiltinPrefix marks a manifest main that names a compiled-in module.
const BuiltinPrefix = "builtin:"

// ModuleFunc adapts an init function to Module.
type ModuleFunc func(ctx context.Context, pc *Context) (any, error)

func (f ModuleFunc) Init(ctx context.Context, pc *Context) (any, error) {
	return f(ctx, pc)
}

// BuiltinLoader serves compiled-in modules registered by entry name. A
// manifest selects one with main "builtin:<entry>".
type BuiltinLoader struct {
	mu        sync.RWMutex
	factories map[string]func() Module
}

// NewBuiltinLoader returns an empty loader.
func NewBuiltinLoader() *BuiltinLoader {
	return &BuiltinLoader{factories: make(map[string]func() Module)}
}

// Register binds entry to factory. A factory is invoked on every load so a
// reload starts from fresh state.
func (l *BuiltinLoader) Register(entry string, factory func() Module) {
	l.mu.Lock()
	l.factories[entry] = factory
	l.mu.Unlock()
}

func (l *BuiltinLoader) Load(_ context.Context, m *manifest.Manifest) (Module, error) {
	entry, ok := strings.CutPrefix(m.Main, BuiltinPrefix)
	if !ok {
		return nil, ErrUnsupported
	}
	l.mu.RLock()
	factory, ok := l.factories[entry]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugins: no builtin module %q", entry)
	}
	return factory(), nil
}

// ChainLoader tries each loader in turn and uses the first one that does not
// return ErrUnsupported.
type ChainLoader []Loader

func (c ChainLoader) Load(ctx context.Context, m *manifest.Manifest) (Module, error) {
	for _, l := range c {
		mod, err := l.Load(ctx, m)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		return mod, err
	}
	return nil, fmt.Errorf("plugins: no loader accepts main %q of %s", m.Main, m.Name)
}
