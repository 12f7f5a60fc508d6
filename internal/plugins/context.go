package plugins

import (
	"context"
	"log"

	"github.com/lerndmina/Heimdall-sub000/internal/components"
	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
	"github.com/lerndmina/Heimdall-sub000/internal/httpapi"
	"github.com/lerndmina/Heimdall-sub000/internal/interactions"
	"github.com/lerndmina/Heimdall-sub000/internal/kvstore"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
	"github.com/lerndmina/Heimdall-sub000/internal/plugins/manifest"
	"github.com/lerndmina/Heimdall-sub000/internal/store"
)

// RouteMounter exposes plugin HTTP routes. *httpapi.Server satisfies it.
type RouteMounter interface {
	MountPlugin(plugin string, routes []httpapi.Route) error
	UnmountPlugin(plugin string)
}

// Services are the shared host handles every plugin receives. Any field may
// be nil in tests; the runtime skips registrations whose target is missing.
type Services struct {
	Store       *store.Store
	KV          kvstore.Store
	Permissions *permissions.Registry
	Checker     *permissions.Checker
	Components  *components.Registry
	Gateway     *gateway.Gateway
	Commands    *interactions.Router
	Platform    platform.MemberFetcher
	HTTP        RouteMounter
	Bus         *eventbus.Bus
}

// Context is what a plugin's Init receives.
type Context struct {
	Services
	Manifest *manifest.Manifest
	Logger   *log.Logger

	env  map[string]string
	deps map[string]any
}

// Name is the plugin's manifest name.
func (c *Context) Name() string {
	return c.Manifest.Name
}

// Env returns the value of a declared environment key. Keys the manifest
// does not declare are never visible.
func (c *Context) Env(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// Dependency returns the API of a required or present optional dependency.
func (c *Context) Dependency(name string) (any, bool) {
	api, ok := c.deps[name]
	return api, ok
}

// Broadcast sends an event to a guild's gateway room.
func (c *Context) Broadcast(guildID, event string, data any, opts ...gateway.BroadcastOption) {
	if c.Gateway == nil {
		return
	}
	c.Gateway.Broadcast(guildID, event, data, opts...)
}

// Emit delivers an event to every plugin's handlers for it.
func (c *Context) Emit(ctx context.Context, event string, payload any) {
	if c.Commands == nil {
		return
	}
	c.Commands.Emit(ctx, event, payload)
}
