// Package httpapi is the dashboard HTTP surface: authenticated, guild-scoped,
// permission-checked routes for plugins and the built-in permission editor.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
	"github.com/lerndmina/Heimdall-sub000/internal/version"
)

// ReservedSegment is the guild sub-path owned by the permission endpoints.
const ReservedSegment = "permissions"

// Route is one plugin HTTP route. Pattern is relative to
// /api/guilds/{guildID}/<plugin>.
type Route struct {
	Method  string
	Pattern string
	// Action is the required action key. A key without a dot is relative to
	// the plugin's category; empty requires any action of that category.
	Action  string
	Handler http.Handler
}

// Resolver resolves a member's permissions. *permissions.Checker satisfies it.
type Resolver interface {
	ResolveMember(ctx context.Context, member permissions.Member) (permissions.Resolved, error)
}

// OverrideStore persists role overrides. *store.Store satisfies it.
type OverrideStore interface {
	ListRoleOverrides(ctx context.Context, guildID string) ([]permissions.RoleOverride, error)
	GetRoleOverride(ctx context.Context, guildID, roleID string) (permissions.RoleOverride, error)
	PutRoleOverride(ctx context.Context, ov permissions.RoleOverride) error
	DeleteRoleOverride(ctx context.Context, guildID, roleID string) error
}

// Broadcaster publishes gateway events. *gateway.Gateway satisfies it.
type Broadcaster interface {
	Broadcast(guildID, event string, data any, opts ...gateway.BroadcastOption)
}

// StatsSource reports gateway statistics.
type StatsSource interface {
	Stats() gateway.Stats
}

// Deps are the collaborators of a Server.
type Deps struct {
	Identity    platform.IdentityResolver
	Members     platform.MemberFetcher
	Permissions Resolver
	Registry    *permissions.Registry
	Overrides   OverrideStore
	Gateway     Broadcaster
	Stats       StatsSource
	Bus         *eventbus.Bus
	// GatewayHandler is served at GatewayPath when both are set.
	GatewayHandler http.Handler
	GatewayPath    string
	OriginAllowed  func(origin string) bool
	// Metrics is served unauthenticated at /metrics when set.
	Metrics http.Handler
	Logger  *log.Logger
}

type pluginMount struct {
	router chi.Router
}

// Server owns the chi router and the table of mounted plugin routers.
type Server struct {
	deps   Deps
	logger *log.Logger
	router chi.Router

	mu      sync.RWMutex
	plugins map[string]*pluginMount
}

// New builds the router.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		deps:    deps,
		logger:  logger,
		plugins: make(map[string]*pluginMount),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	if deps.GatewayHandler != nil && deps.GatewayPath != "" {
		r.Handle(deps.GatewayPath, deps.GatewayHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/gateway/stats", s.handleGatewayStats)
		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Use(s.guildMember)
			r.Route("/"+ReservedSegment, s.permissionRoutes)
			r.Handle("/{plugin}", http.HandlerFunc(s.servePlugin))
			r.Handle("/{plugin}/*", http.HandlerFunc(s.servePlugin))
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.deps.OriginAllowed != nil && s.deps.OriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGatewayStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stats == nil {
		WriteError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	WriteJSON(w, http.StatusOK, s.deps.Stats.Stats())
}

// requirementFor turns a route action into a full requirement for plugin.
func requirementFor(plugin, action string) (fullAction, category string) {
	action = strings.TrimSpace(action)
	switch {
	case action == "":
		return "", plugin
	case strings.Contains(action, "."):
		return action, ""
	default:
		return plugin + "." + action, ""
	}
}

// MountPlugin replaces plugin's routes.
func (s *Server) MountPlugin(plugin string, routes []Route) error {
	if plugin == "" || plugin == ReservedSegment {
		return fmt.Errorf("httpapi: plugin name %q cannot own routes", plugin)
	}
	if len(routes) == 0 {
		s.UnmountPlugin(plugin)
		return nil
	}
	router := chi.NewRouter()
	for _, route := range routes {
		if route.Handler == nil {
			return fmt.Errorf("httpapi: route %s %s of %s has no handler", route.Method, route.Pattern, plugin)
		}
		pattern := route.Pattern
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}
		method := strings.ToUpper(strings.TrimSpace(route.Method))
		if method == "" {
			method = http.MethodGet
		}
		router.Method(method, pattern, s.guard(plugin, route))
	}

	s.mu.Lock()
	s.plugins[plugin] = &pluginMount{router: router}
	s.mu.Unlock()
	s.logger.Printf("[HTTP] mounted %d route(s) for %s", len(routes), plugin)
	return nil
}

// UnmountPlugin removes plugin's routes.
func (s *Server) UnmountPlugin(plugin string) {
	s.mu.Lock()
	delete(s.plugins, plugin)
	s.mu.Unlock()
}

func (s *Server) servePlugin(w http.ResponseWriter, r *http.Request) {
	plugin := chi.URLParam(r, "plugin")
	s.mu.RLock()
	mount, ok := s.plugins[plugin]
	s.mu.RUnlock()
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown plugin "+plugin)
		return
	}

	rctx := chi.NewRouteContext()
	rctx.RoutePath = "/" + chi.URLParam(r, "*")
	rctx.URLParams.Add("guildID", chi.URLParam(r, "guildID"))
	rctx.URLParams.Add("plugin", plugin)
	mount.router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx)))
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// guard checks the route's requirement, runs the handler, and announces
// successful writes to the guild's dashboard clients.
func (s *Server) guard(plugin string, route Route) http.HandlerFunc {
	action, category := requirementFor(plugin, route.Action)
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		allowed := caller.Resolved.HasAnyInCategory(category)
		if action != "" {
			allowed = caller.Resolved.Has(action)
		}
		if !allowed {
			WriteError(w, http.StatusForbidden, "missing permission")
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		route.Handler.ServeHTTP(rec, r)

		if !isWrite(r.Method) || rec.Status() >= http.StatusBadRequest || s.deps.Gateway == nil {
			return
		}
		data := map[string]any{
			"plugin": plugin,
			"method": r.Method,
			"path":   r.URL.Path,
		}
		var opts []gateway.BroadcastOption
		if action != "" {
			data["requiredAction"] = action
			opts = append(opts, gateway.RequireAction(action))
		} else {
			data["requiredCategory"] = category
			opts = append(opts, gateway.RequireCategory(category))
		}
		s.deps.Gateway.Broadcast(caller.GuildID, gateway.DataChangedEvent, data, opts...)
	}
}
