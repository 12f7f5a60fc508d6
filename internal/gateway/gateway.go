// Package gateway is the live broadcast server. Dashboard clients connect
// over WebSocket, authenticate, subscribe to guilds, and receive the events
// plugins publish, filtered by each subscriber's resolved permissions.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lerndmina/Heimdall-sub000/internal/config"
	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

const (
	writeWait       = 10 * time.Second
	maxMessageBytes = 64 << 10
	sendBuffer      = 256
)

// Resolver resolves a member's permissions. *permissions.Checker satisfies it.
type Resolver interface {
	ResolveMember(ctx context.Context, member permissions.Member) (permissions.Resolved, error)
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Identity    platform.IdentityResolver
	Members     platform.MemberFetcher
	Permissions Resolver
	// Bus decouples Broadcast from fanout. Without a bus, Broadcast fans
	// out synchronously.
	Bus *eventbus.Bus
	// OriginAllowed validates the Origin header; nil allows only requests
	// without an Origin.
	OriginAllowed func(origin string) bool
	Logger        *log.Logger
}

// Stats is a snapshot of gateway state.
type Stats struct {
	Running       bool `json:"running"`
	Connections   int  `json:"connections"`
	Authenticated int  `json:"authenticated"`
	Rooms         int  `json:"rooms"`
	Subscriptions int  `json:"subscriptions"`
}

// Gateway owns the live connection set and guild rooms.
type Gateway struct {
	cfg      config.GatewayConfig
	deps     Deps
	logger   *log.Logger
	upgrader websocket.Upgrader
	limiter  *authLimiter
	trusted  []*net.IPNet
	rules    *RuleTable

	conns sync.Map // connection id -> *conn
	rooms sync.Map // guild id -> *sync.Map of connection id -> *conn

	userMu    sync.Mutex
	userConns map[string]int

	workers eventbus.Workers
	running atomic.Bool
}

// New constructs a gateway. It does not accept connections until Start.
func New(cfg config.GatewayConfig, deps Deps) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.MaxConnsPerUser <= 0 {
		cfg.MaxConnsPerUser = 5
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	g := &Gateway{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		limiter:   newAuthLimiter(cfg.AuthAttemptsPerMin, time.Minute),
		rules:     NewRuleTable(),
		userConns: make(map[string]int),
	}
	trusted, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Printf("[Gateway] ignoring trusted proxies: %v", err)
	}
	g.trusted = trusted
	g.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if deps.OriginAllowed != nil {
				return deps.OriginAllowed(origin)
			}
			return false
		},
	}
	return g
}

// Rules exposes the requirement rule table for extension.
func (g *Gateway) Rules() *RuleTable {
	return g.rules
}

// AddRule appends a requirement inference rule.
func (g *Gateway) AddRule(r Rule) {
	g.rules.AddRule(r)
}

// Start begins the fanout worker and the heartbeat and refresh loops.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.New("gateway: already started")
	}
	g.workers.Start(context.Background())

	if g.deps.Bus != nil {
		var opts []eventbus.SubscriptionOption
		opts = append(opts, eventbus.WithSubscriptionName("gateway_fanout"))
		if g.cfg.BroadcastBufferSize > 0 {
			opts = append(opts, eventbus.WithSubscriptionBuffer(g.cfg.BroadcastBufferSize))
		}
		sub := eventbus.SubscribeTo(g.deps.Bus, eventbus.Gateway.Broadcast, opts...)
		g.workers.Track(sub)
		g.workers.Go(func(ctx context.Context) {
			eventbus.Consume(ctx, sub, func(env eventbus.TypedEnvelope[eventbus.BroadcastEvent]) {
				g.fanout(env.Payload, env.Timestamp)
			})
		})

		overrides := eventbus.SubscribeTo(g.deps.Bus, eventbus.Permissions.OverridesChanged,
			eventbus.WithSubscriptionName("gateway_overrides"))
		g.workers.Track(overrides)
		g.workers.Go(func(ctx context.Context) {
			eventbus.Consume(ctx, overrides, func(env eventbus.TypedEnvelope[eventbus.OverridesChangedEvent]) {
				g.refreshGuild(ctx, env.Payload.GuildID)
			})
		})
	}

	g.workers.Go(g.heartbeatLoop)
	g.workers.Go(g.refreshLoop)
	g.logger.Printf("[Gateway] started (heartbeat %s, refresh %s, %d conns/user)", g.cfg.HeartbeatInterval, g.cfg.RefreshInterval, g.cfg.MaxConnsPerUser)
	return nil
}

// Shutdown closes every connection and stops background loops.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}
	g.conns.Range(func(_, v any) bool {
		c := v.(*conn)
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return true
	})
	err := g.workers.Stop(ctx)
	g.workers = eventbus.Workers{}
	return err
}

// BroadcastOption customises a broadcast.
type BroadcastOption func(*eventbus.BroadcastEvent)

// RequireAction restricts delivery to holders of action key.
func RequireAction(key string) BroadcastOption {
	return func(ev *eventbus.BroadcastEvent) { ev.RequiredAction = key }
}

// RequireCategory restricts delivery to holders of any action in category.
func RequireCategory(category string) BroadcastOption {
	return func(ev *eventbus.BroadcastEvent) { ev.RequiredCategory = category }
}

// Broadcast publishes event to guildID's room without blocking the caller.
func (g *Gateway) Broadcast(guildID, event string, data any, opts ...BroadcastOption) {
	if guildID == "" || event == "" {
		return
	}
	ev := eventbus.BroadcastEvent{GuildID: guildID, Event: event, Data: data}
	for _, opt := range opts {
		opt(&ev)
	}
	if g.deps.Bus == nil {
		g.fanout(ev, time.Now().UTC())
		return
	}
	eventbus.Publish(context.Background(), g.deps.Bus, eventbus.Gateway.Broadcast, eventbus.SourceGateway, ev)
}

func (g *Gateway) fanout(ev eventbus.BroadcastEvent, ts time.Time) {
	members, ok := g.rooms.Load(ev.GuildID)
	if !ok {
		return
	}
	req := g.rules.requirementFor(ev)

	payload, err := json.Marshal(Outbound{
		Type:      TypeEvent,
		Event:     ev.Event,
		Data:      ev.Data,
		GuildID:   ev.GuildID,
		Timestamp: ts,
	})
	if err != nil {
		g.logger.Printf("[Gateway] marshal event %s: %v", ev.Event, err)
		return
	}

	members.(*sync.Map).Range(func(_, v any) bool {
		c := v.(*conn)
		resolved, ok := c.resolvedFor(ev.GuildID)
		if !ok || !req.SatisfiedBy(resolved) {
			return true
		}
		c.enqueue(payload)
		return true
	})
}

// Stats returns current connection and room counts.
func (g *Gateway) Stats() Stats {
	s := Stats{Running: g.running.Load()}
	g.conns.Range(func(_, v any) bool {
		s.Connections++
		if v.(*conn).isAuthenticated() {
			s.Authenticated++
		}
		return true
	})
	g.rooms.Range(func(_, v any) bool {
		s.Rooms++
		v.(*sync.Map).Range(func(_, _ any) bool {
			s.Subscriptions++
			return true
		})
		return true
	})
	return s
}

// ServeHTTP upgrades the request and runs the connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.running.Load() {
		http.Error(w, "gateway not started", http.StatusServiceUnavailable)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Printf("[Gateway] upgrade error: %v", err)
		return
	}

	c := newConn(g, ws, uuid.NewString(), clientAddr(r, g.trusted))
	g.conns.Store(c.id, c)

	go c.writePump()
	c.authTimer = time.AfterFunc(g.cfg.AuthTimeout, func() {
		if !c.isAuthenticated() {
			c.fail(CodeAuthFailed, "authentication timeout")
		}
	})
	c.send(Outbound{Type: TypeConnected, ConnectionID: c.id})
	go c.readPump()
}

func (g *Gateway) acquireUser(userID string) bool {
	g.userMu.Lock()
	defer g.userMu.Unlock()
	if g.userConns[userID] >= g.cfg.MaxConnsPerUser {
		return false
	}
	g.userConns[userID]++
	return true
}

func (g *Gateway) releaseUser(userID string) {
	g.userMu.Lock()
	defer g.userMu.Unlock()
	if n := g.userConns[userID]; n <= 1 {
		delete(g.userConns, userID)
	} else {
		g.userConns[userID] = n - 1
	}
}

func (g *Gateway) join(guildID string, c *conn) {
	members, _ := g.rooms.LoadOrStore(guildID, &sync.Map{})
	members.(*sync.Map).Store(c.id, c)
}

func (g *Gateway) leave(guildID string, c *conn) {
	members, ok := g.rooms.Load(guildID)
	if !ok {
		return
	}
	room := members.(*sync.Map)
	room.Delete(c.id)
	empty := true
	room.Range(func(_, _ any) bool {
		empty = false
		return false
	})
	if empty {
		g.rooms.CompareAndDelete(guildID, room)
	}
}

func (g *Gateway) resolve(ctx context.Context, guildID, userID string) (permissions.Resolved, error) {
	if g.deps.Members == nil || g.deps.Permissions == nil {
		return permissions.Resolved{}, errors.New("gateway: permission resolution not configured")
	}
	member, err := g.deps.Members.FetchMember(ctx, guildID, userID)
	if err != nil {
		return permissions.Resolved{}, err
	}
	return g.deps.Permissions.ResolveMember(ctx, member)
}

func (g *Gateway) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.heartbeat()
		}
	}
}

// heartbeat terminates sockets that did not pong since the previous tick
// and pings the rest.
func (g *Gateway) heartbeat() {
	g.conns.Range(func(_, v any) bool {
		c := v.(*conn)
		if !c.alive.Swap(false) {
			g.logger.Printf("[Gateway] terminating unresponsive connection %s", c.id)
			c.terminate()
			return true
		}
		if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			c.terminate()
		}
		return true
	})
}

func (g *Gateway) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

// refresh re-resolves every (guild, connection) pair. Pairs that no longer
// resolve are dropped with a revocation notice; a connection left with no
// subscriptions is closed.
func (g *Gateway) refresh(ctx context.Context) {
	g.refreshWhere(ctx, "")
}

// refreshGuild re-resolves only the pairs for guildID, after its role
// overrides changed.
func (g *Gateway) refreshGuild(ctx context.Context, guildID string) {
	if guildID == "" {
		return
	}
	g.refreshWhere(ctx, guildID)
}

func (g *Gateway) refreshWhere(ctx context.Context, only string) {
	g.conns.Range(func(_, v any) bool {
		c := v.(*conn)
		userID := c.user()
		guilds := c.guilds()
		if userID == "" || len(guilds) == 0 {
			return true
		}

		revoked := 0
		for _, guildID := range guilds {
			if only != "" && guildID != only {
				continue
			}
			resolved, err := g.resolve(ctx, guildID, userID)
			reason := ""
			switch {
			case err != nil:
				reason = err.Error()
			case resolved.DenyAccess:
				reason = "access denied"
			}
			if reason == "" {
				c.setResolved(guildID, resolved)
				continue
			}
			revoked++
			c.unsubscribe(guildID)
			c.send(Outbound{Type: TypePermissionsRevoked, GuildID: guildID, Reason: reason})
		}
		if revoked > 0 && len(c.guilds()) == 0 {
			c.closeWith(websocket.ClosePolicyViolation, "no remaining subscriptions")
		}
		return true
	})
}
