package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

type outbound struct {
	payload   []byte
	closeCode int
	closeText string
}

// conn is one client socket. It moves from connected to authenticated on a
// successful auth message; subscriptions map guild ids to the permission
// set resolved at subscribe or refresh time.
type conn struct {
	g    *Gateway
	ws   *websocket.Conn
	id   string
	addr string

	out       chan outbound
	alive     atomic.Bool
	authTimer *time.Timer

	mu       sync.RWMutex
	closed   bool
	userID   string
	username string
	token    string
	subs     map[string]permissions.Resolved

	cleanupOnce sync.Once
}

func newConn(g *Gateway, ws *websocket.Conn, id, addr string) *conn {
	c := &conn{
		g:    g,
		ws:   ws,
		id:   id,
		addr: addr,
		out:  make(chan outbound, sendBuffer),
		subs: make(map[string]permissions.Resolved),
	}
	c.alive.Store(true)
	return c
}

func (c *conn) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID != ""
}

func (c *conn) user() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *conn) guilds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

func (c *conn) resolvedFor(guildID string) (permissions.Resolved, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.subs[guildID]
	return r, ok
}

// setResolved replaces the cached set only while still subscribed.
func (c *conn) setResolved(guildID string, resolved permissions.Resolved) {
	c.mu.Lock()
	if _, ok := c.subs[guildID]; ok {
		c.subs[guildID] = resolved
	}
	c.mu.Unlock()
}

// enqueue never blocks; a full queue drops the message.
func (c *conn) enqueue(payload []byte) {
	c.push(outbound{payload: payload})
}

func (c *conn) push(msg outbound) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- msg:
		return true
	default:
		c.g.logger.Printf("[Gateway] send queue full for connection %s, dropping message", c.id)
		return false
	}
}

func (c *conn) send(msg Outbound) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.g.logger.Printf("[Gateway] marshal %s: %v", msg.Type, err)
		return
	}
	c.enqueue(payload)
}

func (c *conn) sendError(code, message string) {
	c.send(Outbound{Type: TypeError, Code: code, Message: message})
}

// fail sends a structured error and closes the socket after it is written.
func (c *conn) fail(code, message string) {
	c.sendError(code, message)
	c.closeWith(websocket.ClosePolicyViolation, code)
}

// closeWith queues a close frame behind pending messages.
func (c *conn) closeWith(code int, text string) {
	if !c.push(outbound{closeCode: code, closeText: text}) {
		c.terminate()
	}
}

// terminate drops the socket immediately; readPump performs cleanup.
func (c *conn) terminate() {
	c.ws.Close()
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.out {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if msg.closeCode != 0 {
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(msg.closeCode, msg.closeText))
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, msg.payload); err != nil {
			return
		}
	}
}

func (c *conn) readPump() {
	defer c.cleanup()

	c.ws.SetReadLimit(maxMessageBytes)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.g.logger.Printf("[Gateway] connection %s read error: %v", c.id, err)
			}
			return
		}
		c.alive.Store(true)
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(CodeBadRequest, "invalid JSON message")
			continue
		}
		c.handle(msg)
	}
}

func (c *conn) handle(msg Inbound) {
	switch msg.Type {
	case TypePing:
		c.send(Outbound{Type: TypePong})
		return
	case TypeAuth:
		c.handleAuth(msg.Token)
		return
	}

	if !c.isAuthenticated() {
		c.sendError(CodeNotAuthenticated, "authenticate before sending "+msg.Type)
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.handleSubscribe(msg.GuildID)
	case TypeUnsubscribe:
		if msg.GuildID == "" {
			c.sendError(CodeBadRequest, "guildId is required")
			return
		}
		c.unsubscribe(msg.GuildID)
		c.send(Outbound{Type: TypeUnsubscribed, GuildID: msg.GuildID})
	default:
		c.sendError(CodeBadRequest, "unknown message type "+msg.Type)
	}
}

func (c *conn) handleAuth(token string) {
	if c.isAuthenticated() {
		c.sendError(CodeBadRequest, "already authenticated")
		return
	}
	if !c.g.limiter.Allow(c.addr) {
		c.fail(CodeRateLimited, "too many authentication attempts, try again later")
		return
	}
	if c.g.deps.Identity == nil || token == "" {
		c.fail(CodeAuthFailed, "invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.g.cfg.AuthTimeout)
	identity, err := c.g.deps.Identity.ResolveIdentity(ctx, token)
	cancel()
	if err != nil || identity.UserID == "" {
		c.fail(CodeAuthFailed, "invalid token")
		return
	}

	if !c.g.acquireUser(identity.UserID) {
		c.fail(CodeTooManyConnections, "connection limit reached for this user")
		return
	}

	c.mu.Lock()
	c.userID = identity.UserID
	c.username = identity.Username
	c.token = token
	c.mu.Unlock()
	if c.authTimer != nil {
		c.authTimer.Stop()
	}

	c.send(Outbound{Type: TypeAuthenticated, UserID: identity.UserID, Username: identity.Username})
}

func (c *conn) handleSubscribe(guildID string) {
	if guildID == "" {
		c.sendError(CodeBadRequest, "guildId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.g.cfg.AuthTimeout)
	defer cancel()
	resolved, err := c.g.resolve(ctx, guildID, c.user())
	if err != nil {
		if errors.Is(err, platform.ErrNotMember) {
			c.sendError(CodeForbidden, "not a member of this guild")
		} else {
			c.g.logger.Printf("[Gateway] resolve %s in %s: %v", c.user(), guildID, err)
			c.sendError(CodeForbidden, "unable to resolve permissions")
		}
		return
	}
	if resolved.DenyAccess {
		c.sendError(CodeForbidden, "access to this guild is denied")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.subs[guildID] = resolved
	c.mu.Unlock()
	c.g.join(guildID, c)

	c.send(Outbound{Type: TypeSubscribed, GuildID: guildID, Permissions: resolved.Actions})
}

func (c *conn) unsubscribe(guildID string) {
	c.mu.Lock()
	delete(c.subs, guildID)
	c.mu.Unlock()
	c.g.leave(guildID, c)
}

// cleanup releases rooms and the per-user slot exactly once.
func (c *conn) cleanup() {
	c.cleanupOnce.Do(func() {
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.g.conns.Delete(c.id)

		c.mu.Lock()
		c.closed = true
		guilds := make([]string, 0, len(c.subs))
		for id := range c.subs {
			guilds = append(guilds, id)
		}
		c.subs = make(map[string]permissions.Resolved)
		userID := c.userID
		close(c.out)
		c.mu.Unlock()

		for _, id := range guilds {
			c.g.leave(id, c)
		}
		if userID != "" {
			c.g.releaseUser(userID)
		}
		c.ws.Close()
	})
}
