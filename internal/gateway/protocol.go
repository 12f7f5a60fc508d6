package gateway

import "time"

// Inbound message types.
const (
	TypeAuth        = "auth"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Outbound message types.
const (
	TypeConnected          = "connected"
	TypeAuthenticated      = "authenticated"
	TypeSubscribed         = "subscribed"
	TypeUnsubscribed       = "unsubscribed"
	TypePong               = "pong"
	TypeError              = "error"
	TypePermissionsRevoked = "permissions_revoked"
	TypeEvent              = "event"
)

// Error codes carried by error messages.
const (
	CodeAuthFailed         = "auth_failed"
	CodeRateLimited        = "rate_limited"
	CodeTooManyConnections = "too_many_connections"
	CodeNotAuthenticated   = "not_authenticated"
	CodeForbidden          = "forbidden"
	CodeBadRequest         = "bad_request"
)

// Inbound is a client message.
type Inbound struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	GuildID string `json:"guildId,omitempty"`
}

// Outbound is a server message. Only the fields relevant to Type are set.
type Outbound struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Username     string          `json:"username,omitempty"`
	GuildID      string          `json:"guildId,omitempty"`
	Permissions  map[string]bool `json:"permissions,omitempty"`
	Code         string          `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Event        string          `json:"event,omitempty"`
	Data         any             `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}
