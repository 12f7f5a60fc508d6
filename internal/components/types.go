// Package components maps opaque interactive-element ids to handlers. Ids are
// either ephemeral (in memory, expiring after a TTL) or persistent (stored in
// the document store and reloaded after a restart).
package components

import (
	"context"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

// Kind is the interactive element type a binding was created for.
type Kind string

const (
	KindButton            Kind = "button"
	KindStringSelect      Kind = "string_select"
	KindUserSelect        Kind = "user_select"
	KindRoleSelect        Kind = "role_select"
	KindChannelSelect     Kind = "channel_select"
	KindMentionableSelect Kind = "mentionable_select"
	KindModal             Kind = "modal"
)

// ClearableSuffix marks handler names whose select menus may send
// DeselectValue to clear the current selection.
const ClearableSuffix = ":clearable"

// DeselectValue is the sentinel option value of a clearable select.
const DeselectValue = "__deselect__"

// Record is one persistent binding.
type Record struct {
	CustomID      string         `json:"customId"`
	HandlerID     string         `json:"handlerId"`
	ComponentType Kind           `json:"componentType"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	MessageID     string         `json:"messageId,omitempty"`
	ChannelID     string         `json:"channelId,omitempty"`
	GuildID       string         `json:"guildId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Store persists bindings. The store is the source of truth; the registry
// cache only mirrors it.
type Store interface {
	SaveComponent(ctx context.Context, rec Record) error
	GetComponent(ctx context.Context, customID string) (Record, bool, error)
	ListComponents(ctx context.Context) ([]Record, error)
	AttachComponentMessage(ctx context.Context, customID, guildID, channelID, messageID string) error
	DeleteComponent(ctx context.Context, customID string) error
	DeleteComponentsByMessage(ctx context.Context, messageID string) ([]string, error)
	DeleteComponentsByChannel(ctx context.Context, channelID string) ([]string, error)
}

// PermissionChecker answers whether a member may use a gated handler.
// *permissions.Checker satisfies it.
type PermissionChecker interface {
	Can(ctx context.Context, member permissions.Member, key string) (bool, error)
}

// Handler runs when a bound component is used.
type Handler interface {
	HandleComponent(ctx context.Context, in *platform.Interaction) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in *platform.Interaction) error

func (f HandlerFunc) HandleComponent(ctx context.Context, in *platform.Interaction) error {
	return f(ctx, in)
}

// HandlerOption customises a handler registration.
type HandlerOption func(*binding)

// WithPermission gates the handler behind a full action key.
func WithPermission(key string) HandlerOption {
	return func(b *binding) {
		b.permission = key
	}
}

type binding struct {
	name       string
	handler    Handler
	permission string
}

// ComponentOption customises a persistent component at creation.
type ComponentOption func(*Record)

// WithMetadata stores arbitrary JSON-encodable data with the binding.
func WithMetadata(md map[string]any) ComponentOption {
	return func(r *Record) {
		r.Metadata = md
	}
}

// WithMessage records where the component was posted so the binding is
// cleaned up when that message or channel is deleted.
func WithMessage(guildID, channelID, messageID string) ComponentOption {
	return func(r *Record) {
		r.GuildID = guildID
		r.ChannelID = channelID
		r.MessageID = messageID
	}
}
