// Package platform defines the boundary between the host and the chat
// platform: the interaction events the host routes, the responder used to
// answer them, and the member and identity lookups the permission engine and
// gateway depend on.
package platform

import (
	"context"
	"errors"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
)

// ErrNotMember is returned when a user is not (or no longer) a guild member.
var ErrNotMember = errors.New("platform: not a guild member")

// InteractionKind discriminates interaction events.
type InteractionKind string

const (
	KindCommand      InteractionKind = "command"
	KindContextMenu  InteractionKind = "context_menu"
	KindComponent    InteractionKind = "component"
	KindModalSubmit  InteractionKind = "modal_submit"
	KindAutocomplete InteractionKind = "autocomplete"
)

// User identifies the platform account behind an interaction.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Interaction is one typed interaction event delivered by the platform.
// Member is nil outside guilds.
type Interaction struct {
	ID        string
	Kind      InteractionKind
	GuildID   string
	ChannelID string
	MessageID string
	User      User
	Member    *permissions.Member

	CommandName string
	Subcommand  string
	Options     map[string]any
	TargetID    string

	CustomID      string
	ComponentType string
	Values        []string

	// ComponentMetadata is filled by the component registry from the
	// persisted binding before the handler runs.
	ComponentMetadata map[string]any

	Responder Responder
}

// InGuild reports whether the interaction happened inside a guild channel.
func (in *Interaction) InGuild() bool {
	return in != nil && in.GuildID != ""
}

// Reply answers the interaction with a new message. It is a no-op without a
// responder.
func (in *Interaction) Reply(ctx context.Context, resp Response) error {
	if in == nil || in.Responder == nil {
		return nil
	}
	return in.Responder.Reply(ctx, resp)
}

// Update replaces the message the interaction originated from.
func (in *Interaction) Update(ctx context.Context, resp Response) error {
	if in == nil || in.Responder == nil {
		return nil
	}
	return in.Responder.UpdateMessage(ctx, resp)
}

// Response is a platform-neutral reply.
type Response struct {
	Content         string
	Ephemeral       bool
	ClearComponents bool
}

// Responder answers interactions on the platform.
type Responder interface {
	Reply(ctx context.Context, resp Response) error
	UpdateMessage(ctx context.Context, resp Response) error
}

// MemberFetcher loads a member's live roles and flags for one guild.
type MemberFetcher interface {
	FetchMember(ctx context.Context, guildID, userID string) (permissions.Member, error)
}

// Identity is the account a bearer credential belongs to.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// IdentityResolver exchanges a bearer credential for an identity.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
}

// RecordingResponder captures responses; useful for tests and for adapters
// that batch replies.
type RecordingResponder struct {
	Replies []Response
	Updates []Response
}

func (r *RecordingResponder) Reply(_ context.Context, resp Response) error {
	r.Replies = append(r.Replies, resp)
	return nil
}

func (r *RecordingResponder) UpdateMessage(_ context.Context, resp Response) error {
	r.Updates = append(r.Updates, resp)
	return nil
}
