package permissions

import (
	"context"
	"fmt"
)

// OverrideSource loads the stored role overrides of a guild.
type OverrideSource interface {
	ListRoleOverrides(ctx context.Context, guildID string) ([]RoleOverride, error)
}

// Checker resolves members against the registry and stored overrides and
// applies the default-closed policy for unconfigured guilds.
type Checker struct {
	registry  *Registry
	overrides OverrideSource
	botOwners map[string]struct{}
}

// CheckerOption customises a Checker.
type CheckerOption func(*Checker)

// WithBotOwners grants allow-all in unconfigured guilds to the given users.
func WithBotOwners(userIDs ...string) CheckerOption {
	return func(c *Checker) {
		for _, id := range userIDs {
			if id != "" {
				c.botOwners[id] = struct{}{}
			}
		}
	}
}

// NewChecker constructs a checker over registry and overrides.
func NewChecker(registry *Registry, overrides OverrideSource, opts ...CheckerOption) *Checker {
	c := &Checker{
		registry:  registry,
		overrides: overrides,
		botOwners: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the catalogue used by the checker.
func (c *Checker) Registry() *Registry {
	return c.registry
}

// IsBotOwner reports whether userID is on the configured allow-list.
func (c *Checker) IsBotOwner(userID string) bool {
	_, ok := c.botOwners[userID]
	return ok
}

// ResolveMember computes the decision set for member in member.GuildID.
// A guild without any override records is default-closed: only the owner,
// bot owners, and administrators are granted anything.
func (c *Checker) ResolveMember(ctx context.Context, member Member) (Resolved, error) {
	if member.GuildID == "" {
		return Resolved{}, fmt.Errorf("permissions: member %s has no guild", member.UserID)
	}

	categories := c.registry.Categories(ctx, member.GuildID)

	var overrides []RoleOverride
	if c.overrides != nil {
		var err error
		overrides, err = c.overrides.ListRoleOverrides(ctx, member.GuildID)
		if err != nil {
			return Resolved{}, fmt.Errorf("permissions: load overrides for guild %s: %w", member.GuildID, err)
		}
	}

	if len(overrides) == 0 {
		if member.Owner || member.Administrator || c.IsBotOwner(member.UserID) {
			return AllowAll(categories), nil
		}
		return DenyAll(categories), nil
	}

	return Resolve(member, overrides, categories), nil
}

// Can resolves member and reports whether key is allowed.
func (c *Checker) Can(ctx context.Context, member Member, key string) (bool, error) {
	resolved, err := c.ResolveMember(ctx, member)
	if err != nil {
		return false, err
	}
	return resolved.Has(key), nil
}
