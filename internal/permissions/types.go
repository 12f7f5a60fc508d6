// Package permissions implements the guild-scoped capability catalogue and
// the deterministic algorithm that turns a member's roles into a decision set.
//
// Capabilities are addressed by action keys of the form "category.action".
// The action part may itself contain dots (for example
// "tickets.commands.ticket.close"); the category is always the segment before
// the first dot.
package permissions

import (
	"strings"
	"time"
)

// DenyAccessKey is the reserved override key that, when set to deny on the
// highest applicable role defining it, revokes every capability of a member.
const DenyAccessKey = "_deny_access"

// Decision is an explicit allow/deny value stored in a role override.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	return d == Allow || d == Deny
}

// Action is one capability inside a category.
type Action struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	DefaultAllow bool   `json:"defaultAllow,omitempty"`
}

// Category groups related actions, usually all actions owned by one plugin.
type Category struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Actions     []Action `json:"actions"`
}

// FullKey returns the fully-qualified key of an action in this category.
func (c Category) FullKey(action Action) string {
	return c.Key + "." + action.Key
}

// RoleOverride is a guild's explicit allow/deny decisions for one role.
// Values is keyed by category key, full action key, or DenyAccessKey.
type RoleOverride struct {
	GuildID   string              `json:"guildId"`
	RoleID    string              `json:"roleId"`
	Values    map[string]Decision `json:"values"`
	UpdatedAt time.Time           `json:"updatedAt,omitempty"`
}

// Role is a live role reference; Position is read from the platform role
// list at resolution time and never stored.
type Role struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Member describes a guild member as seen by the resolution engine.
type Member struct {
	GuildID       string `json:"guildId"`
	UserID        string `json:"userId"`
	Roles         []Role `json:"roles"`
	Owner         bool   `json:"owner"`
	Administrator bool   `json:"administrator"`
}

// SplitKey splits a full action key into its category and action parts.
// ok is false when key has no category separator.
func SplitKey(key string) (category, action string, ok bool) {
	idx := strings.IndexByte(key, '.')
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}
