package permissions

import (
	"sort"
	"strings"
)

// Resolved is the computed decision set for one member in one guild.
// It is recomputed on refresh and never mutated after construction.
type Resolved struct {
	Actions    map[string]bool `json:"actions"`
	DenyAccess bool            `json:"denyAccess"`
}

// Has reports whether key resolved to allow. Unknown keys are always denied.
func (r Resolved) Has(key string) bool {
	if r.DenyAccess {
		return false
	}
	return r.Actions[key]
}

// HasAnyInCategory reports whether any action of category resolved to allow.
func (r Resolved) HasAnyInCategory(category string) bool {
	if r.DenyAccess {
		return false
	}
	prefix := category + "."
	for key, allowed := range r.Actions {
		if allowed && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// AllowAll grants every action in categories.
func AllowAll(categories []Category) Resolved {
	return uniform(categories, true)
}

// DenyAll denies every action in categories.
func DenyAll(categories []Category) Resolved {
	return uniform(categories, false)
}

func uniform(categories []Category, value bool) Resolved {
	actions := make(map[string]bool)
	for _, cat := range categories {
		for _, action := range cat.Actions {
			actions[cat.FullKey(action)] = value
		}
	}
	return Resolved{Actions: actions}
}

type rankedOverride struct {
	position int
	values   map[string]Decision
}

// Resolve computes a member's decision set from the guild's role overrides.
//
// The guild owner always receives every action. Otherwise the overrides of
// the member's roles are ranked by role position (highest first) and, for
// each key, the first override that defines it wins. The default for an
// action nobody overrides is the member's effective administrator status.
func Resolve(member Member, overrides []RoleOverride, categories []Category) Resolved {
	if member.Owner {
		return AllowAll(categories)
	}

	ranked := applicableOverrides(member, overrides)

	denyAccess := false
	for _, o := range ranked {
		if decision, ok := o.values[DenyAccessKey]; ok {
			denyAccess = decision == Deny
			break
		}
	}

	effectiveAdmin := member.Administrator && !denyAccess

	actions := make(map[string]bool)
	for _, cat := range categories {
		for _, action := range cat.Actions {
			key := cat.FullKey(action)
			if decision, ok := firstDecision(ranked, key); ok {
				actions[key] = decision == Allow
				continue
			}
			if decision, ok := firstDecision(ranked, cat.Key); ok {
				actions[key] = decision == Allow
				continue
			}
			actions[key] = effectiveAdmin || (action.DefaultAllow && !denyAccess)
		}
	}

	return Resolved{Actions: actions, DenyAccess: denyAccess}
}

// applicableOverrides keeps the overrides of roles the member holds (the
// guild's everyone role, whose id equals the guild id, always applies) and
// orders them by descending role position.
func applicableOverrides(member Member, overrides []RoleOverride) []rankedOverride {
	positions := make(map[string]int, len(member.Roles)+1)
	if member.GuildID != "" {
		positions[member.GuildID] = 0
	}
	for _, role := range member.Roles {
		positions[role.ID] = role.Position
	}

	ranked := make([]rankedOverride, 0, len(overrides))
	for _, o := range overrides {
		pos, ok := positions[o.RoleID]
		if !ok || len(o.Values) == 0 {
			continue
		}
		ranked = append(ranked, rankedOverride{position: pos, values: o.Values})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].position > ranked[j].position
	})
	return ranked
}

func firstDecision(ranked []rankedOverride, key string) (Decision, bool) {
	for _, o := range ranked {
		if decision, ok := o.values[key]; ok && decision.Valid() {
			return decision, true
		}
	}
	return "", false
}
