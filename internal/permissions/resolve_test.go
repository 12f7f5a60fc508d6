package permissions

import (
	"context"
	"errors"
	"testing"
)

const guildID = "g1"

func testCategories() []Category {
	return []Category{
		{Key: "catA", Actions: []Action{{Key: "actA"}, {Key: "actB"}}},
		{Key: "catB", Actions: []Action{{Key: "actC"}}},
	}
}

func memberWith(roles ...Role) Member {
	return Member{GuildID: guildID, UserID: "u1", Roles: roles}
}

func TestResolveHighestRoleWins(t *testing.T) {
	member := memberWith(Role{ID: "low", Position: 1}, Role{ID: "high", Position: 10})
	overrides := []RoleOverride{
		{GuildID: guildID, RoleID: "low", Values: map[string]Decision{"catA.actA": Allow}},
		{GuildID: guildID, RoleID: "high", Values: map[string]Decision{"catA.actA": Deny}},
	}

	got := Resolve(member, overrides, testCategories())
	if got.Has("catA.actA") {
		t.Fatal("expected higher-position deny to win over lower-position allow")
	}

	// Reversed input order must not matter.
	overrides[0], overrides[1] = overrides[1], overrides[0]
	got = Resolve(member, overrides, testCategories())
	if got.Has("catA.actA") {
		t.Fatal("expected resolution to be independent of override order")
	}
}

func TestResolveActionBeatsCategory(t *testing.T) {
	tests := []struct {
		name      string
		member    Member
		overrides []RoleOverride
	}{
		{
			name:   "same role",
			member: memberWith(Role{ID: "r1", Position: 5}),
			overrides: []RoleOverride{
				{RoleID: "r1", Values: map[string]Decision{"catA": Allow, "catA.actA": Deny}},
			},
		},
		{
			name:   "action on higher role",
			member: memberWith(Role{ID: "r1", Position: 5}, Role{ID: "r2", Position: 6}),
			overrides: []RoleOverride{
				{RoleID: "r1", Values: map[string]Decision{"catA": Allow}},
				{RoleID: "r2", Values: map[string]Decision{"catA.actA": Deny}},
			},
		},
		{
			name:   "action on lower role",
			member: memberWith(Role{ID: "r1", Position: 5}, Role{ID: "r2", Position: 1}),
			overrides: []RoleOverride{
				{RoleID: "r1", Values: map[string]Decision{"catA": Allow}},
				{RoleID: "r2", Values: map[string]Decision{"catA.actA": Deny}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.member, tt.overrides, testCategories())
			if got.Has("catA.actA") {
				t.Fatal("expected action-level deny to beat category-level allow")
			}
			if !got.Has("catA.actB") {
				t.Fatal("expected sibling action to inherit category allow")
			}
			if got.Has("catB.actC") {
				t.Fatal("expected untouched category to fall back to non-admin deny")
			}
		})
	}
}

func TestResolveDenyAccessShortCircuits(t *testing.T) {
	member := memberWith(Role{ID: "r1", Position: 1}, Role{ID: "r2", Position: 2})
	member.Administrator = true
	overrides := []RoleOverride{
		{RoleID: "r1", Values: map[string]Decision{"catA.actA": Allow, "catB": Allow}},
		{RoleID: "r2", Values: map[string]Decision{DenyAccessKey: Deny}},
	}

	got := Resolve(member, overrides, testCategories())
	if !got.DenyAccess {
		t.Fatal("expected DenyAccess to be set")
	}
	for _, key := range []string{"catA.actA", "catA.actB", "catB.actC"} {
		if got.Has(key) {
			t.Fatalf("expected %s to be denied under deny-access", key)
		}
	}
	if got.HasAnyInCategory("catA") {
		t.Fatal("expected HasAnyInCategory to be false under deny-access")
	}
}

func TestResolveDenyAccessFirstDefinitionWins(t *testing.T) {
	member := memberWith(Role{ID: "r1", Position: 1}, Role{ID: "r2", Position: 2})
	member.Administrator = true
	overrides := []RoleOverride{
		{RoleID: "r1", Values: map[string]Decision{DenyAccessKey: Deny}},
		{RoleID: "r2", Values: map[string]Decision{DenyAccessKey: Allow}},
	}

	got := Resolve(member, overrides, testCategories())
	if got.DenyAccess {
		t.Fatal("expected the higher role's allow to win over the lower role's deny")
	}
	if !got.Has("catA.actA") {
		t.Fatal("expected administrator fallback to allow")
	}
}

func TestResolveOwnerAlwaysWins(t *testing.T) {
	member := memberWith(Role{ID: "r1", Position: 1})
	member.Owner = true
	overrides := []RoleOverride{
		{RoleID: "r1", Values: map[string]Decision{DenyAccessKey: Deny, "catA": Deny}},
	}

	got := Resolve(member, overrides, testCategories())
	if got.DenyAccess || !got.Has("catA.actA") || !got.Has("catB.actC") {
		t.Fatalf("expected owner to receive allow-all, got %#v", got)
	}
}

func TestResolveUnknownKeyDenied(t *testing.T) {
	member := memberWith(Role{ID: "r1", Position: 1})
	member.Administrator = true
	overrides := []RoleOverride{
		{RoleID: "r1", Values: map[string]Decision{"stale.action": Allow, "stale": Allow}},
	}

	got := Resolve(member, overrides, testCategories())
	if got.Has("stale.action") {
		t.Fatal("expected stale override for unknown key to resolve deny")
	}
	if got.HasAnyInCategory("stale") {
		t.Fatal("expected unknown category to have no allowed actions")
	}
}

func TestResolveEveryoneRoleApplies(t *testing.T) {
	member := memberWith()
	overrides := []RoleOverride{
		{RoleID: guildID, Values: map[string]Decision{"catB": Allow}},
		{RoleID: "not-held", Values: map[string]Decision{"catA": Allow}},
	}

	got := Resolve(member, overrides, testCategories())
	if !got.Has("catB.actC") {
		t.Fatal("expected everyone-role override to apply")
	}
	if got.Has("catA.actA") {
		t.Fatal("expected override of a role the member does not hold to be ignored")
	}
}

func TestResolveDefaultAllowAction(t *testing.T) {
	categories := []Category{{Key: "tickets", Actions: []Action{{Key: "open", DefaultAllow: true}, {Key: "close"}}}}
	member := memberWith(Role{ID: "r1", Position: 1})
	overrides := []RoleOverride{{RoleID: "r1", Values: map[string]Decision{"other": Allow}}}

	got := Resolve(member, overrides, categories)
	if !got.Has("tickets.open") {
		t.Fatal("expected default-allow action to be granted")
	}
	if got.Has("tickets.close") {
		t.Fatal("expected regular action to be denied for non-admin")
	}
}

type fakeOverrides struct {
	records []RoleOverride
	err     error
}

func (f fakeOverrides) ListRoleOverrides(ctx context.Context, guildID string) ([]RoleOverride, error) {
	return f.records, f.err
}

func TestCheckerDefaultClosed(t *testing.T) {
	registry := NewRegistry(WithStaticCategories(testCategories()...))
	checker := NewChecker(registry, fakeOverrides{}, WithBotOwners("bot-owner"))
	ctx := context.Background()

	regular, err := checker.ResolveMember(ctx, memberWith(Role{ID: "r1", Position: 3}))
	if err != nil {
		t.Fatalf("ResolveMember: %v", err)
	}
	for key, allowed := range regular.Actions {
		if allowed {
			t.Fatalf("expected deny-all for regular member, %s allowed", key)
		}
	}
	if len(regular.Actions) != 3 {
		t.Fatalf("expected every known action to be present, got %d", len(regular.Actions))
	}

	admin := memberWith()
	admin.Administrator = true
	owner := memberWith()
	owner.Owner = true
	botOwner := memberWith()
	botOwner.UserID = "bot-owner"

	for name, m := range map[string]Member{"admin": admin, "owner": owner, "bot owner": botOwner} {
		resolved, err := checker.ResolveMember(ctx, m)
		if err != nil {
			t.Fatalf("ResolveMember(%s): %v", name, err)
		}
		for _, key := range []string{"catA.actA", "catA.actB", "catB.actC"} {
			if !resolved.Has(key) {
				t.Fatalf("expected %s to be allowed %s", name, key)
			}
		}
	}
}

func TestCheckerUsesStoredOverrides(t *testing.T) {
	registry := NewRegistry(WithStaticCategories(testCategories()...))
	checker := NewChecker(registry, fakeOverrides{records: []RoleOverride{
		{RoleID: "r1", Values: map[string]Decision{"catB.actC": Allow}},
	}})

	ok, err := checker.Can(context.Background(), memberWith(Role{ID: "r1", Position: 1}), "catB.actC")
	if err != nil {
		t.Fatalf("Can: %v", err)
	}
	if !ok {
		t.Fatal("expected stored override to grant catB.actC")
	}
}

func TestCheckerPropagatesStoreErrors(t *testing.T) {
	checker := NewChecker(NewRegistry(), fakeOverrides{err: errors.New("boom")})
	if _, err := checker.ResolveMember(context.Background(), memberWith()); err == nil {
		t.Fatal("expected override load error")
	}
}

func TestCheckerRequiresGuild(t *testing.T) {
	checker := NewChecker(NewRegistry(), fakeOverrides{})
	if _, err := checker.ResolveMember(context.Background(), Member{UserID: "u1"}); err == nil {
		t.Fatal("expected error for member without guild")
	}
}
