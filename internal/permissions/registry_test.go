package permissions

import (
	"context"
	"errors"
	"testing"
)

func TestRegistrySeedsBuiltins(t *testing.T) {
	registry := NewRegistry()
	cats := registry.Categories(context.Background(), "")

	if !Known(cats, ActionDashboardView) {
		t.Fatalf("expected built-in %s to be known", ActionDashboardView)
	}
	if !Known(cats, ActionPermissionsEdit) {
		t.Fatalf("expected built-in %s to be known", ActionPermissionsEdit)
	}
}

func TestRegistryMergesAndDeduplicates(t *testing.T) {
	registry := NewRegistry(WithStaticCategories())

	if err := registry.Register("tickets", Category{
		Key:     "tickets",
		Label:   "Tickets",
		Actions: []Action{{Key: "view", Label: "first"}, {Key: "manage_config"}},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("tickets", Category{
		Key:     "tickets",
		Label:   "Duplicate",
		Actions: []Action{{Key: "view", Label: "second"}, {Key: "close"}},
	}); err != nil {
		t.Fatalf("Register duplicate: %v", err)
	}

	cats := registry.Categories(context.Background(), "")
	if len(cats) != 1 {
		t.Fatalf("expected 1 merged category, got %d", len(cats))
	}
	got := cats[0]
	if got.Label != "Tickets" {
		t.Fatalf("expected first label to win, got %q", got.Label)
	}
	if len(got.Actions) != 3 {
		t.Fatalf("expected 3 unique actions, got %#v", got.Actions)
	}
	if got.Actions[0].Label != "first" {
		t.Fatalf("expected first action definition to win, got %q", got.Actions[0].Label)
	}
}

func TestRegistryRegisterAction(t *testing.T) {
	registry := NewRegistry(WithStaticCategories())

	if err := registry.RegisterAction("tickets", "tickets", Action{Key: "commands.ticket.close"}); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}
	if err := registry.RegisterAction("tickets", "tickets", Action{Key: "commands.ticket.open"}); err != nil {
		t.Fatalf("RegisterAction: %v", err)
	}

	cats := registry.Categories(context.Background(), "")
	if !Known(cats, "tickets.commands.ticket.close") || !Known(cats, "tickets.commands.ticket.open") {
		t.Fatalf("expected both command actions to be known: %#v", cats)
	}
	if owner, ok := registry.Owner("tickets"); !ok || owner != "tickets" {
		t.Fatalf("unexpected owner %q (%v)", owner, ok)
	}
}

func TestRegistryReregistrationReplaces(t *testing.T) {
	registry := NewRegistry(WithStaticCategories())

	for i := 0; i < 3; i++ {
		if err := registry.RegisterAction("tickets", "tickets", Action{Key: "commands.ticket.close"}); err != nil {
			t.Fatalf("RegisterAction: %v", err)
		}
		if err := registry.Register("tickets", Category{Key: "reports", Actions: []Action{{Key: "view"}}}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if len(registry.registered) != 2 {
		t.Fatalf("expected 2 stored categories after repeated registration, got %d", len(registry.registered))
	}
	for _, entry := range registry.registered {
		if len(entry.category.Actions) != 1 {
			t.Fatalf("category %s stored %d actions, want 1", entry.category.Key, len(entry.category.Actions))
		}
	}
}

func TestRegistryRejectsInvalidKeys(t *testing.T) {
	registry := NewRegistry()

	invalid := []Category{
		{Key: ""},
		{Key: "has.dot"},
		{Key: DenyAccessKey},
		{Key: "ok", Actions: []Action{{Key: ""}}},
	}
	for _, cat := range invalid {
		if err := registry.Register("p", cat); err == nil {
			t.Fatalf("expected error registering %#v", cat)
		}
	}
}

func TestRegistryDynamicProviders(t *testing.T) {
	registry := NewRegistry(WithStaticCategories())
	registry.RegisterProvider("tags", func(ctx context.Context, guildID string) ([]Category, error) {
		return []Category{{Key: "tags", Actions: []Action{{Key: "use_" + guildID}}}}, nil
	})
	registry.RegisterProvider("broken", func(ctx context.Context, guildID string) ([]Category, error) {
		return nil, errors.New("unavailable")
	})

	if cats := registry.Categories(context.Background(), ""); len(cats) != 0 {
		t.Fatalf("expected providers to be skipped without a guild, got %#v", cats)
	}

	cats := registry.Categories(context.Background(), "g42")
	if !Known(cats, "tags.use_g42") {
		t.Fatalf("expected dynamic action for guild, got %#v", cats)
	}
}

func TestSplitKey(t *testing.T) {
	tests := []struct {
		key      string
		category string
		action   string
		ok       bool
	}{
		{"a.b", "a", "b", true},
		{"tickets.commands.ticket.close", "tickets", "commands.ticket.close", true},
		{"nodot", "", "", false},
		{".b", "", "", false},
		{"a.", "", "", false},
	}
	for _, tt := range tests {
		cat, action, ok := SplitKey(tt.key)
		if cat != tt.category || action != tt.action || ok != tt.ok {
			t.Fatalf("SplitKey(%q) = %q, %q, %v", tt.key, cat, action, ok)
		}
	}
}
