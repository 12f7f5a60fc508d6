package gateway

import (
	"strings"
	"sync"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
)

// Requirement is what a subscriber must hold to receive an event. The zero
// value means everyone in the room receives it.
type Requirement struct {
	Action   string
	Category string
}

// IsZero reports whether r restricts nothing.
func (r Requirement) IsZero() bool {
	return r.Action == "" && r.Category == ""
}

// SatisfiedBy reports whether resolved meets r.
func (r Requirement) SatisfiedBy(resolved permissions.Resolved) bool {
	switch {
	case r.Action != "":
		return resolved.Has(r.Action)
	case r.Category != "":
		return resolved.HasAnyInCategory(r.Category)
	default:
		return !resolved.DenyAccess
	}
}

// Rule infers a requirement from an event name and payload.
type Rule struct {
	Name  string
	Match func(event string, data any) (Requirement, bool)
}

// DataChangedEvent is emitted after successful dashboard writes.
const DataChangedEvent = "dashboard:data_changed"

// PermissionsUpdatedEvent is emitted after role overrides change.
const PermissionsUpdatedEvent = "permissions:updated"

// FineGrained names the config and content actions of a plugin whose
// dashboard data is split across more than one action.
type FineGrained struct {
	ConfigAction  string
	ContentAction string
}

// RuleTable is the ordered, extensible table consulted when a broadcast
// carries no explicit requirement. The first matching rule wins; an event no
// rule matches is delivered to the whole room.
type RuleTable struct {
	mu          sync.RWMutex
	rules       []Rule
	fineGrained map[string]FineGrained
}

// NewRuleTable returns a table holding the default rules.
func NewRuleTable() *RuleTable {
	t := &RuleTable{fineGrained: make(map[string]FineGrained)}
	t.rules = []Rule{
		ExactRule(PermissionsUpdatedEvent, Requirement{Action: permissions.ActionPermissionsView}),
		{Name: "data_changed", Match: t.matchDataChanged},
	}
	return t
}

// AddRule appends r after the existing rules.
func (t *RuleTable) AddRule(r Rule) {
	if r.Match == nil {
		return
	}
	t.mu.Lock()
	t.rules = append(t.rules, r)
	t.mu.Unlock()
}

// SetFineGrained declares that plugin's data-changed events should be gated
// by a config or content action instead of the plugin category.
func (t *RuleTable) SetFineGrained(plugin string, fg FineGrained) {
	t.mu.Lock()
	t.fineGrained[plugin] = fg
	t.mu.Unlock()
}

// Rules returns a copy of the current rules in evaluation order.
func (t *RuleTable) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Rule(nil), t.rules...)
}

// Infer runs the rules in order.
func (t *RuleTable) Infer(event string, data any) (Requirement, string) {
	for _, rule := range t.Rules() {
		if req, ok := rule.Match(event, data); ok {
			return req, rule.Name
		}
	}
	return Requirement{}, ""
}

func (t *RuleTable) matchDataChanged(event string, data any) (Requirement, bool) {
	if event != DataChangedEvent {
		return Requirement{}, false
	}
	plugin := stringField(data, "plugin")
	if plugin == "" {
		return Requirement{}, false
	}

	t.mu.RLock()
	fg, ok := t.fineGrained[plugin]
	t.mu.RUnlock()
	if !ok {
		return Requirement{Category: plugin}, true
	}
	if isConfigChange(data) {
		return Requirement{Action: fg.ConfigAction}, true
	}
	return Requirement{Action: fg.ContentAction}, true
}

// isConfigChange looks at the resource or path of a data-changed payload.
func isConfigChange(data any) bool {
	for _, field := range []string{"resource", "path", "type"} {
		v := strings.ToLower(stringField(data, field))
		if strings.Contains(v, "config") || strings.Contains(v, "settings") {
			return true
		}
	}
	return false
}

// ExactRule matches one event name.
func ExactRule(event string, req Requirement) Rule {
	return Rule{
		Name: event,
		Match: func(e string, _ any) (Requirement, bool) {
			return req, e == event
		},
	}
}

// PrefixRule matches every event name starting with prefix.
func PrefixRule(prefix string, req Requirement) Rule {
	return Rule{
		Name: prefix + "*",
		Match: func(e string, _ any) (Requirement, bool) {
			return req, strings.HasPrefix(e, prefix)
		},
	}
}

// requirementFor applies the precedence explicit option, then payload
// fields, then the rule table.
func (t *RuleTable) requirementFor(ev eventbus.BroadcastEvent) Requirement {
	if ev.RequiredAction != "" || ev.RequiredCategory != "" {
		return Requirement{Action: ev.RequiredAction, Category: ev.RequiredCategory}
	}
	if req := (Requirement{
		Action:   stringField(ev.Data, "requiredAction"),
		Category: stringField(ev.Data, "requiredCategory"),
	}); !req.IsZero() {
		return req
	}
	req, _ := t.Infer(ev.Event, ev.Data)
	return req
}

func stringField(data any, key string) string {
	switch m := data.(type) {
	case map[string]any:
		s, _ := m[key].(string)
		return s
	case map[string]string:
		return m[key]
	}
	return ""
}
