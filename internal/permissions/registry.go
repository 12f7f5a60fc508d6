package permissions

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Provider computes guild-specific categories on demand, for example one
// action per custom command configured in that guild.
type Provider func(ctx context.Context, guildID string) ([]Category, error)

type ownedCategory struct {
	owner    string
	category Category
}

type ownedProvider struct {
	owner    string
	provider Provider
}

// Registry holds the capability catalogue: built-in categories, categories
// registered by plugins at load time, and dynamic per-guild providers.
// Entries are never removed; registering the same owner and key again
// replaces the earlier definition, so plugin reloads do not grow it.
type Registry struct {
	mu         sync.RWMutex
	static     []Category
	registered []ownedCategory
	providers  []ownedProvider
	logger     *log.Logger
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithStaticCategories replaces the built-in seed categories.
func WithStaticCategories(categories ...Category) RegistryOption {
	return func(r *Registry) {
		r.static = append([]Category(nil), categories...)
	}
}

// WithLogger overrides the logger used for provider failures.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry constructs a registry seeded with BuiltinCategories.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		static: BuiltinCategories(),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds categories owned by a plugin. A category the owner already
// registered under the same key is replaced.
func (r *Registry) Register(owner string, categories ...Category) error {
	for _, cat := range categories {
		if err := validateCategory(cat); err != nil {
			return fmt.Errorf("permissions: register %s: %w", owner, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cat := range categories {
		cat.Actions = append([]Action(nil), cat.Actions...)
		if i := r.indexLocked(owner, cat.Key); i >= 0 {
			r.registered[i].category = cat
			continue
		}
		r.registered = append(r.registered, ownedCategory{owner: owner, category: cat})
	}
	return nil
}

func (r *Registry) indexLocked(owner, categoryKey string) int {
	for i, entry := range r.registered {
		if entry.owner == owner && entry.category.Key == categoryKey {
			return i
		}
	}
	return -1
}

// RegisterAction adds a single action to a category owned by owner,
// creating the category when it does not exist yet. An action with the same
// key is replaced.
func (r *Registry) RegisterAction(owner, categoryKey string, action Action) error {
	if err := validateCategory(Category{Key: categoryKey, Actions: []Action{action}}); err != nil {
		return fmt.Errorf("permissions: register action for %s: %w", owner, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(owner, categoryKey); i >= 0 {
		cat := &r.registered[i].category
		for j := range cat.Actions {
			if cat.Actions[j].Key == action.Key {
				cat.Actions[j] = action
				return nil
			}
		}
		cat.Actions = append(cat.Actions, action)
		return nil
	}
	r.registered = append(r.registered, ownedCategory{
		owner:    owner,
		category: Category{Key: categoryKey, Label: categoryKey, Actions: []Action{action}},
	})
	return nil
}

// RegisterProvider sets owner's dynamic per-guild category provider,
// replacing one the owner registered before.
func (r *Registry) RegisterProvider(owner string, provider Provider) {
	if provider == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.providers {
		if r.providers[i].owner == owner {
			r.providers[i].provider = provider
			return
		}
	}
	r.providers = append(r.providers, ownedProvider{owner: owner, provider: provider})
}

// Owner returns the plugin that registered categoryKey, if any.
func (r *Registry) Owner(categoryKey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.registered {
		if entry.category.Key == categoryKey {
			return entry.owner, true
		}
	}
	return "", false
}

// Categories returns the merged catalogue for guildID, de-duplicated by
// category key and then by action key (first definition wins). Dynamic
// providers only run when guildID is non-empty; a failing provider is
// logged and skipped.
func (r *Registry) Categories(ctx context.Context, guildID string) []Category {
	r.mu.RLock()
	sources := make([]Category, 0, len(r.static)+len(r.registered))
	sources = append(sources, r.static...)
	for _, entry := range r.registered {
		sources = append(sources, entry.category)
	}
	providers := append([]ownedProvider(nil), r.providers...)
	r.mu.RUnlock()

	if guildID != "" {
		for _, p := range providers {
			dynamic, err := p.provider(ctx, guildID)
			if err != nil {
				r.logger.Printf("[Permissions] provider %s failed for guild %s: %v", p.owner, guildID, err)
				continue
			}
			for _, cat := range dynamic {
				if err := validateCategory(cat); err != nil {
					r.logger.Printf("[Permissions] provider %s returned invalid category: %v", p.owner, err)
					continue
				}
				sources = append(sources, cat)
			}
		}
	}

	return merge(sources)
}

// Known reports whether key is a full action key present in categories.
func Known(categories []Category, key string) bool {
	catKey, actionKey, ok := SplitKey(key)
	if !ok {
		return false
	}
	for _, cat := range categories {
		if cat.Key != catKey {
			continue
		}
		for _, action := range cat.Actions {
			if action.Key == actionKey {
				return true
			}
		}
	}
	return false
}

func merge(sources []Category) []Category {
	index := make(map[string]int, len(sources))
	merged := make([]Category, 0, len(sources))
	seenActions := make(map[string]struct{})

	for _, cat := range sources {
		pos, ok := index[cat.Key]
		if !ok {
			pos = len(merged)
			index[cat.Key] = pos
			merged = append(merged, Category{
				Key:         cat.Key,
				Label:       cat.Label,
				Description: cat.Description,
			})
		}
		for _, action := range cat.Actions {
			full := cat.FullKey(action)
			if _, dup := seenActions[full]; dup {
				continue
			}
			seenActions[full] = struct{}{}
			merged[pos].Actions = append(merged[pos].Actions, action)
		}
	}
	return merged
}

func validateCategory(cat Category) error {
	key := strings.TrimSpace(cat.Key)
	if key == "" {
		return fmt.Errorf("category key is empty")
	}
	if key != cat.Key || strings.ContainsAny(key, ". ") {
		return fmt.Errorf("category key %q must not contain dots or spaces", cat.Key)
	}
	if key == DenyAccessKey {
		return fmt.Errorf("category key %q is reserved", key)
	}
	for _, action := range cat.Actions {
		if strings.TrimSpace(action.Key) == "" {
			return fmt.Errorf("category %s has an action with an empty key", key)
		}
		if strings.Contains(action.Key, " ") {
			return fmt.Errorf("action key %q must not contain spaces", action.Key)
		}
	}
	return nil
}
