// Package interactions routes platform interaction events to the command,
// context-menu, and component handlers plugins register, checking the
// command's permission action before any handler code runs.
package interactions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

const (
	FailureMessage   = "Something went wrong while running this command."
	ForbiddenMessage = "You do not have permission to use this command."
	UnknownMessage   = "This command is no longer available."
)

// CommandHandler runs a slash or context-menu command.
type CommandHandler interface {
	HandleCommand(ctx context.Context, in *platform.Interaction) error
}

// CommandFunc adapts a function to CommandHandler.
type CommandFunc func(ctx context.Context, in *platform.Interaction) error

func (f CommandFunc) HandleCommand(ctx context.Context, in *platform.Interaction) error {
	return f(ctx, in)
}

// Subcommand describes one subcommand for registration and permissions.
type Subcommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Command is a slash command contributed by a plugin.
type Command struct {
	Name        string
	Description string
	Subcommands []Subcommand
	Handler     CommandHandler
	// Public commands skip the permission gate.
	Public bool
}

// ContextMenuTarget is what a context-menu command is invoked on.
type ContextMenuTarget string

const (
	TargetUser    ContextMenuTarget = "user"
	TargetMessage ContextMenuTarget = "message"
)

// ContextMenu is a right-click command contributed by a plugin.
type ContextMenu struct {
	Name    string
	Target  ContextMenuTarget
	Handler CommandHandler
}

// EventHandler receives platform events by name.
type EventHandler struct {
	Event   string
	Once    bool
	Handler func(ctx context.Context, payload any) error
}

// ComponentDispatcher resolves component interactions.
// *components.Registry satisfies it.
type ComponentDispatcher interface {
	Dispatch(ctx context.Context, in *platform.Interaction) (bool, error)
}

// PermissionChecker answers command permission checks.
type PermissionChecker interface {
	Can(ctx context.Context, member permissions.Member, key string) (bool, error)
}

// CommandInfo is the registration view of a command.
type CommandInfo struct {
	Plugin      string            `json:"plugin"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Subcommands []Subcommand      `json:"subcommands,omitempty"`
	Target      ContextMenuTarget `json:"target,omitempty"`
}

type registeredCommand struct {
	plugin string
	cmd    Command
}

type registeredMenu struct {
	plugin string
	menu   ContextMenu
}

type registeredEvent struct {
	plugin  string
	handler EventHandler
}

// Router holds the command, context-menu, and event tables.
type Router struct {
	perms      *permissions.Registry
	checker    PermissionChecker
	components ComponentDispatcher
	logger     *log.Logger

	mu       sync.RWMutex
	commands map[string]registeredCommand
	menus    map[string]registeredMenu
	events   map[string][]registeredEvent
}

// Option customises a Router.
type Option func(*Router)

// WithLogger overrides the router logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a router. perms receives a permission action for every
// registered command; checker gates invocations.
func New(perms *permissions.Registry, checker PermissionChecker, components ComponentDispatcher, opts ...Option) *Router {
	r := &Router{
		perms:      perms,
		checker:    checker,
		components: components,
		logger:     log.Default(),
		commands:   make(map[string]registeredCommand),
		menus:      make(map[string]registeredMenu),
		events:     make(map[string][]registeredEvent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CommandKey returns the permission action key guarding a command.
func CommandKey(plugin, command, subcommand string) string {
	key := plugin + ".commands." + normalize(command)
	if subcommand != "" {
		key += "." + normalize(subcommand)
	}
	return key
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// RegisterCommand adds a plugin command and its permission actions.
func (r *Router) RegisterCommand(plugin string, cmd Command) error {
	name := normalize(cmd.Name)
	if plugin == "" || name == "" {
		return errors.New("interactions: command requires plugin and name")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("interactions: command %s has no handler", name)
	}

	r.mu.Lock()
	if existing, ok := r.commands[name]; ok && existing.plugin != plugin {
		r.mu.Unlock()
		return fmt.Errorf("interactions: command %s already registered by %s", name, existing.plugin)
	}
	r.commands[name] = registeredCommand{plugin: plugin, cmd: cmd}
	r.mu.Unlock()

	if cmd.Public || r.perms == nil {
		return nil
	}
	actions := []permissions.Action{{
		Key:         "commands." + name,
		Label:       "/" + name,
		Description: cmd.Description,
	}}
	for _, sub := range cmd.Subcommands {
		actions = append(actions, permissions.Action{
			Key:         "commands." + name + "." + normalize(sub.Name),
			Label:       "/" + name + " " + sub.Name,
			Description: sub.Description,
		})
	}
	for _, action := range actions {
		if err := r.perms.RegisterAction(plugin, plugin, action); err != nil {
			return fmt.Errorf("interactions: %w", err)
		}
	}
	return nil
}

// RegisterContextMenu adds a plugin context-menu command.
func (r *Router) RegisterContextMenu(plugin string, menu ContextMenu) error {
	name := strings.TrimSpace(menu.Name)
	if plugin == "" || name == "" {
		return errors.New("interactions: context menu requires plugin and name")
	}
	if menu.Handler == nil {
		return fmt.Errorf("interactions: context menu %s has no handler", name)
	}
	if menu.Target == "" {
		menu.Target = TargetMessage
	}

	r.mu.Lock()
	r.menus[name] = registeredMenu{plugin: plugin, menu: menu}
	r.mu.Unlock()

	if r.perms == nil {
		return nil
	}
	return r.perms.RegisterAction(plugin, plugin, permissions.Action{
		Key:   "commands." + normalize(name),
		Label: name,
	})
}

// RegisterEvent adds a plugin event handler.
func (r *Router) RegisterEvent(plugin string, h EventHandler) error {
	if h.Event == "" || h.Handler == nil {
		return errors.New("interactions: event handler requires event and handler")
	}
	r.mu.Lock()
	r.events[h.Event] = append(r.events[h.Event], registeredEvent{plugin: plugin, handler: h})
	r.mu.Unlock()
	return nil
}

// RemovePlugin drops every command, menu, and event handler of plugin.
// Permission actions stay registered.
func (r *Router) RemovePlugin(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range r.commands {
		if c.plugin == plugin {
			delete(r.commands, name)
		}
	}
	for name, m := range r.menus {
		if m.plugin == plugin {
			delete(r.menus, name)
		}
	}
	for event, handlers := range r.events {
		kept := handlers[:0]
		for _, h := range handlers {
			if h.plugin != plugin {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(r.events, event)
		} else {
			r.events[event] = kept
		}
	}
}

// Commands lists registered commands and context menus sorted by name.
func (r *Router) Commands() []CommandInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CommandInfo, 0, len(r.commands)+len(r.menus))
	for name, c := range r.commands {
		out = append(out, CommandInfo{Plugin: c.plugin, Name: name, Description: c.cmd.Description, Subcommands: c.cmd.Subcommands})
	}
	for name, m := range r.menus {
		out = append(out, CommandInfo{Plugin: m.plugin, Name: name, Target: m.menu.Target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Route handles one interaction. It reports whether a handler was found.
func (r *Router) Route(ctx context.Context, in *platform.Interaction) (bool, error) {
	if in == nil {
		return false, nil
	}
	switch in.Kind {
	case platform.KindCommand, platform.KindAutocomplete:
		r.mu.RLock()
		c, ok := r.commands[normalize(in.CommandName)]
		r.mu.RUnlock()
		if !ok {
			r.reply(ctx, in, UnknownMessage)
			return false, nil
		}
		key := ""
		if !c.cmd.Public {
			key = CommandKey(c.plugin, in.CommandName, in.Subcommand)
		}
		r.run(ctx, in, key, c.cmd.Handler, "command "+c.plugin+"/"+normalize(in.CommandName))
		return true, nil

	case platform.KindContextMenu:
		r.mu.RLock()
		m, ok := r.menus[strings.TrimSpace(in.CommandName)]
		r.mu.RUnlock()
		if !ok {
			r.reply(ctx, in, UnknownMessage)
			return false, nil
		}
		r.run(ctx, in, CommandKey(m.plugin, m.menu.Name, ""), m.menu.Handler, "context menu "+m.plugin+"/"+m.menu.Name)
		return true, nil

	case platform.KindComponent, platform.KindModalSubmit:
		if r.components == nil {
			return false, nil
		}
		return r.components.Dispatch(ctx, in)
	}
	return false, fmt.Errorf("interactions: unsupported interaction kind %q", in.Kind)
}

func (r *Router) run(ctx context.Context, in *platform.Interaction, key string, h CommandHandler, label string) {
	if key != "" && !r.permitted(ctx, in, key) {
		r.reply(ctx, in, ForbiddenMessage)
		return
	}
	if err := safeCall(func() error { return h.HandleCommand(ctx, in) }); err != nil {
		r.logger.Printf("[Interactions] %s failed: %v", label, err)
		r.reply(ctx, in, FailureMessage)
	}
}

// permitted gates a command. Commands used outside guilds have no member to
// resolve and are allowed only when the command was registered public.
func (r *Router) permitted(ctx context.Context, in *platform.Interaction, key string) bool {
	if r.checker == nil || in.Member == nil {
		return false
	}
	ok, err := r.checker.Can(ctx, *in.Member, key)
	if err != nil {
		r.logger.Printf("[Interactions] permission check %s for %s: %v", key, in.User.ID, err)
		return false
	}
	return ok
}

func (r *Router) reply(ctx context.Context, in *platform.Interaction, msg string) {
	if err := in.Reply(ctx, platform.Response{Content: msg, Ephemeral: true}); err != nil {
		r.logger.Printf("[Interactions] reply to %s: %v", in.ID, err)
	}
}

// Emit delivers an event to every registered handler in registration order.
// Once handlers are removed after their first delivery.
func (r *Router) Emit(ctx context.Context, event string, payload any) {
	r.mu.Lock()
	handlers := append([]registeredEvent(nil), r.events[event]...)
	kept := r.events[event][:0]
	for _, h := range r.events[event] {
		if !h.handler.Once {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(r.events, event)
	} else {
		r.events[event] = kept
	}
	r.mu.Unlock()

	for _, h := range handlers {
		err := safeCall(func() error { return h.handler.Handler(ctx, payload) })
		if err != nil {
			r.logger.Printf("[Interactions] %s handler for %s failed: %v", h.plugin, event, err)
		}
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}
