package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/go-chi/chi/v5"

	"github.com/lerndmina/Heimdall-sub000/internal/httpapi"
	"github.com/lerndmina/Heimdall-sub000/internal/interactions"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
	"github.com/lerndmina/Heimdall-sub000/internal/plugins/manifest"
)

// ScriptLoader evaluates JavaScript plugins. The entry file exports an
// init(ctx) function; commands, context menus, events, and API routes are
// read from the sub-directories the manifest declares.
type ScriptLoader struct{}

// NewScriptLoader returns a loader for .js entries.
func NewScriptLoader() *ScriptLoader {
	return &ScriptLoader{}
}

func (l *ScriptLoader) Load(_ context.Context, m *manifest.Manifest) (Module, error) {
	if !strings.HasSuffix(m.Main, ".js") {
		return nil, ErrUnsupported
	}
	src, err := os.ReadFile(m.MainPath())
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", m.MainPath(), err)
	}
	return &scriptModule{manifest: m, source: string(src)}, nil
}

// scriptModule owns one VM per plugin. goja runtimes are not safe for
// concurrent use so every call into the VM holds mu. Host calls a script
// makes that may re-enter the VM are queued in deferred and run once the
// VM call that made them has released mu.
type scriptModule struct {
	manifest *manifest.Manifest
	source   string

	mu       sync.Mutex
	vm       *goja.Runtime
	exports  *goja.Object
	logger   *log.Logger
	deferred []func()

	commands []interactions.Command
	menus    []interactions.ContextMenu
	events   []interactions.EventHandler
	routes   []httpapi.Route
}

func (s *scriptModule) Init(_ context.Context, pc *Context) (any, error) {
	s.mu.Lock()
	defer s.release()

	s.logger = pc.Logger
	s.vm = goja.New()
	s.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	s.installGlobals(pc)

	exports, err := s.runModule(s.manifest.MainPath(), s.source)
	if err != nil {
		return nil, err
	}
	s.exports = exports

	initFn, ok := goja.AssertFunction(exports.Get("init"))
	if !ok {
		return nil, fmt.Errorf("script: %s does not export an init function", s.manifest.Main)
	}
	result, err := s.settle(initFn(goja.Undefined(), s.hostObject(pc)))
	if err != nil {
		return nil, fmt.Errorf("script: init: %w", err)
	}

	s.scanCapabilities()
	return s.exportAPI(result), nil
}

func (s *scriptModule) installGlobals(pc *Context) {
	console := s.vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		pc.Logger.Print(strings.Join(parts, " "))
		return goja.Undefined()
	}
	console.Set("log", logFn)
	console.Set("warn", logFn)
	console.Set("error", logFn)
	s.vm.Set("console", console)
}

// runModule evaluates src as a CommonJS-style module in its own function
// scope and returns module.exports.
func (s *scriptModule) runModule(path, src string) (*goja.Object, error) {
	wrapped, err := s.vm.RunScript(path, "(function(module, exports) {\n"+src+"\n})")
	if err != nil {
		return nil, fmt.Errorf("script: evaluate %s: %w", path, err)
	}
	fn, ok := goja.AssertFunction(wrapped)
	if !ok {
		return nil, fmt.Errorf("script: evaluate %s: not a module", path)
	}
	module := s.vm.NewObject()
	exports := s.vm.NewObject()
	module.Set("exports", exports)
	if _, err := fn(goja.Undefined(), module, exports); err != nil {
		return nil, fmt.Errorf("script: execute %s: %w", path, err)
	}
	out := module.Get("exports")
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return exports, nil
	}
	return out.ToObject(s.vm), nil
}

// settle unwraps a returned promise once the VM has drained its jobs.
func (s *scriptModule) settle(v goja.Value, err error) (goja.Value, error) {
	if err != nil {
		return nil, err
	}
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("rejected: %v", p.Result())
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	default:
		return nil, errors.New("promise did not settle")
	}
}

// hostObject is the ctx a script's init receives.
func (s *scriptModule) hostObject(pc *Context) *goja.Object {
	vm := s.vm
	host := vm.NewObject()
	host.Set("name", pc.Manifest.Name)
	host.Set("version", pc.Manifest.Version)
	host.Set("env", func(key string) goja.Value {
		if v, ok := pc.Env(key); ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	host.Set("dependency", func(name string) goja.Value {
		if api, ok := pc.Dependency(name); ok {
			return vm.ToValue(api)
		}
		return goja.Undefined()
	})
	host.Set("broadcast", func(guildID, event string, data any) {
		pc.Broadcast(guildID, event, data)
	})
	host.Set("emit", func(event string, payload any) {
		s.deferred = append(s.deferred, func() {
			pc.Emit(context.Background(), event, payload)
		})
	})
	host.Set("log", func(msg string) {
		pc.Logger.Print(msg)
	})
	return host
}

// exportAPI turns init's result into a Go value other plugins can use. Top
// level functions are wrapped so calls from outside take the VM lock.
func (s *scriptModule) exportAPI(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return s.wrapFunc(obj)
	}
	api := make(map[string]any)
	for _, key := range obj.Keys() {
		member := obj.Get(key)
		if _, isFn := goja.AssertFunction(member); isFn {
			api[key] = s.wrapFunc(member)
			continue
		}
		api[key] = member.Export()
	}
	return api
}

func (s *scriptModule) wrapFunc(v goja.Value) func(args ...any) (any, error) {
	fn, _ := goja.AssertFunction(v)
	return func(args ...any) (any, error) {
		s.mu.Lock()
		defer s.release()
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = s.vm.ToValue(a)
		}
		res, err := s.settle(fn(goja.Undefined(), vals...))
		if err != nil {
			return nil, err
		}
		return res.Export(), nil
	}
}

// call invokes fn under the VM lock.
func (s *scriptModule) call(fn goja.Callable, args ...any) (goja.Value, error) {
	s.mu.Lock()
	defer s.release()
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = s.vm.ToValue(a)
	}
	return s.settle(fn(goja.Undefined(), vals...))
}

// release unlocks the VM and then runs the work queued while it was held.
func (s *scriptModule) release() {
	queued := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

// scanDir evaluates every .js file of a declared capability directory.
// Files that fail to evaluate are skipped with a warning.
func (s *scriptModule) scanDir(rel string, visit func(file string, exports *goja.Object)) {
	dir, ok := s.manifest.PathFor(rel)
	if !ok {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Printf("[Script] skipping %s: %v", dir, err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".js") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		src, err := os.ReadFile(path)
		if err != nil {
			s.logger.Printf("[Script] skipping %s: %v", path, err)
			continue
		}
		exports, err := s.runModule(path, string(src))
		if err != nil {
			s.logger.Printf("[Script] skipping %s: %v", path, err)
			continue
		}
		visit(path, exports)
	}
}

func stringProp(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func boolProp(obj *goja.Object, key string) bool {
	v := obj.Get(key)
	return v != nil && v.ToBoolean()
}

func (s *scriptModule) scanCapabilities() {
	p := s.manifest.Paths
	s.scanDir(p.Commands, func(file string, ex *goja.Object) {
		name := stringProp(ex, "name")
		fn, ok := goja.AssertFunction(ex.Get("execute"))
		if name == "" || !ok {
			s.logger.Printf("[Script] %s is not a command (needs name and execute)", file)
			return
		}
		s.commands = append(s.commands, interactions.Command{
			Name:        name,
			Description: stringProp(ex, "description"),
			Subcommands: s.subcommands(ex),
			Public:      boolProp(ex, "public"),
			Handler:     interactions.CommandFunc(s.interactionHandler(fn)),
		})
	})

	s.scanDir(p.ContextMenus, func(file string, ex *goja.Object) {
		name := stringProp(ex, "name")
		target := interactions.ContextMenuTarget(strings.ToLower(stringProp(ex, "type")))
		fn, ok := goja.AssertFunction(ex.Get("execute"))
		if name == "" || !ok || (target != interactions.TargetUser && target != interactions.TargetMessage) {
			s.logger.Printf("[Script] %s is not a context menu (needs name, type user|message, execute)", file)
			return
		}
		s.menus = append(s.menus, interactions.ContextMenu{
			Name:    name,
			Target:  target,
			Handler: interactions.CommandFunc(s.interactionHandler(fn)),
		})
	})

	s.scanDir(p.Events, func(file string, ex *goja.Object) {
		event := stringProp(ex, "event")
		fn, ok := goja.AssertFunction(ex.Get("execute"))
		if event == "" || !ok {
			s.logger.Printf("[Script] %s is not an event handler (needs event and execute)", file)
			return
		}
		s.events = append(s.events, interactions.EventHandler{
			Event: event,
			Once:  boolProp(ex, "once"),
			Handler: func(_ context.Context, payload any) error {
				_, err := s.call(fn, payload)
				return err
			},
		})
	})

	s.scanDir(p.API, func(file string, ex *goja.Object) {
		defs := []*goja.Object{ex}
		if routes, ok := ex.Get("routes").(*goja.Object); ok {
			defs = defs[:0]
			for _, key := range routes.Keys() {
				if def, ok := routes.Get(key).(*goja.Object); ok {
					defs = append(defs, def)
				}
			}
		}
		for _, def := range defs {
			path := stringProp(def, "path")
			fn, ok := goja.AssertFunction(def.Get("handler"))
			if path == "" || !ok {
				s.logger.Printf("[Script] %s has a route without path or handler", file)
				continue
			}
			s.routes = append(s.routes, httpapi.Route{
				Method:  strings.ToUpper(stringProp(def, "method")),
				Pattern: path,
				Action:  stringProp(def, "action"),
				Handler: s.httpHandler(fn),
			})
		}
	})
}

func (s *scriptModule) subcommands(ex *goja.Object) []interactions.Subcommand {
	raw, ok := ex.Get("subcommands").(*goja.Object)
	if !ok {
		return nil
	}
	var out []interactions.Subcommand
	for _, key := range raw.Keys() {
		switch v := raw.Get(key).Export().(type) {
		case string:
			out = append(out, interactions.Subcommand{Name: v})
		case map[string]any:
			name, _ := v["name"].(string)
			desc, _ := v["description"].(string)
			if name != "" {
				out = append(out, interactions.Subcommand{Name: name, Description: desc})
			}
		}
	}
	return out
}

func (s *scriptModule) interactionHandler(fn goja.Callable) func(ctx context.Context, in *platform.Interaction) error {
	return func(ctx context.Context, in *platform.Interaction) error {
		_, err := s.call(fn, interactionObject(ctx, in))
		return err
	}
}

// interactionObject is the view of an interaction a script sees.
func interactionObject(ctx context.Context, in *platform.Interaction) map[string]any {
	return map[string]any{
		"id":          in.ID,
		"kind":        string(in.Kind),
		"guildId":     in.GuildID,
		"channelId":   in.ChannelID,
		"messageId":   in.MessageID,
		"userId":      in.User.ID,
		"username":    in.User.Username,
		"commandName": in.CommandName,
		"subcommand":  in.Subcommand,
		"options":     in.Options,
		"targetId":    in.TargetID,
		"customId":    in.CustomID,
		"values":      in.Values,
		"reply": func(content string, ephemeral bool) error {
			return in.Reply(ctx, platform.Response{Content: content, Ephemeral: ephemeral})
		},
		"update": func(content string) error {
			return in.Update(ctx, platform.Response{Content: content})
		},
	}
}

func (s *scriptModule) httpHandler(fn goja.Callable) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body any
		if r.Body != nil {
			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				httpapi.WriteError(w, http.StatusBadRequest, "request body too large")
				return
			}
			if len(data) > 0 {
				if err := json.Unmarshal(data, &body); err != nil {
					httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON body")
					return
				}
			}
		}

		params := make(map[string]string)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				params[key] = rctx.URLParams.Values[i]
			}
		}
		query := make(map[string]string)
		for key, values := range r.URL.Query() {
			query[key] = values[0]
		}
		caller, _ := httpapi.CallerFrom(r.Context())
		req := map[string]any{
			"method":  r.Method,
			"path":    r.URL.Path,
			"params":  params,
			"query":   query,
			"body":    body,
			"guildId": caller.GuildID,
			"userId":  caller.UserID,
		}

		res, err := s.call(fn, req)
		if err != nil {
			s.logger.Printf("[Script] %s %s: %v", r.Method, r.URL.Path, err)
			httpapi.WriteError(w, http.StatusInternalServerError, "handler failed")
			return
		}
		status, payload := http.StatusOK, res.Export()
		if m, ok := payload.(map[string]any); ok {
			if code, ok := m["status"]; ok {
				if n, ok := toInt(code); ok && n >= 100 && n < 600 {
					status = n
					payload = m["body"]
				}
			}
		}
		httpapi.WriteJSON(w, status, payload)
	})
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (s *scriptModule) Commands() []interactions.Command         { return s.commands }
func (s *scriptModule) ContextMenus() []interactions.ContextMenu { return s.menus }
func (s *scriptModule) Events() []interactions.EventHandler      { return s.events }
func (s *scriptModule) Routes() []httpapi.Route                  { return s.routes }

// PermissionCategories reads an exported permissions array.
func (s *scriptModule) PermissionCategories() []permissions.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.exports.Get("permissions")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	var cats []permissions.Category
	if err := s.vm.ExportTo(v, &cats); err != nil {
		s.logger.Printf("[Script] ignoring permissions export: %v", err)
		return nil
	}
	return cats
}

// Unload calls an exported unload function when present.
func (s *scriptModule) Unload(_ context.Context) error {
	s.mu.Lock()
	fn, ok := goja.AssertFunction(s.exports.Get("unload"))
	s.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := s.call(fn)
	return err
}
