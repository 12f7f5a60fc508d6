package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, root, dir, file, body string) string {
	t.Helper()
	pluginDir := filepath.Join(root, dir)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", pluginDir, err)
	}
	if err := os.WriteFile(filepath.Join(pluginDir, file), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return pluginDir
}

func TestParseYAML(t *testing.T) {
	data := `name: tickets
version: 1.2.0
dependencies: [ core , core ]
optionalDependencies: [logging]
env:
  required: [TICKETS_CHANNEL]
  optional: [TICKETS_COLOR]
commands: commands
contextMenus: menus
api: api
`
	mf, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if mf.Name != "tickets" || mf.Version != "1.2.0" {
		t.Fatalf("unexpected identity %+v", mf)
	}
	if mf.Main != "main.js" {
		t.Fatalf("expected default main, got %q", mf.Main)
	}
	if len(mf.Dependencies) != 1 || mf.Dependencies[0] != "core" {
		t.Fatalf("dependencies not cleaned: %#v", mf.Dependencies)
	}
	if !mf.DependsOn("logging") || mf.DependsOn("other") {
		t.Fatalf("DependsOn mismatch for %#v", mf.AllDependencies())
	}
	if got := strings.Join(mf.EnvKeys(), ","); got != "TICKETS_CHANNEL,TICKETS_COLOR" {
		t.Fatalf("unexpected env keys %q", got)
	}
	if mf.Paths.Commands != "commands" || mf.Paths.ContextMenus != "menus" || mf.Paths.API != "api" {
		t.Fatalf("unexpected paths %+v", mf.Paths)
	}
	if _, ok := mf.PathFor(mf.Paths.Events); ok {
		t.Fatal("undeclared events path must report !ok")
	}
}

func TestParseJSON(t *testing.T) {
	mf, err := Parse([]byte(`{"name":"core","main":"index.js","disabled":true,"events":"events"}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if mf.Main != "index.js" || !mf.Disabled || mf.Paths.Events != "events" {
		t.Fatalf("unexpected manifest %+v", mf)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing name": "version: 1.0.0\n",
		"bad name":     "name: Has Spaces\n",
		"self dep":     "name: loop\ndependencies: [loop]\n",
		"bad yaml":     "name: [\n",
	}
	for label, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Fatalf("%s: expected error", label)
		}
	}
}

func TestDiscoverWithWarnings(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "b-logging", "plugin.yaml", "name: logging\n")
	writeManifest(t, root, "a-core", "plugin.json", `{"name":"core"}`)
	writeManifest(t, root, "c-broken", "plugin.yml", "name: [\n")
	writeManifest(t, root, "d-dup", "plugin.yaml", "name: core\n")
	if err := os.MkdirAll(filepath.Join(root, "e-empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	manifests, warnings := DiscoverWithWarnings(root)
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(manifests))
	}
	if manifests[0].Name != "core" || manifests[1].Name != "logging" {
		t.Fatalf("expected directory order core, logging; got %s, %s", manifests[0].Name, manifests[1].Name)
	}
	if manifests[0].MainPath() != filepath.Join(root, "a-core", "main.js") {
		t.Fatalf("unexpected main path %s", manifests[0].MainPath())
	}
	if len(warnings) != 2 {
		t.Fatalf("expected warnings for broken and duplicate, got %+v", warnings)
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	manifests, warnings := DiscoverWithWarnings(filepath.Join(t.TempDir(), "absent"))
	if manifests != nil || warnings != nil {
		t.Fatalf("expected nothing for a missing root, got %v %v", manifests, warnings)
	}
}

func TestOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.override.yaml")
	if err := os.WriteFile(path, []byte("allow: [core, tickets]\ndeny: [tickets]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}

	cases := []struct {
		m    Manifest
		want bool
	}{
		{Manifest{Name: "core"}, false},
		{Manifest{Name: "tickets"}, true},
		{Manifest{Name: "logging"}, true},
		{Manifest{Name: "core", Disabled: true}, true},
	}
	for _, tc := range cases {
		m := tc.m
		if got := o.DisabledReason(&m) != ""; got != tc.want {
			t.Fatalf("%s: disabled=%v want %v", m.Name, got, tc.want)
		}
	}

	empty, err := LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing override file must not fail: %v", err)
	}
	if empty.DisabledReason(&Manifest{Name: "anything"}) != "" {
		t.Fatal("no overrides means everything enabled")
	}
}
