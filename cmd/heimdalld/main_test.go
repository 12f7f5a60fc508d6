package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lerndmina/Heimdall-sub000/internal/version"
)

func writeManifest(t *testing.T, home, dir, body string) {
	t.Helper()
	path := filepath.Join(home, "plugins", dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "plugin.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPluginsListShowsLoadOrder(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HEIMDALL_HOME", home)
	writeManifest(t, home, "a-tickets", "name: tickets\nversion: 1.0.0\ndependencies: [core]\n")
	writeManifest(t, home, "b-core", "name: core\nversion: 2.0.0\n")
	writeManifest(t, home, "c-old", "name: old\nversion: 0.1.0\ndisabled: true\n")

	out, err := run(t, "plugins", "list", "--json")
	if err != nil {
		t.Fatalf("plugins list: %v\n%s", err, out)
	}
	var report pluginReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	byName := make(map[string]pluginRow)
	for _, row := range report.Plugins {
		byName[row.Name] = row
	}
	if byName["core"].Order != 1 || byName["tickets"].Order != 2 {
		t.Fatalf("unexpected order %+v", report.Plugins)
	}
	if byName["old"].Status != "disabled" {
		t.Fatalf("expected old to be disabled, got %+v", byName["old"])
	}
}

func TestPluginsListReportsProblems(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HEIMDALL_HOME", home)
	writeManifest(t, home, "tickets", "name: tickets\nversion: 1.0.0\ndependencies: [missing]\n")

	out, err := run(t, "plugins", "list")
	if err == nil {
		t.Fatalf("expected an error for an unloadable plugin set")
	}
	if !strings.Contains(out, "invalid") || !strings.Contains(out, "missing") {
		t.Fatalf("problem not reported:\n%s", out)
	}
}

func TestPluginsListEmpty(t *testing.T) {
	t.Setenv("HEIMDALL_HOME", t.TempDir())
	out, err := run(t, "plugins", "list")
	if err != nil {
		t.Fatalf("plugins list: %v", err)
	}
	if !strings.Contains(out, "No plugins found.") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestVersionReportsRunningHost(t *testing.T) {
	t.Cleanup(version.ForTesting("1.2.0"))
	t.Setenv("HEIMDALL_HOME", t.TempDir())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"ok","version":"1.1.0"}`))
	}))
	defer srv.Close()

	out, err := run(t, "version", "--addr", strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "heimdalld: v1.2.0") || !strings.Contains(out, "running host: v1.1.0") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "WARNING") {
		t.Fatalf("expected mismatch warning:\n%s", out)
	}
}

func TestVersionWithoutRunningHost(t *testing.T) {
	t.Setenv("HEIMDALL_HOME", t.TempDir())
	out, err := run(t, "version", "--addr", "127.0.0.1:1")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "running host: unavailable") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
