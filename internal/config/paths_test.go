package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultHome(t *testing.T) {
	home := DefaultHome()

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".heimdall")

	if home != expected {
		t.Errorf("DefaultHome() = %s; want %s", home, expected)
	}
}

func TestGetPaths(t *testing.T) {
	paths := GetPaths("")

	if !strings.HasSuffix(paths.Database, ".heimdall/heimdall.db") {
		t.Errorf("Database path incorrect: %s", paths.Database)
	}
	if !strings.HasSuffix(paths.Plugins, ".heimdall/plugins") {
		t.Errorf("Plugins path incorrect: %s", paths.Plugins)
	}
	if !strings.HasSuffix(paths.PIDFile, ".heimdall/heimdalld.pid") {
		t.Errorf("PIDFile path incorrect: %s", paths.PIDFile)
	}
	if !strings.HasSuffix(paths.OverrideFile, ".heimdall/plugins.override.yaml") {
		t.Errorf("OverrideFile path incorrect: %s", paths.OverrideFile)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.input); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnsureDirs(t *testing.T) {
	paths := GetPaths(filepath.Join(t.TempDir(), "home"))

	if err := EnsureDirs(paths); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	for _, dir := range []string{paths.Home, paths.Logs, paths.Plugins} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", dir)
		}
	}
}
