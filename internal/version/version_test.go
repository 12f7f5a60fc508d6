package version

import (
	"strings"
	"testing"
)

func TestStringReflectsBuildVersion(t *testing.T) {
	t.Cleanup(ForTesting("1.2.3-test"))

	if got := String(); got != "1.2.3-test" {
		t.Fatalf("expected version 1.2.3-test, got %s", got)
	}
}

func TestCheckRunningMismatch(t *testing.T) {
	tests := []struct {
		name    string
		local   string
		running string
		warn    bool
	}{
		{"same version", "1.4.0", "1.4.0", false},
		{"different version", "1.4.0", "1.3.2", true},
		{"running dev", "1.4.0", "dev", false},
		{"local dev", "dev", "1.4.0", false},
		{"running unknown", "1.4.0", "", false},
		{"local empty", "", "1.4.0", false},
		{"describe suffix same base", "1.4.0-3-gabc123", "1.4.0", false},
		{"describe suffix different base", "1.4.0-3-gabc123", "1.3.0", true},
		{"v prefix same", "v1.4.0", "1.4.0", false},
		{"untagged local", untagged, "1.4.0", false},
		{"untagged running", "1.4.0", untagged, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(ForTesting(tt.local))

			got := CheckRunningMismatch(tt.running)
			if tt.warn != (got != "") {
				t.Fatalf("CheckRunningMismatch(%q) with local %q = %q", tt.running, tt.local, got)
			}
			if tt.warn && (!strings.HasPrefix(got, "WARNING: heimdalld ") || !strings.Contains(got, "restart the host")) {
				t.Fatalf("unexpected warning text %q", got)
			}
		})
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := map[string]string{
		"v0.3.0":               "0.3.0",
		"0.3.0":                "0.3.0",
		"0.3.0-5-gabcdef":      "0.3.0",
		"v0.3.0-10-g1234567":   "0.3.0",
		"0.3.0-rc1":            "0.3.0-rc1",
		"0.3.0-beta-5-gabcdef": "0.3.0-beta",
		"dev":                  "dev",
		"":                     "",
	}
	for in, want := range tests {
		if got := normalizeVersion(in); got != want {
			t.Errorf("normalizeVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatVersion(t *testing.T) {
	tests := map[string]string{
		"0.3.0":     "v0.3.0",
		"v0.3.0":    "v0.3.0",
		"dev":       "dev",
		"":          "",
		"1.0.0-rc1": "v1.0.0-rc1",
	}
	for in, want := range tests {
		if got := FormatVersion(in); got != want {
			t.Errorf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
