// Package version reports the build version of heimdalld.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

// Set at link time with -ldflags "-X .../internal/version.version=...".
var version = "dev"

// untagged is what builds report when no git tag exists.
const untagged = "0.0.0"

// String returns the build version for the current binary.
func String() string {
	return version
}

// ForTesting overrides the version string and returns a cleanup function
// that restores the original value. Must not be called concurrently.
func ForTesting(v string) func() {
	original := version
	version = v
	return func() { version = original }
}

// gitDescribeSuffix matches the "-N-gHASH" tail added by git describe.
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

func normalizeVersion(v string) string {
	v = strings.TrimPrefix(v, "v")
	return gitDescribeSuffix.ReplaceAllString(v, "")
}

// FormatVersion adds a "v" prefix to release versions. "dev" and the empty
// string are returned unchanged.
func FormatVersion(v string) string {
	if v == "" || v == "dev" {
		return v
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CheckRunningMismatch compares this binary's version with the version a
// running host reports. It returns a warning, or "" when they match or
// either side is a development or untagged build.
func CheckRunningMismatch(running string) string {
	local := version
	if running == "" || local == "" {
		return ""
	}
	for _, v := range []string{local, running} {
		if v == "dev" || v == untagged {
			return ""
		}
	}
	if normalizeVersion(local) == normalizeVersion(running) {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: heimdalld %s differs from the running host %s; restart the host to use this build",
		FormatVersion(local), FormatVersion(running),
	)
}
