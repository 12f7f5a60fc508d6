package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overrides is the operator file that enables or disables discovered plugins
// without editing their manifests.
type Overrides struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadOverrides reads the override file at path. A missing file yields the
// zero Overrides.
func LoadOverrides(path string) (Overrides, error) {
	if strings.TrimSpace(path) == "" {
		return Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("read plugin overrides %s: %w", path, err)
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overrides{}, fmt.Errorf("parse plugin overrides %s: %w", path, err)
	}
	o.Allow = cleanList(o.Allow)
	o.Deny = cleanList(o.Deny)
	return o, nil
}

// DisabledReason reports why m is disabled, or "" when it is enabled.
// deny wins over allow; a non-empty allow list disables every unlisted plugin.
func (o Overrides) DisabledReason(m *Manifest) string {
	if m.Disabled {
		return "disabled in manifest"
	}
	for _, name := range o.Deny {
		if name == m.Name {
			return "denied by override file"
		}
	}
	if len(o.Allow) == 0 {
		return ""
	}
	for _, name := range o.Allow {
		if name == m.Name {
			return ""
		}
	}
	return "not in override allow list"
}
