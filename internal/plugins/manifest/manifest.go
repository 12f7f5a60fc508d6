// Package manifest discovers and decodes plugin descriptors.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	manifestYAML = "plugin.yaml"
	manifestYML  = "plugin.yml"
	manifestJSON = "plugin.json"

	defaultMain = "main.js"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// EnvSpec lists the environment keys a plugin reads.
type EnvSpec struct {
	Required []string `yaml:"required" json:"required,omitempty"`
	Optional []string `yaml:"optional" json:"optional,omitempty"`
}

// Paths names the sub-directories script plugins keep their capabilities in.
// Empty values mean the capability is not provided.
type Paths struct {
	Commands     string `yaml:"commands" json:"commands,omitempty"`
	ContextMenus string `yaml:"contextMenus" json:"contextMenus,omitempty"`
	Events       string `yaml:"events" json:"events,omitempty"`
	API          string `yaml:"api" json:"api,omitempty"`
}

// Manifest is a decoded plugin descriptor.
type Manifest struct {
	Dir  string `yaml:"-" json:"dir"`
	File string `yaml:"-" json:"file"`

	Name                 string   `yaml:"name" json:"name"`
	Version              string   `yaml:"version" json:"version"`
	Description          string   `yaml:"description" json:"description,omitempty"`
	Main                 string   `yaml:"main" json:"main"`
	Dependencies         []string `yaml:"dependencies" json:"dependencies,omitempty"`
	OptionalDependencies []string `yaml:"optionalDependencies" json:"optionalDependencies,omitempty"`
	Env                  EnvSpec  `yaml:"env" json:"env"`
	Disabled             bool     `yaml:"disabled" json:"disabled,omitempty"`
	Paths                Paths    `yaml:",inline" json:"paths"`
}

// DiscoveryWarning represents a plugin directory skipped during discovery.
type DiscoveryWarning struct {
	Dir string
	Err error
}

// Parse decodes a manifest from raw bytes without a backing directory.
func Parse(data []byte) (*Manifest, error) {
	return decodeManifest(data, "", "")
}

// MainPath returns the absolute path of the entry file.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.Dir, m.Main)
}

// PathFor resolves a capability sub-directory; ok is false when undeclared.
func (m *Manifest) PathFor(rel string) (string, bool) {
	if strings.TrimSpace(rel) == "" {
		return "", false
	}
	return filepath.Join(m.Dir, rel), true
}

// DependsOn reports whether name is a required or optional dependency.
func (m *Manifest) DependsOn(name string) bool {
	for _, dep := range m.Dependencies {
		if dep == name {
			return true
		}
	}
	for _, dep := range m.OptionalDependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// EnvKeys returns every declared env key, required first.
func (m *Manifest) EnvKeys() []string {
	keys := make([]string, 0, len(m.Env.Required)+len(m.Env.Optional))
	keys = append(keys, m.Env.Required...)
	return append(keys, m.Env.Optional...)
}

// DiscoverWithWarnings scans root for one directory per plugin and returns
// the manifests found in directory-name order together with warnings about
// directories that could not be decoded. A missing root yields nothing.
func DiscoverWithWarnings(root string) ([]*Manifest, []DiscoveryWarning) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, []DiscoveryWarning{{Dir: root, Err: fmt.Errorf("read plugin root: %w", err)}}
	}

	var manifests []*Manifest
	var warnings []DiscoveryWarning
	seen := make(map[string]string)

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())

		manifest, err := LoadFromDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			warnings = append(warnings, DiscoveryWarning{Dir: dir, Err: err})
			log.Printf("[PluginManifest] skipping %s: %v", dir, err)
			continue
		}
		if prev, dup := seen[manifest.Name]; dup {
			err := fmt.Errorf("plugin name %q already declared in %s", manifest.Name, prev)
			warnings = append(warnings, DiscoveryWarning{Dir: dir, Err: err})
			log.Printf("[PluginManifest] skipping %s: %v", dir, err)
			continue
		}
		seen[manifest.Name] = dir
		manifests = append(manifests, manifest)
	}

	sort.SliceStable(manifests, func(i, j int) bool {
		return manifests[i].Dir < manifests[j].Dir
	})
	return manifests, warnings
}

// LoadFromDir decodes the manifest inside dir. It returns fs.ErrNotExist when
// the directory holds no manifest file.
func LoadFromDir(dir string) (*Manifest, error) {
	file, err := locateManifestFile(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", file, err)
	}

	return decodeManifest(data, dir, file)
}

// decodeManifest accepts YAML and, being a superset, JSON.
func decodeManifest(data []byte, dir, file string) (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", file, err)
	}
	manifest.Dir = dir
	manifest.File = file

	manifest.Name = strings.TrimSpace(manifest.Name)
	if manifest.Name == "" {
		return nil, fmt.Errorf("manifest %s missing name", file)
	}
	if !namePattern.MatchString(manifest.Name) {
		return nil, fmt.Errorf("manifest %s: invalid plugin name %q", file, manifest.Name)
	}
	manifest.Version = strings.TrimSpace(manifest.Version)
	manifest.Main = strings.TrimSpace(manifest.Main)
	if manifest.Main == "" {
		manifest.Main = defaultMain
	}

	manifest.Dependencies = cleanList(manifest.Dependencies)
	manifest.OptionalDependencies = cleanList(manifest.OptionalDependencies)
	manifest.Env.Required = cleanList(manifest.Env.Required)
	manifest.Env.Optional = cleanList(manifest.Env.Optional)

	for _, dep := range manifest.AllDependencies() {
		if dep == manifest.Name {
			return nil, fmt.Errorf("manifest %s: plugin %q depends on itself", file, manifest.Name)
		}
	}

	return &manifest, nil
}

// AllDependencies returns required then optional dependency names.
func (m *Manifest) AllDependencies() []string {
	deps := make([]string, 0, len(m.Dependencies)+len(m.OptionalDependencies))
	deps = append(deps, m.Dependencies...)
	return append(deps, m.OptionalDependencies...)
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func locateManifestFile(dir string) (string, error) {
	candidates := []string{
		filepath.Join(dir, manifestYAML),
		filepath.Join(dir, manifestYML),
		filepath.Join(dir, manifestJSON),
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("stat manifest %s: %w", candidate, err)
		}
		if info.IsDir() {
			continue
		}
		return candidate, nil
	}

	return "", fs.ErrNotExist
}
