// Package tools describes the external binaries spacelink drives: where each
// one is usually installed, how to read its version and how to install it.
// Specs are embedded YAML files so adding a tool needs no code change.
package tools

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed specs/*.yaml
var specsFS embed.FS

// Well-known tool names.
const (
	AWS                  = "aws"
	SessionManagerPlugin = "session-manager-plugin"
	SSH                  = "ssh"
)

// Spec describes one external tool.
type Spec struct {
	Name           string              `yaml:"name"`
	DisplayName    string              `yaml:"displayName"`
	Binary         string              `yaml:"binary"`
	Required       bool                `yaml:"required"`
	VersionArgs    []string            `yaml:"versionArgs"`
	VersionPattern string              `yaml:"versionPattern"`
	MinVersion     string              `yaml:"minVersion"`
	Paths          map[string][]string `yaml:"paths"`
	Install        InstallSpec         `yaml:"install"`

	versionRE *regexp.Regexp
}

// InstallSpec points at documentation and, per GOOS, an installer.
type InstallSpec struct {
	Docs       string                `yaml:"docs"`
	Installers map[string]*Installer `yaml:"installers"`
}

// Installer is a downloadable installer and how to run it silently.
// An empty Command runs the downloaded file itself. "{file}" in Args is
// replaced by the downloaded path.
type Installer struct {
	URL     string   `yaml:"url"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// specs is loaded at package init time from embedded YAML files.
var specs = mustLoadSpecs(specsFS)

func mustLoadSpecs(fsys embed.FS) map[string]*Spec {
	entries, err := fsys.ReadDir("specs")
	if err != nil {
		panic(fmt.Sprintf("tools: read specs dir: %v", err))
	}

	loaded := make(map[string]*Spec, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, readErr := fsys.ReadFile("specs/" + entry.Name())
		if readErr != nil {
			panic(fmt.Sprintf("tools: read spec %s: %v", entry.Name(), readErr))
		}

		spec, parseErr := parseSpec(data)
		if parseErr != nil {
			panic(fmt.Sprintf("tools: spec %s: %v", entry.Name(), parseErr))
		}

		if _, dup := loaded[spec.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool name %q in %s", spec.Name, entry.Name()))
		}

		loaded[spec.Name] = spec
	}

	return loaded
}

func parseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if spec.Name == "" || spec.Binary == "" {
		return nil, fmt.Errorf("name and binary are required")
	}

	if spec.VersionPattern != "" {
		re, err := regexp.Compile(spec.VersionPattern)
		if err != nil {
			return nil, fmt.Errorf("versionPattern: %w", err)
		}

		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("versionPattern needs a capture group")
		}

		spec.versionRE = re
	}

	if spec.MinVersion != "" {
		if _, err := semver.NewVersion(spec.MinVersion); err != nil {
			return nil, fmt.Errorf("minVersion: %w", err)
		}
	}

	return &spec, nil
}

// Get returns the Spec for a named tool.
func Get(name string) (*Spec, bool) {
	spec, ok := specs[name]
	return spec, ok
}

// Names returns all tool names in sorted order.
func Names() []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// CandidatePaths returns the well-known absolute install locations for goos
// in priority order, with environment variables expanded. Entries whose
// variables are unset are dropped.
func (s *Spec) CandidatePaths(goos string) []string {
	raw := s.Paths[goos]
	out := make([]string, 0, len(raw))

	for _, p := range raw {
		unset := false
		expanded := os.Expand(p, func(key string) string {
			v := os.Getenv(key)
			if v == "" {
				unset = true
			}

			return v
		})

		if !unset {
			out = append(out, expanded)
		}
	}

	return out
}

// ParseVersion extracts the version from the tool's version output.
func (s *Spec) ParseVersion(output string) (string, bool) {
	if s.versionRE == nil {
		return "", false
	}

	m := s.versionRE.FindStringSubmatch(output)
	if len(m) < 2 {
		return "", false
	}

	return m[1], true
}

// MeetsMinimum reports whether version satisfies MinVersion. Tools without a
// minimum always pass. Four-part versions are compared on their first three.
func (s *Spec) MeetsMinimum(version string) (bool, error) {
	if s.MinVersion == "" {
		return true, nil
	}

	if parts := strings.Split(version, "."); len(parts) > 3 {
		version = strings.Join(parts[:3], ".")
	}

	got, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("parse %s version %q: %w", s.Name, version, err)
	}

	minimum, err := semver.NewVersion(s.MinVersion)
	if err != nil {
		return false, fmt.Errorf("parse %s minVersion: %w", s.Name, err)
	}

	return !got.LessThan(minimum), nil
}

// InstallerFor returns the installer for goos, or nil when none is known.
func (s *Spec) InstallerFor(goos string) *Installer {
	return s.Install.Installers[goos]
}

// Label returns the display name, falling back to the tool name.
func (s *Spec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}

	return s.Name
}
