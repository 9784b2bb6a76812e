package hook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/quill/internal/event"
	"github.com/dshills/quill/internal/script"
)

// ManifestFile is the per-directory manifest name.
const ManifestFile = "hooks.toml"

// Manifest is a parsed hooks.toml.
type Manifest struct {
	// API constrains the handler API version, e.g. "^1.0".
	API string `toml:"api"`

	// Handlers overrides declarations by handler name.
	Handlers map[string]Override `toml:"handlers"`

	constraint *semver.Constraints
	path       string
}

// Override replaces declared handler attributes. Nil fields keep the
// script's value.
type Override struct {
	Priority *int     `toml:"priority"`
	Enabled  *bool    `toml:"enabled"`
	Depends  []string `toml:"depends"`
}

// LoadManifest reads dir/hooks.toml. A missing file yields an empty
// manifest.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
	}
	return ParseManifest(path, data)
}

// ParseManifest parses manifest data read from path.
func ParseManifest(path string, data []byte) (*Manifest, error) {
	m := &Manifest{path: path}
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
	}
	if m.API != "" {
		c, err := semver.NewConstraint(m.API)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: api: %w", ErrInvalidManifest, path, err)
		}
		m.constraint = c
	}
	return m, nil
}

// Path returns the file the manifest was read from, or "" when absent.
func (m *Manifest) Path() string {
	return m.path
}

// Check verifies the api constraint against version.
func (m *Manifest) Check(version string) error {
	if m.constraint == nil {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("api version %q: %w", version, err)
	}
	if ok, errs := m.constraint.Validate(v); !ok {
		return fmt.Errorf("%w: %s requires %s, have %s: %w",
			ErrIncompatibleAPI, m.path, m.API, version, errors.Join(errs...))
	}
	return nil
}

// Apply returns d with the override for its handler name applied.
func (m *Manifest) Apply(d script.Decl, path string) script.Decl {
	o, ok := m.Handlers[d.HandlerName(path)]
	if !ok {
		return d
	}
	if o.Priority != nil {
		d.Priority = event.Priority(*o.Priority)
	}
	if o.Enabled != nil {
		d.Enabled = *o.Enabled
	}
	if o.Depends != nil {
		d.Dependencies = o.Depends
	}
	return d
}
