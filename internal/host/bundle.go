package host

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptyBundle is returned when a bundle declares no modules.
var ErrEmptyBundle = errors.New("host: bundle has no modules")

// Bundle is a YAML description of a loader and its module sources.
type Bundle struct {
	Name    string         `yaml:"name"`
	Shell   string         `yaml:"shell,omitempty"`
	Entry   string         `yaml:"entry"`
	Modules []BundleModule `yaml:"modules"`
}

// BundleModule is one module source. Source must be a function literal
// matching FactoryFunc.
type BundleModule struct {
	ID      string   `yaml:"id"`
	Imports []string `yaml:"imports,omitempty"`
	Source  string   `yaml:"source"`
}

// LoadBundle reads and parses a bundle file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return ParseBundle(data)
}

// ParseBundle parses bundle YAML.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	if len(b.Modules) == 0 {
		return nil, ErrEmptyBundle
	}
	seen := make(map[string]bool, len(b.Modules))
	for i, m := range b.Modules {
		if m.ID == "" {
			return nil, fmt.Errorf("bundle module %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("bundle module %q declared twice", m.ID)
		}
		seen[m.ID] = true
	}
	if b.Entry == "" {
		b.Entry = b.Modules[0].ID
	}
	if !seen[b.Entry] {
		return nil, fmt.Errorf("bundle entry %q is not a module", b.Entry)
	}
	return &b, nil
}

// Module returns the declared module with the given id.
func (b *Bundle) Module(id string) (BundleModule, bool) {
	for _, m := range b.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return BundleModule{}, false
}

// NewRuntime creates a loader configured with the bundle's name and shell.
func (b *Bundle) NewRuntime(slots *Slots, opts ...Option) *Runtime {
	if b.Shell != "" {
		opts = append([]Option{WithShell(b.Shell)}, opts...)
	}
	return NewRuntime(b.Name, slots, opts...)
}

// Compile compiles one declared module into a factory.
func (m BundleModule) Compile(c Compiler) (*SourceFactory, error) {
	fn, err := c.CompileFactory("splice:module "+m.ID, m.Source, m.Imports)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", m.ID, err)
	}
	return NewFactory(m.Source, fn, m.Imports...), nil
}

// Define compiles every module and defines it on r in declaration order.
func (b *Bundle) Define(r *Runtime, c Compiler) error {
	for _, m := range b.Modules {
		f, err := m.Compile(c)
		if err != nil {
			return err
		}
		r.Define(m.ID, f)
	}
	return nil
}
