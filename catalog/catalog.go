// Package catalog resolves the sample group and instrument names tracks
// refer to into concrete assets: sample URLs, base volumes and the static
// per-voice filter stages. A built-in manifest ships embedded; user
// manifests loaded from disk are overlaid on top of it.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/mixtide/mixtide"
)

//go:embed builtin.yml
var builtinFS embed.FS

type (
	// Catalog maps names to sample groups and instrument specs. The zero
	// value is empty; use Builtin or Load.
	Catalog struct {
		groups      map[string]mixtide.SampleGroup
		instruments map[string]mixtide.InstrumentSpec
	}

	manifest struct {
		// BaseURL, when set, prefixes every relative sample URL of the
		// manifest, so a manifest can be moved between hosts by editing
		// one line.
		BaseURL     string                   `yaml:"baseurl,omitempty"`
		Groups      []mixtide.SampleGroup    `yaml:"groups"`
		Instruments []mixtide.InstrumentSpec `yaml:"instruments"`
	}
)

// Builtin returns the catalog from the embedded manifest.
func Builtin() *Catalog {
	c := &Catalog{
		groups:      make(map[string]mixtide.SampleGroup),
		instruments: make(map[string]mixtide.InstrumentSpec),
	}
	data, err := fs.ReadFile(builtinFS, "builtin.yml")
	if err != nil {
		panic(fmt.Errorf("embedded catalog missing: %w", err))
	}
	if err := c.merge(data); err != nil {
		panic(fmt.Errorf("embedded catalog broken: %w", err))
	}
	return c
}

// Load returns the built-in catalog overlaid with the manifest at path. If
// path is a directory, every .yml/.yaml file in it is overlaid, in
// lexical order. Entries with the same name replace earlier ones.
func Load(path string) (*Catalog, error) {
	c := Builtin()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog manifest: %w", err)
	}
	if !info.IsDir() {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
		return c, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yml", ".yaml":
			if err := c.mergeFile(filepath.Join(path, entry.Name())); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Catalog) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog manifest: %w", err)
	}
	if err := c.merge(data); err != nil {
		return fmt.Errorf("catalog manifest %s: %w", path, err)
	}
	return nil
}

func (c *Catalog) merge(data []byte) error {
	var m manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return err
	}
	for _, g := range m.Groups {
		if g.Name == "" {
			return fmt.Errorf("sample group without a name")
		}
		if len(g.URLs) == 0 {
			return fmt.Errorf("sample group %q lists no samples", g.Name)
		}
		if g.Volume == 0 {
			g.Volume = 1
		}
		if m.BaseURL != "" {
			urls := make([]string, len(g.URLs))
			for i, u := range g.URLs {
				urls[i] = resolveURL(m.BaseURL, u)
			}
			g.URLs = urls
		}
		c.groups[g.Name] = g
	}
	for _, in := range m.Instruments {
		if in.Name == "" {
			return fmt.Errorf("instrument without a name")
		}
		c.instruments[in.Name] = in
	}
	return nil
}

func resolveURL(base, ref string) string {
	if strings.Contains(ref, "://") || filepath.IsAbs(ref) {
		return ref
	}
	return strings.TrimRight(base, "/") + "/" + ref
}

func (c *Catalog) SampleGroup(name string) (mixtide.SampleGroup, bool) {
	g, ok := c.groups[name]
	return g, ok
}

func (c *Catalog) Instrument(name string) (mixtide.InstrumentSpec, bool) {
	in, ok := c.instruments[name]
	return in, ok
}

// GroupNames returns the sorted names of all sample groups, for listings.
func (c *Catalog) GroupNames() []string {
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstrumentNames returns the sorted names of all instruments.
func (c *Catalog) InstrumentNames() []string {
	names := make([]string, 0, len(c.instruments))
	for name := range c.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
