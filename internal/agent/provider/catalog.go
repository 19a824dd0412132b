package provider

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var catalogData []byte

// Catalog is the embedded backend metadata: canonical model ids and their
// short aliases, per-OS managed install paths, and detection inputs.
type Catalog struct {
	Providers map[string]CatalogEntry `yaml:"providers"`
}

// CatalogEntry describes one backend variant.
type CatalogEntry struct {
	Binary       string         `yaml:"binary"`
	DefaultModel string         `yaml:"default_model"`
	EnvOverride  string         `yaml:"env_override"`
	SettingsFile string         `yaml:"settings_file"`
	Models       []CatalogModel `yaml:"models"`
	InstallPaths OSPaths        `yaml:"install_paths"`

	// ManifestPaths are browser native-messaging manifests for
	// integration variants.
	ManifestPaths OSPaths `yaml:"manifest_paths"`
}

// CatalogModel is one selectable model with its short aliases.
type CatalogModel struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
	Default bool     `yaml:"default"`
}

var (
	catalogOnce sync.Once
	catalog     *Catalog
	catalogErr  error
)

// LoadCatalog parses the embedded catalog once and caches it.
func LoadCatalog() (*Catalog, error) {
	catalogOnce.Do(func() {
		var c Catalog
		if err := yaml.Unmarshal(catalogData, &c); err != nil {
			catalogErr = fmt.Errorf("failed to parse embedded provider catalog: %w", err)
			return
		}
		catalog = &c
	})
	return catalog, catalogErr
}

// Entry returns the catalog entry for a provider name.
func (c *Catalog) Entry(name string) (CatalogEntry, error) {
	entry, ok := c.Providers[name]
	if !ok {
		return CatalogEntry{}, fmt.Errorf("provider %q not in catalog", name)
	}
	return entry, nil
}

// ResolveModel turns user model input into a canonical model id. Routing
// suffixes ("model@backend", "model[1m]") are stripped before alias lookup;
// empty input selects the entry's default; unrecognized ids pass through
// unchanged so newer models work without a catalog update.
func (e CatalogEntry) ResolveModel(input string) string {
	m := strings.TrimSpace(input)
	if m == "" {
		return e.DefaultModel
	}
	if i := strings.Index(m, "["); i > 0 {
		m = m[:i]
	}
	if i := strings.Index(m, "@"); i > 0 {
		m = m[:i]
	}
	for _, model := range e.Models {
		if strings.EqualFold(model.ID, m) {
			return model.ID
		}
		for _, alias := range model.Aliases {
			if strings.EqualFold(alias, m) {
				return model.ID
			}
		}
	}
	return m
}

// ModelIDs lists the canonical model ids in catalog order.
func (e CatalogEntry) ModelIDs() []string {
	ids := make([]string, 0, len(e.Models))
	for _, m := range e.Models {
		ids = append(ids, m.ID)
	}
	return ids
}
