package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Catalog holds discovered modules indexed by id.
type Catalog struct {
	modules map[string]*Module
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		modules: make(map[string]*Module),
	}
}

// Get retrieves a module by id.
func (c *Catalog) Get(id string) (*Module, bool) {
	m, ok := c.modules[id]
	return m, ok
}

// IDs returns the discovered module ids, sorted.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.modules))
	for id := range c.modules {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Add registers a module in the catalog.
func (c *Catalog) Add(m *Module) error {
	if _, exists := c.modules[m.Module]; exists {
		return fmt.Errorf("module %q already discovered", m.Module)
	}
	c.modules[m.Module] = m
	return nil
}

// Discover scans module roots for module.yaml files.
// Roots are processed in input order; duplicate module ids keep the first discovered module.
// Invalid manifests are logged but not fatal.
func Discover(roots []string, logger func(level, msg string, args ...any)) (*Catalog, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	absRoots, err := resolveRoots(roots)
	if err != nil {
		return nil, err
	}

	catalog := NewCatalog()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != ManifestFilename {
				return nil
			}

			dir := filepath.Dir(path)
			m, err := loadManifest(dir)
			if err != nil {
				logger("warn", "failed to load module manifest", "root", root, "path", dir, "error", err.Error())
				return nil
			}

			if err := catalog.Add(m); err != nil {
				existing, _ := catalog.Get(m.Module)
				logger(
					"warn",
					"duplicate module ignored (keeping first discovered)",
					"module", m.Module,
					"ignored_path", m.Path,
					"kept_path", existing.Path,
				)
				return nil
			}

			logger("info", "discovered module", "module", m.Module, "path", m.Path, "version", m.Version)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan module root %s: %w", root, err)
		}
	}

	return catalog, nil
}

func resolveRoots(roots []string) ([]string, error) {
	absRoots := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve module root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("module root does not exist: %s", absRoot)
			}
			return nil, fmt.Errorf("failed to stat module root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("module root is not a directory: %s", absRoot)
		}
		if _, ok := seen[absRoot]; ok {
			continue
		}
		seen[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	return absRoots, nil
}
