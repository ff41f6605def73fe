// Package doctor validates a saya configuration against the module catalog.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/mattjoyce/saya/internal/auth"
	"github.com/mattjoyce/saya/internal/config"
	"github.com/mattjoyce/saya/internal/loader"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Catalog is the module view the doctor checks references against.
// *loader.Loader implements it.
type Catalog interface {
	Modules() []string
	Module(id string) (*loader.Module, bool)
	Registered(id string) bool
}

// Doctor validates configuration against the known modules.
type Doctor struct {
	cfg     *config.Config
	catalog Catalog
}

// New creates a Doctor from a loaded config and module catalog.
func New(cfg *config.Config, catalog Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: catalog}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateModuleRoots(r)
	d.validateModuleRefs(r)
	d.validateDependencies(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnUnusedModules(r)
	d.warnUnknownMounts(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateModuleRoots(r *Result) {
	for i, root := range d.cfg.ModuleRoots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			d.addError(r, "module_roots", fmt.Sprintf("module_roots[%d]", i),
				fmt.Sprintf("module root %q is not a directory", root))
		}
	}
}

// validateModuleRefs checks that configured modules can be required.
func (d *Doctor) validateModuleRefs(r *Result) {
	for i, id := range d.cfg.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		if !d.catalog.Registered(id) {
			if _, ok := d.catalog.Module(id); ok {
				d.addError(r, "module_refs", field,
					fmt.Sprintf("module %q has a manifest but no compiled-in code", id))
			} else {
				d.addError(r, "module_refs", field, fmt.Sprintf("module %q is not known", id))
			}
			continue
		}
		if m, ok := d.catalog.Module(id); ok && m.Disabled {
			d.addError(r, "module_refs", field,
				fmt.Sprintf("module %q is disabled in %s", id, m.Path))
		}
	}
}

// validateDependencies checks manifest dependencies and rejects cycles.
func (d *Doctor) validateDependencies(r *Result) {
	known := make(map[string]bool)
	for _, id := range d.catalog.Modules() {
		known[id] = true
	}

	graph := make(map[string][]string)
	for _, id := range d.catalog.Modules() {
		m, ok := d.catalog.Module(id)
		if !ok {
			continue
		}
		for _, dep := range m.Dependencies {
			if !known[dep] {
				d.addError(r, "dependencies", id,
					fmt.Sprintf("module %q depends on unknown module %q", id, dep))
			}
			graph[id] = append(graph[id], dep)
		}
	}

	visited := make(map[string]int) // 0=unvisited, 1=in-stack, 2=done
	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = 1
		for _, next := range graph[node] {
			if visited[next] == 1 {
				return true
			}
			if visited[next] == 0 && hasCycle(next) {
				return true
			}
		}
		visited[node] = 2
		return false
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if visited[node] == 0 && hasCycle(node) {
			d.addError(r, "dependencies", "",
				fmt.Sprintf("circular dependency detected involving module %q", node))
			break
		}
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Token == "" && len(d.cfg.API.Tokens) == 0 {
		d.addWarning(r, "api", "api", "API enabled but no tokens configured; admin routes are open")
	}
}

var knownScopes = map[string]bool{
	auth.ScopeAll:       true,
	auth.ScopeModulesRO: true,
	auth.ScopeModulesRW: true,
	auth.ScopeEventsRO:  true,
	auth.ScopeMetricsRO: true,
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Tokens {
		for j, scope := range token.Scopes {
			if !knownScopes[scope] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnUnusedModules warns about known modules nothing configured will load.
func (d *Doctor) warnUnusedModules(r *Result) {
	used := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if used[id] {
			return
		}
		used[id] = true
		if m, ok := d.catalog.Module(id); ok {
			for _, dep := range m.Dependencies {
				mark(dep)
			}
		}
	}
	for _, id := range d.cfg.Modules {
		mark(id)
	}

	for _, id := range d.catalog.Modules() {
		if !used[id] {
			d.addWarning(r, "unused", "", fmt.Sprintf("module %q is known but not configured", id))
		}
	}
}

// warnUnknownMounts warns about mount keys whose prefix names no known module.
func (d *Doctor) warnUnknownMounts(r *Result) {
	known := make(map[string]bool)
	for _, id := range d.catalog.Modules() {
		known[id] = true
	}
	keys := make([]string, 0, len(d.cfg.Mounts))
	for key := range d.cfg.Mounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		prefix, _, found := strings.Cut(key, ".")
		if found && !known[prefix] {
			d.addWarning(r, "mounts", "mounts."+key,
				fmt.Sprintf("mount %q is namespaced for unknown module %q", key, prefix))
		}
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about token values still holding ${VAR}.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
	check("api.token", d.cfg.API.Token)
	for i, token := range d.cfg.API.Tokens {
		check(fmt.Sprintf("api.tokens[%d].token", i), token.Token)
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
