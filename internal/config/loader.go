package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values are layered over
// Defaults, ${VAR} references are expanded from the environment and relative
// paths are resolved against the config file's directory. When a .checksums
// manifest sits next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	// Resolve to absolute path for consistent relative path resolution
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		// Directory provided - look for config.yaml inside
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyIfLocked(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over Defaults after expanding environment references.
// It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if cfg.Mounts == nil {
		cfg.Mounts = make(map[string]any)
	}
	return cfg, nil
}

func resolvePaths(cfg *Config, baseDir string) {
	for i, root := range cfg.ModuleRoots {
		if root != "" && !filepath.IsAbs(root) {
			cfg.ModuleRoots[i] = filepath.Join(baseDir, root)
		}
	}
	if cfg.Lock.Path != "" && !filepath.IsAbs(cfg.Lock.Path) {
		cfg.Lock.Path = filepath.Join(baseDir, cfg.Lock.Path)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		// Look up environment variable
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}
