package config

import "time"

// Config represents the complete saya host configuration.
type Config struct {
	Service     ServiceConfig  `yaml:"service"`
	ModuleRoots []string       `yaml:"module_roots,omitempty"`
	Modules     []string       `yaml:"modules"`
	Mounts      map[string]any `yaml:"mounts,omitempty"`
	API         APIConfig      `yaml:"api,omitempty"`
	Watch       WatchConfig    `yaml:"watch,omitempty"`
	Lock        LockConfig     `yaml:"lock,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name            string        `yaml:"name"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	EventBuffer     int           `yaml:"event_buffer"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// APIConfig defines the admin HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token is an admin bearer token granted every scope.
	Token  string        `yaml:"token,omitempty"`
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig is a scoped bearer token for the admin API.
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WatchConfig defines module directory watching.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// LockConfig defines the PID lock file.
type LockConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "saya",
			LogLevel:        "info",
			LogFormat:       "json",
			EventBuffer:     256,
			ShutdownTimeout: 10 * time.Second,
		},
		Mounts: make(map[string]any),
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 500 * time.Millisecond,
		},
		Lock: LockConfig{
			Path: "./data/saya.lock",
		},
	}
}
