package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/saya/internal/channel"
)

// Validate checks a parsed configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.EventBuffer < 0 {
		return fmt.Errorf("service.event_buffer must not be negative")
	}
	if cfg.Service.ShutdownTimeout < 0 {
		return fmt.Errorf("service.shutdown_timeout must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Modules))
	for i, id := range cfg.Modules {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("modules[%d]: id is required", i)
		}
		if id == channel.MainModule {
			return fmt.Errorf("modules[%d]: %q is reserved for the host", i, id)
		}
		if seen[id] {
			return fmt.Errorf("modules[%d]: %q listed twice", i, id)
		}
		seen[id] = true
	}

	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	for i, t := range cfg.API.Tokens {
		if strings.TrimSpace(t.Token) == "" {
			return fmt.Errorf("api.tokens[%d]: token is required", i)
		}
		if len(t.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d]: at least one scope is required", i)
		}
	}

	if cfg.Watch.Enabled && len(cfg.ModuleRoots) == 0 {
		return fmt.Errorf("watch.enabled requires at least one module root")
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	return checkUnresolvedEnvVars(cfg.Mounts, "mounts")
}

// checkUnresolvedEnvVars rejects ${VAR} references left after expansion.
func checkUnresolvedEnvVars(data map[string]any, path string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if envVarPattern.MatchString(v) {
				matches := envVarPattern.FindStringSubmatch(v)
				return fmt.Errorf("%s.%s: environment variable %s is not set", path, key, matches[1])
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, path+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}
