package api

import "github.com/mattjoyce/saya/internal/channel"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ModulesLoaded int    `json:"modules_loaded"`
	Behaviours    int    `json:"behaviours"`
}

// ModuleSummary is one row of GET /modules.
type ModuleSummary struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Cubes   int    `json:"cubes"`
}

// ModuleListResponse is returned by GET /modules.
type ModuleListResponse struct {
	Loaded    []ModuleSummary `json:"loaded"`
	Available []string        `json:"available"`
}

// CubeInfo describes one registered cube.
type CubeInfo struct {
	Kind string `json:"kind"`
	Live bool   `json:"live"`
	Key  string `json:"key,omitempty"`
}

// ModuleDetailResponse is returned by GET /modules/{module} and the mutating module routes.
type ModuleDetailResponse struct {
	ID       string       `json:"id"`
	State    string       `json:"state"`
	Meta     channel.Meta `json:"meta"`
	Exported bool         `json:"exported"`
	Cubes    []CubeInfo   `json:"cubes"`
}

// BehaviourInfo is one row of GET /behaviours.
type BehaviourInfo struct {
	Name    string `json:"name"`
	Managed int    `json:"managed"`
}
