package api

import "net/http"

type route struct {
	method  string
	path    string
	summary string
	scope   string
	codes   map[string]string
}

var adminRoutes = []route{
	{"get", "/modules", "List loaded and available modules", "modules:ro", map[string]string{"200": "Module list"}},
	{"get", "/modules/{module}", "Describe a loaded module", "modules:ro", map[string]string{"200": "Module detail", "404": "Module not loaded"}},
	{"post", "/modules/{module}", "Require a module", "modules:rw", map[string]string{"200": "Already loaded", "201": "Loaded", "404": "Unknown module", "409": "Disabled or circular", "422": "Load failed"}},
	{"delete", "/modules/{module}", "Uninstall a module", "modules:rw", map[string]string{"204": "Uninstalled", "400": "Main channel", "404": "Module not loaded", "500": "Uninstalled with errors"}},
	{"post", "/modules/{module}/reload", "Reload a module", "modules:rw", map[string]string{"200": "Reloaded", "404": "Module not loaded", "422": "Reload failed; module left unloaded"}},
	{"get", "/behaviours", "List installed behaviours", "modules:ro", map[string]string{"200": "Behaviour list"}},
	{"get", "/mounts", "List mounted keys", "modules:ro", map[string]string{"200": "Mount keys"}},
	{"get", "/jobs", "List scheduled jobs", "modules:ro", map[string]string{"200": "Job list"}},
	{"get", "/events", "Buffered lifecycle events after ?since", "events:ro", map[string]string{"200": "Event list"}},
	{"get", "/events/stream", "Lifecycle events as server-sent events", "events:ro", map[string]string{"200": "Event stream"}},
	{"get", "/metrics", "Prometheus metrics", "metrics:ro", map[string]string{"200": "Metrics exposition"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the admin routes.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and module counts",
				"responses":   map[string]any{"200": map[string]any{"description": "Healthy"}},
			},
		},
	}

	for _, rt := range adminRoutes {
		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		}
		for code, desc := range rt.codes {
			responses[code] = map[string]any{"description": desc}
		}
		operation := map[string]any{
			"operationId": rt.method + " " + rt.path,
			"summary":     rt.summary,
			"tags":        []string{rt.scope},
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{}}},
		}
		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = operation
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Saya Admin API",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
