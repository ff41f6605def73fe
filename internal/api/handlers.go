package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/saya"
	"github.com/mattjoyce/saya/internal/scheduler"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ModulesLoaded: len(s.ctrl.Modules()),
		Behaviours:    len(s.ctrl.Behaviours()),
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListModules handles GET /modules.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	resp := ModuleListResponse{
		Loaded:    []ModuleSummary{},
		Available: []string{},
	}
	loaded := make(map[string]bool)
	for _, id := range s.ctrl.Modules() {
		ch, ok := s.ctrl.Channel(id)
		if !ok {
			continue
		}
		loaded[id] = true
		resp.Loaded = append(resp.Loaded, ModuleSummary{
			ID:      id,
			State:   s.ctrl.State(id).String(),
			Name:    ch.Meta.Name,
			Version: ch.Meta.Version,
			Cubes:   len(ch.Cubes()),
		})
	}
	if s.catalog != nil {
		for _, id := range s.catalog.Modules() {
			if !loaded[id] {
				resp.Available = append(resp.Available, id)
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetModule handles GET /modules/{module}.
func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	ch, ok := s.ctrl.Channel(module)
	if !ok {
		s.writeError(w, http.StatusNotFound, "module not loaded")
		return
	}
	respondJSON(w, http.StatusOK, s.moduleDetail(ch))
}

// handleRequireModule handles POST /modules/{module}. Loading an already
// loaded module is a no-op that answers 200.
func (s *Server) handleRequireModule(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")

	var (
		ch      *channel.Channel
		already bool
	)
	err := s.ctrl.Serial(func() error {
		if existing, ok := s.ctrl.Channel(module); ok {
			ch, already = existing, true
			return nil
		}
		var err error
		ch, err = s.ctrl.RequireChannel(r.Context(), module)
		return err
	})
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	respondJSON(w, status, s.moduleDetail(ch))
}

// handleUninstallModule handles DELETE /modules/{module}.
func (s *Server) handleUninstallModule(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")
	if module == channel.MainModule {
		s.writeError(w, http.StatusBadRequest, saya.ErrMainChannel.Error())
		return
	}

	found := false
	err := s.ctrl.Serial(func() error {
		ch, ok := s.ctrl.Channel(module)
		if !ok {
			return nil
		}
		found = true
		return s.ctrl.UninstallChannel(r.Context(), ch)
	})
	if !found {
		s.writeError(w, http.StatusNotFound, "module not loaded")
		return
	}
	if err != nil {
		// The module is gone either way; report what its behaviours failed on.
		s.logger.Warn("module uninstalled with errors", "module", module, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReloadModule handles POST /modules/{module}/reload.
func (s *Server) handleReloadModule(w http.ResponseWriter, r *http.Request) {
	module := chi.URLParam(r, "module")

	var ch *channel.Channel
	err := s.ctrl.Serial(func() error {
		var ok bool
		ch, ok = s.ctrl.Channel(module)
		if !ok {
			return nil
		}
		return s.ctrl.ReloadChannel(r.Context(), ch)
	})
	if ch == nil {
		s.writeError(w, http.StatusNotFound, "module not loaded")
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveReload("api", err)
	}
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.moduleDetail(ch))
}

// handleListBehaviours handles GET /behaviours.
func (s *Server) handleListBehaviours(w http.ResponseWriter, r *http.Request) {
	out := make([]BehaviourInfo, 0)
	for _, b := range s.ctrl.Behaviours() {
		out = append(out, BehaviourInfo{Name: behaviour.Name(b), Managed: behaviour.ManagedCount(b)})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleListMounts handles GET /mounts.
func (s *Server) handleListMounts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl.Mounts())
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.Jobs()
	if jobs == nil {
		jobs = []scheduler.JobInfo{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) moduleDetail(ch *channel.Channel) ModuleDetailResponse {
	_, exported := ch.Exported()
	resp := ModuleDetailResponse{
		ID:       ch.Module,
		State:    s.ctrl.State(ch.Module).String(),
		Meta:     ch.Meta,
		Exported: exported,
		Cubes:    []CubeInfo{},
	}
	for _, c := range ch.Cubes() {
		info := CubeInfo{Kind: string(c.Kind()), Live: c.Live()}
		if key, err := c.UniqueKey(); err == nil {
			info.Key = key
		}
		resp.Cubes = append(resp.Cubes, info)
	}
	return resp
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, saya.ErrModuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, loader.ErrModuleDisabled), errors.Is(err, saya.ErrCircularRequire):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
