package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/herdctl/herd/pkg/command"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/gpu"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/metrics"
	"github.com/herdctl/herd/pkg/registry"
	"github.com/herdctl/herd/pkg/types"
)

// Server is the JSON control surface over the scheduler registry.
type Server struct {
	registry *registry.Registry
	broker   *events.Broker
	probe    gpu.Probe
	cfg      *types.SchedulerConfig

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer wires the control-plane routes.
func NewServer(reg *registry.Registry, broker *events.Broker, probe gpu.Probe, cfg *types.SchedulerConfig) *Server {
	s := &Server{
		registry: reg,
		broker:   broker,
		probe:    probe,
		cfg:      cfg,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/schedulers", s.startScheduler)
	s.mux.HandleFunc("GET /v1/schedulers", s.listSchedulers)
	s.mux.HandleFunc("GET /v1/schedulers/{mode}/{index}", s.getScheduler)
	s.mux.HandleFunc("DELETE /v1/schedulers/{mode}/{index}", s.stopScheduler)
	s.mux.HandleFunc("DELETE /v1/schedulers/pid/{pid}", s.stopSchedulerByPID)
	s.mux.HandleFunc("GET /v1/gpus", s.listGPUs)
	s.mux.HandleFunc("GET /v1/events", s.listEvents)
	s.mux.HandleFunc("GET /v1/config/{mode}/{index}", s.getConfig)
	s.mux.HandleFunc("GET /v1/history", s.listHistory)
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return instrument(s.mux)
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	apiLogger := log.WithComponent("api")
	apiLogger.Info().Str("addr", addr).Msg("control API listening")
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for idle connections.
func (s *Server) Stop() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
}

type startRequest struct {
	Mode        types.Mode `json:"mode"`
	ConfigIndex int        `json:"config_index"`
}

func (s *Server) startScheduler(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown mode "+string(req.Mode))
		return
	}

	identity := types.Identity{Mode: req.Mode, ConfigIndex: req.ConfigIndex}
	result, err := s.registry.Start(identity, s.cfg)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, command.ErrMalformedBlock),
			errors.Is(err, command.ErrMissingRequiredField),
			errors.Is(err, command.ErrNonIntegerWhereExpect),
			errors.Is(err, config.ErrInvalid):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) listSchedulers(w http.ResponseWriter, r *http.Request) {
	snaps := s.registry.List()
	metrics.UpdateFromSnapshots(snaps)
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) getScheduler(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	snap, err := s.registry.Get(identity)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) stopScheduler(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	if err := s.registry.Stop(identity); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stopSchedulerByPID(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}

	if err := s.registry.StopByPID(pid); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGPUs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.probe.ListDevices()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	snaps := make([]gpu.DeviceSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.probe.Device(id)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeJSON(w, http.StatusOK, []*events.Event{})
		return
	}
	writeJSON(w, http.StatusOK, s.broker.Recent())
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	identity, ok := pathIdentity(w, r)
	if !ok {
		return
	}

	cfg, err := s.registry.Config(identity)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.registry.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []*types.InstanceSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func pathIdentity(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	mode := types.Mode(r.PathValue("mode"))
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown mode "+r.PathValue("mode"))
		return types.Identity{}, false
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config index")
		return types.Identity{}, false
	}
	return types.Identity{Mode: mode, ConfigIndex: index}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		encodeLogger := log.WithComponent("api")
		encodeLogger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// instrument records request counts and latency per method.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
