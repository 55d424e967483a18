package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dhanuzh/airefiner/internal/catalog"
	"github.com/Dhanuzh/airefiner/internal/config"
	"github.com/Dhanuzh/airefiner/internal/langdetect"
	"github.com/Dhanuzh/airefiner/internal/provider"
	"github.com/Dhanuzh/airefiner/internal/refiner"
	"github.com/Dhanuzh/airefiner/internal/resilience"
	"github.com/Dhanuzh/airefiner/internal/task"
)

const maxBodyBytes = 1 << 20

// Engine is the subset of *refiner.Engine the API needs.
type Engine interface {
	GetAvailableModels(ctx context.Context) (map[provider.ID][]catalog.ModelDescriptor, error)
	RefreshModels(ctx context.Context) (*catalog.Snapshot, error)
	Snapshot() *catalog.Snapshot
	ResolveModel(ctx context.Context, spec string) (catalog.ModelDescriptor, error)
	RunTask(ctx context.Context, taskID task.ID, desc catalog.ModelDescriptor, text string, taskCtx task.Context) (*refiner.TaskResult, error)
	Detect(text string) langdetect.Result
	Breakers() []resilience.BreakerState
	ResetBreakers()
	Providers() []provider.ID
}

// Server is the HTTP API server
type Server struct {
	engine  Engine
	config  config.ServerConfig
	logger  zerolog.Logger
	version string
	mux     *http.ServeMux
	server  *http.Server
}

// New creates a new API server
func New(engine Engine, cfg config.ServerConfig, logger zerolog.Logger, version string) *Server {
	s := &Server{
		engine:  engine,
		config:  cfg,
		logger:  logger,
		version: version,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	port := s.config.Port
	if port == 0 {
		port = 4097
	}
	hostname := s.config.Host
	if hostname == "" {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s:%d", hostname, port)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.logMiddleware(s.corsMiddleware(s.mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info().Str("addr", s.Addr()).Msg("airefiner API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /models", s.handleListModels)
	s.mux.HandleFunc("POST /run", s.handleRun)
	s.mux.HandleFunc("POST /detect", s.handleDetect)
	s.mux.HandleFunc("GET /breakers", s.handleBreakers)
	s.mux.HandleFunc("POST /breakers/reset", s.handleResetBreakers)
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "ok",
		"version":   s.version,
		"providers": s.engine.Providers(),
	}
	if snap := s.engine.Snapshot(); snap != nil {
		status["models"] = snap.Count()
		status["catalog_fresh"] = snap.Fresh(time.Now()) && !snap.Stale
		status["catalog_stale"] = snap.Stale
	}
	writeJSON(w, http.StatusOK, status)
}

type taskInfo struct {
	ID          task.ID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	out := make([]taskInfo, 0, len(task.All))
	for _, id := range task.All {
		out = append(out, taskInfo{ID: id, Name: id.Name(), Description: id.Description()})
	}
	writeJSON(w, http.StatusOK, out)
}

type modelInfo struct {
	Key         string      `json:"key"`
	Provider    provider.ID `json:"provider"`
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
}

type modelsResponse struct {
	Models    []modelInfo       `json:"models"`
	FetchedAt time.Time         `json:"fetched_at,omitempty"`
	Fresh     bool              `json:"fresh"`
	Stale     bool              `json:"stale,omitempty"`
	Degraded  map[string]string `json:"degraded,omitempty"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var (
		models map[provider.ID][]catalog.ModelDescriptor
		err    error
	)
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		var snap *catalog.Snapshot
		snap, err = s.engine.RefreshModels(r.Context())
		if snap != nil {
			models = snap.Models
		}
	} else {
		models, err = s.engine.GetAvailableModels(r.Context())
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	resp := modelsResponse{Models: []modelInfo{}}
	providerFilter := provider.ID(strings.ToLower(r.URL.Query().Get("provider")))
	for _, d := range catalog.Flatten(models) {
		if providerFilter != "" && d.Provider != providerFilter {
			continue
		}
		resp.Models = append(resp.Models, modelInfo{Key: d.Key(), Provider: d.Provider, ID: d.ID, DisplayName: d.DisplayName})
	}
	if snap := s.engine.Snapshot(); snap != nil {
		resp.FetchedAt = snap.FetchedAt
		resp.Fresh = snap.Fresh(time.Now()) && !snap.Stale
		resp.Stale = snap.Stale
		if len(snap.Degraded) > 0 {
			resp.Degraded = make(map[string]string, len(snap.Degraded))
			for id, derr := range snap.Degraded {
				resp.Degraded[string(id)] = derr.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type runRequest struct {
	Task           string `json:"task"`
	Model          string `json:"model"`
	Text           string `json:"text"`
	PreviousResult string `json:"previous_result,omitempty"`
	PreviousTask   string `json:"previous_task,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID, err := task.Parse(req.Task)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	desc, err := s.engine.ResolveModel(r.Context(), req.Model)
	if err != nil {
		if errors.Is(err, catalog.ErrNoModelsAvailable) {
			s.writeEngineError(w, err)
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	tc := task.Context{TaskID: taskID, PreviousResult: req.PreviousResult}
	if req.PreviousTask != "" {
		if tc.PreviousTaskID, err = task.Parse(req.PreviousTask); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	result, err := s.engine.RunTask(r.Context(), taskID, desc, req.Text, tc)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.engine.Detect(req.Text)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"language":   res.Language,
		"confidence": res.Confidence,
		"level":      langdetect.Level(res.Confidence),
	})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	states := s.engine.Breakers()
	if states == nil {
		states = []resilience.BreakerState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleResetBreakers(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetBreakers()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// writeEngineError maps engine failures onto status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var open *resilience.CircuitOpenError
	switch {
	case errors.Is(err, refiner.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &open):
		if !open.RetryAt.IsZero() {
			if secs := int(time.Until(open.RetryAt).Seconds()) + 1; secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		writeError(w, http.StatusServiceUnavailable, refiner.Friendly(err).Error())
	case errors.Is(err, catalog.ErrNoModelsAvailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		var inv *refiner.InvocationError
		if errors.As(err, &inv) {
			s.logger.Warn().Err(err).Str("provider", string(inv.Provider)).Str("model", inv.Model).Msg("run failed")
			writeErrorBody(w, http.StatusBadGateway, map[string]interface{}{
				"error":    err.Error(),
				"provider": inv.Provider,
				"model":    inv.Model,
				"attempts": inv.Attempts,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorBody(w, status, map[string]interface{}{"error": message})
}

func writeErrorBody(w http.ResponseWriter, status int, body map[string]interface{}) {
	writeJSON(w, status, body)
}
