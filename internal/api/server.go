// Package api provides the REST API for ingesting events and running detection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fidde/log_anomaly_detector/internal/detector"
	"github.com/fidde/log_anomaly_detector/internal/metrics"
	"github.com/fidde/log_anomaly_detector/internal/pipeline"
	"github.com/fidde/log_anomaly_detector/internal/storage"
	"github.com/fidde/log_anomaly_detector/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 32 << 20

// Server is the REST API server.
type Server struct {
	store    storage.Storage
	pipeline *pipeline.Pipeline
	detector detector.Config
	logger   *slog.Logger
	router   *chi.Mux
	server   *http.Server
}

// Config holds the dependencies of the API server.
type Config struct {
	Addr     string
	Store    storage.Storage
	Pipeline *pipeline.Pipeline

	// Detector supplies defaults for requests that omit rule parameters
	Detector detector.Config
	Logger   *slog.Logger
}

// PaginationParams contains pagination parameters from query string.
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps a paginated response with metadata.
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// parsePaginationParams extracts pagination parameters from request.
// Defaults: limit=100, offset=0, max_limit=1000
func parsePaginationParams(r *http.Request) PaginationParams {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)

	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > maxLimit {
				limit = maxLimit
			}
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}

// paginateSlice applies pagination to a slice.
func paginateSlice[T any](items []T, params PaginationParams) PaginatedResponse {
	total := len(items)
	start := params.Offset
	end := start + params.Limit

	if start >= total {
		return PaginatedResponse{
			Data:    []T{},
			Total:   total,
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: false,
		}
	}

	if end > total {
		end = total
	}

	return PaginatedResponse{
		Data:    items[start:end],
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: end < total,
	}
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New(cfg.Store, pipeline.Options{Logger: cfg.Logger})
	}

	s := &Server{
		store:    cfg.Store,
		pipeline: cfg.Pipeline,
		detector: cfg.Detector,
		logger:   cfg.Logger,
		router:   chi.NewRouter(),
	}

	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)

		// Stateless detection
		r.Post("/detect", s.detect)

		// Events
		r.Post("/events", s.storeEvents)
		r.Get("/events", s.listEvents)

		// Detection runs
		r.Post("/runs", s.createRun)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)

		r.Get("/anomalies", s.listAnomalies)

		// Admin endpoints
		r.Post("/admin/clear", s.clearAllData)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.router,
	}

	return s
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ruleParams optionally overrides the server's detector defaults.
type ruleParams struct {
	ErrorThreshold *int `json:"error_threshold,omitempty"`

	// TimeWindow is in seconds
	TimeWindow *int `json:"time_window,omitempty"`
}

func (p ruleParams) apply(defaults detector.Config) detector.Config {
	cfg := defaults
	if p.ErrorThreshold != nil {
		cfg.ErrorThreshold = *p.ErrorThreshold
	}
	if p.TimeWindow != nil {
		cfg.TimeWindow = time.Duration(*p.TimeWindow) * time.Second
	}
	return cfg
}

// DetectRequest is the body of POST /api/v1/detect.
type DetectRequest struct {
	Events []models.LogEvent `json:"events"`
	ruleParams
}

// DetectResponse is returned by POST /api/v1/detect.
type DetectResponse struct {
	Anomalies []models.AnomalyRecord `json:"anomalies"`
	Count     int                    `json:"count"`
}

// detect runs the rule over the request body without touching storage.
// POST /api/v1/detect
func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now()
	anomalies, err := detector.Detect(req.Events, req.apply(s.detector))
	if !errors.Is(err, detector.ErrInvalidConfig) {
		metrics.RecordRun(err, len(anomalies), time.Since(started))
	}
	if err != nil {
		s.respondDetectionError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, DetectResponse{
		Anomalies: anomalies,
		Count:     len(anomalies),
	})
}

// storeEvents appends a JSON array of events to storage.
// POST /api/v1/events
func (s *Server) storeEvents(w http.ResponseWriter, r *http.Request) {
	var events []models.LogEvent
	if err := decodeBody(w, r, &events); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := detector.Validate(events); err != nil {
		s.respondDetectionError(w, err)
		return
	}
	// Stored levels are canonical so level filters match aliases and any case.
	for i := range events {
		events[i].Level, _ = models.ParseLevel(string(events[i].Level))
	}

	if err := s.store.StoreEvents(r.Context(), events); err != nil {
		s.logger.Error("storing events failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.RecordIngest(metrics.SourceAPI, len(events))

	s.respondJSON(w, http.StatusAccepted, map[string]int{
		"stored": len(events),
	})
}

// listEvents returns stored events in arrival order.
// Supports ?component=, ?level= and pagination via ?limit=N&offset=M.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := models.EventFilter{Component: r.URL.Query().Get("component")}
	if levelStr := r.URL.Query().Get("level"); levelStr != "" {
		level, err := models.ParseLevel(levelStr)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Level = level
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, paginateSlice(events, parsePaginationParams(r)))
}

// createRun runs detection over all stored events and persists the run.
// POST /api/v1/runs?dispatch=true
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	// The body is optional.
	var params ruleParams
	if err := decodeBody(w, r, &params); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dispatch := false
	if v := r.URL.Query().Get("dispatch"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid dispatch flag %q", v))
			return
		}
		dispatch = parsed
	}

	run, err := s.pipeline.RunStored(r.Context(), params.apply(s.detector), pipeline.RunOptions{Dispatch: dispatch})
	if err != nil {
		s.respondDetectionError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, run)
}

// listRuns returns run summaries, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, paginateSlice(runs, parsePaginationParams(r)))
}

// getRun returns a run with its anomalies and dispatches.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrRunNotFound) {
			s.respondError(w, http.StatusNotFound, "run not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, run)
}

// listAnomalies returns anomalies across all runs, optionally filtered by ?component=.
func (s *Server) listAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.store.ListAnomalies(r.Context(), r.URL.Query().Get("component"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, paginateSlice(anomalies, parsePaginationParams(r)))
}

// clearAllData clears all data from the storage.
// POST /api/v1/admin/clear
func (s *Server) clearAllData(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.logger.Error("clearing storage failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to clear data")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "All data cleared successfully",
	})
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// respondDetectionError maps detector and pipeline errors to status codes.
func (s *Server) respondDetectionError(w http.ResponseWriter, err error) {
	var eventErr *detector.EventError
	switch {
	case errors.As(err, &eventErr):
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error": err.Error(),
			"index": eventErr.Index,
			"field": eventErr.Field,
		})
	case errors.Is(err, detector.ErrInvalidConfig):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("detection request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
