// Package server exposes the admin HTTP surface: alert and job inspection
// plus the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/scheduler"
	"github.com/varo-app/varo/internal/service"
	"github.com/varo-app/varo/internal/watchdog"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varo_http_requests_total",
		Help: "Total admin HTTP requests, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "varo_http_request_duration_seconds",
		Help:    "Latency distribution of admin HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Server wires the watchdog and scheduler into an http.Server.
type Server struct {
	httpServer *http.Server
	watchdog   *watchdog.Watchdog
	scheduler  *scheduler.Scheduler
}

// New builds the admin server on the given listen address.
func New(addr string, w *watchdog.Watchdog, s *scheduler.Scheduler) *Server {
	srv := &Server{watchdog: w, scheduler: s}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", srv.health).Methods("GET")
	r.HandleFunc("/alerts", srv.listAlerts).Methods("GET")
	r.HandleFunc("/alerts/{id}/acknowledge", srv.acknowledgeAlert).Methods("POST")
	r.HandleFunc("/alerts/{id}/resolve", srv.resolveAlert).Methods("POST")
	r.HandleFunc("/jobs", srv.listJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}/trigger", srv.triggerJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/enable", srv.enableJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/disable", srv.disableJob).Methods("POST")

	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	slog.Info("Admin server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/healthz")
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/alerts"))
	defer timer.ObserveDuration()

	filter := service.AlertFilter{
		UserID:   r.URL.Query().Get("user"),
		Status:   model.AlertStatus(r.URL.Query().Get("status")),
		Severity: model.AlertSeverity(r.URL.Query().Get("severity")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "GET", "/alerts")
			return
		}
		filter.Limit = n
	}

	alerts, err := s.watchdog.ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list alerts", "GET", "/alerts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": alerts}, "GET", "/alerts")
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		// An empty body means acknowledge without notes.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	err := s.watchdog.Acknowledge(r.Context(), id, body.Notes)
	switch {
	case errors.Is(err, common.ErrNotFound):
		respondError(w, http.StatusNotFound, "alert not found", "POST", "/alerts/{id}/acknowledge")
	case errors.Is(err, model.ErrAlertResolved):
		respondError(w, http.StatusConflict, "alert already resolved", "POST", "/alerts/{id}/acknowledge")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to acknowledge alert", "POST", "/alerts/{id}/acknowledge")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "acknowledged"}, "POST", "/alerts/{id}/acknowledge")
	}
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.watchdog.Resolve(r.Context(), id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		respondError(w, http.StatusNotFound, "alert not found", "POST", "/alerts/{id}/resolve")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to resolve alert", "POST", "/alerts/{id}/resolve")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"}, "POST", "/alerts/{id}/resolve")
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.scheduler.List()
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs}, "GET", "/jobs")
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.scheduler.Trigger(r.Context(), id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found", "POST", "/jobs/{id}/trigger")
	case errors.Is(err, model.ErrJobDisabled):
		respondError(w, http.StatusConflict, "job is disabled", "POST", "/jobs/{id}/trigger")
	case errors.Is(err, model.ErrJobRunning):
		respondError(w, http.StatusConflict, "job is already running", "POST", "/jobs/{id}/trigger")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to trigger job", "POST", "/jobs/{id}/trigger")
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "triggered"}, "POST", "/jobs/{id}/trigger")
	}
}

func (s *Server) enableJob(w http.ResponseWriter, r *http.Request) {
	s.setJobState(w, r, "/jobs/{id}/enable", s.scheduler.Enable, "enabled")
}

func (s *Server) disableJob(w http.ResponseWriter, r *http.Request) {
	s.setJobState(w, r, "/jobs/{id}/disable", s.scheduler.Disable, "disabled")
}

func (s *Server) setJobState(w http.ResponseWriter, r *http.Request, endpoint string, op func(context.Context, string) error, state string) {
	id := mux.Vars(r)["id"]

	err := op(r.Context(), id)
	switch {
	case errors.Is(err, common.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found", "POST", endpoint)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to update job", "POST", endpoint)
	default:
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "state": state}, "POST", endpoint)
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
