package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dc-monitor/internal/ingest"
	"dc-monitor/internal/metrics"
	"dc-monitor/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	version            = "1.0.0"
	healthCheckTimeout = 2 * time.Second
	defaultAnomalies   = 10
)

type AnalysisSource interface {
	Current() models.AnalysisResult
	Summary() models.AnalysisSummary
}

type AlertService interface {
	ActiveAlerts(limit int) []models.Alert
	RecentAlerts(limit int) []models.Alert
	NotificationStats(window time.Duration) models.NotificationStats
	ResolveAlert(id string) bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router   *mux.Router
	analysis AnalysisSource
	alerts   AlertService
	ingest   ingest.Submitter
	store    Pinger
	logger   *zap.Logger
	now      func() time.Time
}

func NewServer(analysis AnalysisSource, alerts AlertService, sink ingest.Submitter, store Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:   mux.NewRouter(),
		analysis: analysis,
		alerts:   alerts,
		ingest:   sink,
		store:    store,
		logger:   logger.Named("api"),
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/metrics/ingest", s.ingestMetricsHandler).Methods("POST")
	s.router.HandleFunc("/analytics/current", s.getAnalyticsHandler).Methods("GET")
	s.router.HandleFunc("/analytics/summary", s.getSummaryHandler).Methods("GET")
	s.router.HandleFunc("/analytics/anomalies", s.getAnomaliesHandler).Methods("GET")
	s.router.HandleFunc("/alerts", s.getAlertsHandler).Methods("GET")
	s.router.HandleFunc("/alerts/active", s.getActiveAlertsHandler).Methods("GET")
	s.router.HandleFunc("/alerts/stats", s.getAlertStatsHandler).Methods("GET")
	s.router.HandleFunc("/alerts/{id}/resolve", s.resolveAlertHandler).Methods("POST")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	status, code := "healthy", http.StatusOK
	health := map[string]interface{}{
		"timestamp": s.now().UTC(),
		"version":   version,
		"analysis":  s.analysis.Summary().State,
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			health["store_error"] = err.Error()
		}
	}
	health["status"] = status

	s.writeJSON(w, code, health)
	observe(r, code, start)
}

func (s *Server) ingestMetricsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var sample models.MetricSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		observe(r, http.StatusBadRequest, start)
		return
	}

	sample, err := ingest.Prepare(sample, s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		observe(r, http.StatusBadRequest, start)
		return
	}

	// Отправляем снимок в очередь для обработки
	if !s.ingest.Submit(sample) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		observe(r, http.StatusServiceUnavailable, start)
		return
	}
	metrics.SamplesIngested.WithLabelValues("http").Inc()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	observe(r, http.StatusAccepted, start)
}

func (s *Server) getAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, http.StatusOK, s.analysis.Current())
	observe(r, http.StatusOK, start)
}

func (s *Server) getSummaryHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.writeJSON(w, http.StatusOK, s.analysis.Summary())
	observe(r, http.StatusOK, start)
}

func (s *Server) getAnomaliesHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit, ok := queryLimit(r, defaultAnomalies)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		observe(r, http.StatusBadRequest, start)
		return
	}

	anomalies := s.analysis.Current().Anomalies
	if len(anomalies) > limit {
		anomalies = anomalies[len(anomalies)-limit:]
	}

	s.writeJSON(w, http.StatusOK, anomalies)
	observe(r, http.StatusOK, start)
}

func (s *Server) getAlertsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit, ok := queryLimit(r, 0)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		observe(r, http.StatusBadRequest, start)
		return
	}

	s.writeJSON(w, http.StatusOK, s.alerts.RecentAlerts(limit))
	observe(r, http.StatusOK, start)
}

func (s *Server) getActiveAlertsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	limit, ok := queryLimit(r, 0)
	if !ok {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		observe(r, http.StatusBadRequest, start)
		return
	}

	s.writeJSON(w, http.StatusOK, s.alerts.ActiveAlerts(limit))
	observe(r, http.StatusOK, start)
}

func (s *Server) getAlertStatsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			observe(r, http.StatusBadRequest, start)
			return
		}
		window = d
	}

	s.writeJSON(w, http.StatusOK, s.alerts.NotificationStats(window))
	observe(r, http.StatusOK, start)
}

func (s *Server) resolveAlertHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := mux.Vars(r)["id"]

	if !s.alerts.ResolveAlert(id) {
		http.Error(w, "alert not found", http.StatusNotFound)
		observe(r, http.StatusNotFound, start)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
	observe(r, http.StatusOK, start)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func queryLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// observe пишет метрики запроса; endpoint берётся из шаблона маршрута,
// чтобы id алертов не раздували кардинальность.
func observe(r *http.Request, code int, start time.Time) {
	endpoint := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			endpoint = tpl
		}
	}
	metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(code)).Inc()
}

type RunConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Run обслуживает HTTP до отмены ctx, затем корректно гасит сервер.
func (s *Server) Run(ctx context.Context, cfg RunConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Отмена при ошибке прослушивания освобождает горутину остановки
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Server is ready to handle requests", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cancel()
		<-done
		return fmt.Errorf("could not listen on %s: %w", cfg.Addr, err)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}
