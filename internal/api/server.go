package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/alerter"
	"github.com/skywatch/skywatch/internal/collector"
	"github.com/skywatch/skywatch/internal/grouping"
	"github.com/skywatch/skywatch/internal/logbuffer"
	"github.com/skywatch/skywatch/internal/scheduler"
	"github.com/skywatch/skywatch/internal/store"
	"github.com/skywatch/skywatch/internal/version"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	defaultLogLimit   = 200
)

// CycleStatus exposes the outcome of recent cycles
type CycleStatus interface {
	LastCycle() scheduler.CycleSummary
	CycleCount() int64
}

// CycleTrigger starts cycles on demand and reports runner state
type CycleTrigger interface {
	Trigger() bool
	Scheduled() bool
	Running() bool
	Skipped() int64
	NextRun(now time.Time) time.Time
}

// ProviderHealth reports per-location fetch health
type ProviderHealth interface {
	Health() map[string]collector.LocationHealth
}

// Server provides the read-only ops HTTP API
type Server struct {
	alertEngine *alerter.Engine
	alerts      store.AlertStore
	events      store.EventStore
	logger      zerolog.Logger
	port        string
	startTime   time.Time

	mu        sync.RWMutex
	logBuffer *logbuffer.Buffer
	cycles    CycleStatus
	runner    CycleTrigger
	providers ProviderHealth
	srv       *http.Server
}

// NewServer creates a new API server
func NewServer(alertEngine *alerter.Engine, alerts store.AlertStore, events store.EventStore, logger zerolog.Logger, port string) *Server {
	return &Server{
		alertEngine: alertEngine,
		alerts:      alerts,
		events:      events,
		logger:      logger.With().Str("component", "api").Logger(),
		port:        port,
		startTime:   time.Now(),
	}
}

// SetLogBuffer sets the buffer served by /api/logs
func (s *Server) SetLogBuffer(lb *logbuffer.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logBuffer = lb
}

// SetCycleStatus sets the source of cycle summaries
func (s *Server) SetCycleStatus(cs CycleStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = cs
}

// SetRunner sets the runner used for manual cycles; nil disables /api/run
func (s *Server) SetRunner(r CycleTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = r
}

// SetProviderHealth sets the source of provider health
func (s *Server) SetProviderHealth(p ProviderHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = p
}

// Handler returns the HTTP handler with all routes registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/api/locations", s.handleLocations)
	mux.HandleFunc("/api/triggered", s.handleTriggered)
	mux.HandleFunc("/api/triggered/pending", s.handlePending)
	mux.HandleFunc("/api/providers", s.handleProviders)
	mux.HandleFunc("/api/logs", s.handleLogsAPI)
	mux.HandleFunc("/api/run", s.handleRun)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start serves the API until Shutdown is called
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info().
		Str("address", srv.Addr).
		Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth returns service health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns scheduler state and the last cycle summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	cycles, runner := s.cycles, s.runner
	s.mu.RUnlock()

	now := time.Now().UTC()
	status := map[string]interface{}{
		"scheduler_enabled": runner != nil && runner.Scheduled(),
		"active_alerts":     len(s.alertEngine.GetActiveAlerts()),
		"firing_mode":       s.alertEngine.Mode(),
		"time":              now.Format(time.RFC3339),
		"uptime":            formatDuration(time.Since(s.startTime)),
		"version":           version.Get(),
	}
	if runner != nil {
		status["running"] = runner.Running()
		status["skipped_ticks"] = runner.Skipped()
		if runner.Scheduled() {
			status["next_run"] = runner.NextRun(now).Format(time.RFC3339)
		}
	}
	if cycles != nil {
		status["cycles"] = cycles.CycleCount()
		if cycles.CycleCount() > 0 {
			status["last_cycle"] = cycles.LastCycle()
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleAlerts returns every alert with its trigger status plus the firing view
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.ListAlerts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	active := s.alertEngine.GetActiveAlerts()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
		"firing": active,
	})
}

// handleLocations returns alerts grouped by location as the scheduler sees them
func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	groups, err := s.alerts.LoadAllGroupedByLocation(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	keys := grouping.Keys(groups)
	locations := make([]map[string]interface{}, 0, len(groups))
	for i, g := range groups {
		locations = append(locations, map[string]interface{}{
			"key":       keys[i].String(),
			"location":  g.Location,
			"alert_ids": g.AlertIDs(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"locations": locations,
		"count":     len(locations),
	})
}

// handleTriggered returns the most recent triggered events
func (s *Server) handleTriggered(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.events.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handlePending returns events with undelivered channels
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.ListPending(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handleProviders returns per-location fetch health
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	providers := s.providers
	s.mu.RUnlock()

	list := make([]collector.LocationHealth, 0)
	if providers != nil {
		for _, h := range providers.Health() {
			list = append(list, h)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Location < list[j].Location })

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"locations": list,
		"count":     len(list),
	})
}

// handleLogsAPI returns recent log entries as JSON
func (s *Server) handleLogsAPI(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLogLimit, 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.RLock()
	lb := s.logBuffer
	s.mu.RUnlock()

	entries := []logbuffer.Entry{}
	if lb != nil {
		entries = lb.Recent(limit, r.URL.Query().Get("level"))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleRun starts a cycle immediately
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	s.mu.RLock()
	runner := s.runner
	s.mu.RUnlock()

	if runner == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("no cycle runner configured"))
		return
	}
	if !runner.Trigger() {
		s.writeError(w, http.StatusConflict, errors.New("a cycle is already running"))
		return
	}

	s.logger.Info().
		Str("remote", r.RemoteAddr).
		Msg("Manual cycle triggered")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// parseLimit reads ?limit=, applying a default and an optional cap
func parseLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n, nil
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	if d < 24*time.Hour {
		return d.Round(time.Minute).String()
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, hours)
}
