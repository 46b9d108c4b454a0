package alerter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/types"
)

// FiringMode decides when a triggered evaluation produces an event
type FiringMode string

const (
	// FireLevel creates an event on every cycle the condition holds
	FireLevel FiringMode = "level"
	// FireEdge creates an event only on not_triggered -> triggered
	FireEdge FiringMode = "edge"
)

// ParseFiringMode parses a configured mode; empty means level
func ParseFiringMode(s string) (FiringMode, error) {
	switch FiringMode(s) {
	case "", FireLevel:
		return FireLevel, nil
	case FireEdge:
		return FireEdge, nil
	}
	return "", fmt.Errorf("unknown firing mode %q (want 'level' or 'edge')", s)
}

// ShouldFire is the single decision point for event creation
func (m FiringMode) ShouldFire(prev, next types.Status) bool {
	if next != types.StatusTriggered {
		return false
	}
	if m == FireEdge {
		return prev != types.StatusTriggered
	}
	return true
}

// Transition computes the next trigger status. The status mirrors the
// evaluator output and the timestamp is always refreshed.
func Transition(prev types.TriggerStatus, conditionMet bool, at time.Time) types.TriggerStatus {
	next := types.TriggerStatus{Status: types.StatusNotTriggered, EvaluatedAt: at}
	if conditionMet {
		next.Status = types.StatusTriggered
	}
	return next
}

// Decision is the state machine result for one alert in one cycle
type Decision struct {
	Next types.TriggerStatus
	Fire bool
}

// ActiveAlert is an alert this process has seen in the triggered state
type ActiveAlert struct {
	AlertID   string    `json:"alert_id"`
	UserID    string    `json:"user_id"`
	Location  string    `json:"location"`
	Parameter string    `json:"parameter"`
	Since     time.Time `json:"since"`
	LastValue float64   `json:"last_value"`
	LastSeen  time.Time `json:"last_seen"`
}

// Engine applies the trigger state machine and keeps a view of firing alerts
type Engine struct {
	mode         FiringMode
	logger       zerolog.Logger
	activeAlerts map[string]*ActiveAlert
	mu           sync.RWMutex
}

// NewEngine creates a new alert engine
func NewEngine(mode FiringMode, logger zerolog.Logger) *Engine {
	if mode == "" {
		mode = FireLevel
	}
	return &Engine{
		mode:         mode,
		logger:       logger.With().Str("component", "alerter").Logger(),
		activeAlerts: make(map[string]*ActiveAlert),
	}
}

// Mode returns the configured firing mode
func (e *Engine) Mode() FiringMode {
	return e.mode
}

// Apply runs the state machine for one alert. The previous status is the one
// stored on the alert, so decisions survive restarts.
func (e *Engine) Apply(alert types.Alert, conditionMet bool, observed float64, at time.Time) Decision {
	prev := alert.TriggerStatus
	next := Transition(prev, conditionMet, at)
	d := Decision{Next: next, Fire: e.mode.ShouldFire(prev.Status, next.Status)}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, exists := e.activeAlerts[alert.ID]
	switch {
	case next.Status == types.StatusTriggered && exists:
		existing.LastValue = observed
		existing.LastSeen = at
	case next.Status == types.StatusTriggered:
		e.activeAlerts[alert.ID] = &ActiveAlert{
			AlertID:   alert.ID,
			UserID:    alert.UserID,
			Location:  alert.Location.Text,
			Parameter: alert.Parameter,
			Since:     at,
			LastValue: observed,
			LastSeen:  at,
		}
		e.logger.Info().
			Str("alert_id", alert.ID).
			Str("location", alert.Location.Text).
			Str("parameter", alert.Parameter).
			Float64("value", observed).
			Msg("Alert fired")
	case exists:
		delete(e.activeAlerts, alert.ID)
		e.logger.Info().
			Str("alert_id", alert.ID).
			Dur("duration", at.Sub(existing.Since)).
			Msg("Alert resolved")
	}

	return d
}

// Forget drops an alert from the active view, e.g. after it was deleted
func (e *Engine) Forget(alertID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.activeAlerts, alertID)
}

// GetActiveAlerts returns all firing alerts, oldest first
func (e *Engine) GetActiveAlerts() []ActiveAlert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	alerts := make([]ActiveAlert, 0, len(e.activeAlerts))
	for _, a := range e.activeAlerts {
		alerts = append(alerts, *a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Since.Equal(alerts[j].Since) {
			return alerts[i].AlertID < alerts[j].AlertID
		}
		return alerts[i].Since.Before(alerts[j].Since)
	})
	return alerts
}
