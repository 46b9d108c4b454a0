// Package scheduler runs evaluation cycles: load alerts, group them by
// location, fetch one snapshot per location, evaluate, persist and notify.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/alerter"
	"github.com/skywatch/skywatch/internal/collector"
	"github.com/skywatch/skywatch/internal/evaluator"
	"github.com/skywatch/skywatch/internal/grouping"
	"github.com/skywatch/skywatch/internal/metrics"
	"github.com/skywatch/skywatch/internal/store"
	"github.com/skywatch/skywatch/internal/telemetry"
	"github.com/skywatch/skywatch/internal/types"
	"golang.org/x/sync/errgroup"
)

const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"

	defaultConcurrency = 4
)

// WeatherProvider fetches the current snapshot for a location
type WeatherProvider interface {
	Fetch(ctx context.Context, location string) (types.WeatherSnapshot, error)
}

// Notifier receives triggered events. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, evt types.TriggeredEvent, alert types.Alert)
	ChannelNames() []string
}

// GroupResult is the outcome of one location group within a cycle
type GroupResult struct {
	Location    string         `json:"location"`
	Alerts      int            `json:"alerts"`
	Triggered   int            `json:"triggered"`
	Events      int            `json:"events"`
	Missing     int            `json:"missing"`
	RowsUpdated int64          `json:"rows_updated"`
	ErrorKind   collector.Kind `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	Err         error          `json:"-"`
}

// CycleSummary describes the most recent completed cycle
type CycleSummary struct {
	Trigger      string        `json:"trigger"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Outcome      string        `json:"outcome"`
	Alerts       int           `json:"alerts"`
	Groups       int           `json:"groups"`
	FailedGroups int           `json:"failed_groups"`
	Triggered    int           `json:"triggered"`
	Events       int           `json:"events"`
	Error        string        `json:"error,omitempty"`
	Results      []GroupResult `json:"results,omitempty"`
}

// Orchestrator executes evaluation cycles
type Orchestrator struct {
	alerts      store.AlertStore
	events      store.EventStore
	provider    WeatherProvider
	evaluator   *evaluator.Evaluator
	engine      *alerter.Engine
	notifier    Notifier
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time

	mu     sync.RWMutex
	last   CycleSummary
	cycles int64
}

// Options configures an Orchestrator
type Options struct {
	// Concurrency bounds how many location groups are processed at once
	Concurrency int
}

// NewOrchestrator creates a cycle orchestrator. notifier may be nil.
func NewOrchestrator(
	alerts store.AlertStore,
	events store.EventStore,
	provider WeatherProvider,
	eval *evaluator.Evaluator,
	engine *alerter.Engine,
	notifier Notifier,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Orchestrator{
		alerts:      alerts,
		events:      events,
		provider:    provider,
		evaluator:   eval,
		engine:      engine,
		notifier:    notifier,
		concurrency: opts.Concurrency,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// LastCycle returns the summary of the most recent cycle
func (o *Orchestrator) LastCycle() CycleSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// CycleCount returns the number of cycles run
func (o *Orchestrator) CycleCount() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cycles
}

// RunCycle runs one scheduled evaluation cycle
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.Run(ctx, TriggerSchedule)
}

// Run executes one cycle. It never returns an error and never panics;
// every failure is logged and reflected in LastCycle.
func (o *Orchestrator) Run(ctx context.Context, trigger string) {
	summary := CycleSummary{Trigger: trigger, StartedAt: o.now()}

	metrics.CyclesInFlight.Inc()
	defer metrics.CyclesInFlight.Dec()

	ctx, span := telemetry.StartCycleSpan(ctx, trigger)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Cycle panic recovered")
			metrics.PanicsRecovered.WithLabelValues("cycle").Inc()
			summary.Outcome = "failed"
			summary.Error = fmt.Sprintf("panic: %v", r)
		}
		summary.FinishedAt = o.now()
		telemetry.EndCycleSpan(span, summary.Groups, summary.FailedGroups, summary.Triggered)
		metrics.RecordCycle(summary.Outcome, summary.FinishedAt.Sub(summary.StartedAt).Seconds(), summary.Groups)

		o.mu.Lock()
		o.last = summary
		o.cycles++
		o.mu.Unlock()
	}()

	alerts, err := o.alerts.ListAlerts(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to load alerts, skipping cycle")
		summary.Outcome = "failed"
		summary.Error = err.Error()
		return
	}

	o.forgetDeleted(alerts)

	groups := grouping.Group(alerts)
	summary.Alerts = len(alerts)
	summary.Groups = len(groups)
	if len(groups) == 0 {
		o.logger.Debug().Msg("No alerts to evaluate")
		summary.Outcome = "empty"
		return
	}

	at := summary.StartedAt
	results := make([]GroupResult, len(groups))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range groups {
		i := i
		g.Go(func() error {
			results[i] = o.safeProcessGroup(ctx, groups[i], at)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			summary.FailedGroups++
		}
		summary.Triggered += r.Triggered
		summary.Events += r.Events
	}
	summary.Results = results
	summary.Outcome = "completed"

	o.logger.Info().
		Str("trigger", trigger).
		Int("alerts", summary.Alerts).
		Int("groups", summary.Groups).
		Int("failed_groups", summary.FailedGroups).
		Int("triggered", summary.Triggered).
		Int("events", summary.Events).
		Dur("duration", o.now().Sub(summary.StartedAt)).
		Msg("Cycle completed")
}

// forgetDeleted drops firing entries for alerts no longer in the store
func (o *Orchestrator) forgetDeleted(alerts []types.Alert) {
	present := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		present[a.ID] = true
	}
	for _, active := range o.engine.GetActiveAlerts() {
		if !present[active.AlertID] {
			o.engine.Forget(active.AlertID)
		}
	}
}

func (o *Orchestrator) safeProcessGroup(ctx context.Context, group types.LocationGroup, at time.Time) (result GroupResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("location", group.Location.String()).
				Msg("Location group panic recovered")
			metrics.PanicsRecovered.WithLabelValues("location_group").Inc()
			result.Err = fmt.Errorf("panic: %v", r)
			result.Error = result.Err.Error()
		}
	}()
	return o.processGroup(ctx, group, at)
}

// processGroup fetches once for the group and evaluates every member alert
func (o *Orchestrator) processGroup(ctx context.Context, group types.LocationGroup, at time.Time) GroupResult {
	result := GroupResult{Location: group.Location.String(), Alerts: len(group.Alerts)}
	log := o.logger.With().Str("location", result.Location).Logger()

	ctx, span := telemetry.StartLocationSpan(ctx, result.Location, len(group.Alerts))

	snapshot, err := o.provider.Fetch(ctx, group.Location.Text)
	if err != nil {
		result.Err = err
		result.Error = err.Error()
		result.ErrorKind = collector.KindOf(err)
		o.logFetchFailure(log, result.ErrorKind, err, group)
		telemetry.EndLocationSpan(span, err, string(result.ErrorKind), 0)
		return result
	}

	var channels []string
	if o.notifier != nil {
		channels = o.notifier.ChannelNames()
	}

	triggeredIDs := make([]string, 0, len(group.Alerts))
	notTriggeredIDs := make([]string, 0, len(group.Alerts))

	for _, alert := range group.Alerts {
		outcome := o.evaluator.Evaluate(alert, snapshot)
		if outcome.Missing {
			result.Missing++
		}

		decision := o.engine.Apply(alert, outcome.Triggered, outcome.Observed, at)
		metrics.AlertsEvaluatedTotal.WithLabelValues(string(decision.Next.Status)).Inc()

		if decision.Next.Status != types.StatusTriggered {
			notTriggeredIDs = append(notTriggeredIDs, alert.ID)
			continue
		}
		triggeredIDs = append(triggeredIDs, alert.ID)
		result.Triggered++

		if !decision.Fire {
			continue
		}

		evt := types.NewTriggeredEvent(alert, outcome.Observed, at, channels)
		if o.events != nil {
			id, err := o.events.Append(ctx, evt)
			if err != nil {
				log.Error().
					Err(err).
					Str("alert_id", alert.ID).
					Msg("Failed to record triggered event")
				metrics.PersistFailuresTotal.WithLabelValues("append_event").Inc()
			} else {
				evt.ID = id
				result.Events++
				metrics.TriggeredEventsTotal.Inc()
			}
		}
		if o.notifier != nil {
			o.notifier.Notify(ctx, evt, alert)
		}
	}

	n, err := o.alerts.UpdateTriggerStatuses(ctx, triggeredIDs, notTriggeredIDs, at)
	if err != nil {
		log.Error().
			Err(err).
			Int("triggered", len(triggeredIDs)).
			Int("not_triggered", len(notTriggeredIDs)).
			Msg("Failed to update trigger statuses")
		metrics.PersistFailuresTotal.WithLabelValues("update_status").Inc()
	} else {
		result.RowsUpdated = n
		metrics.StatusRowsUpdated.Add(float64(n))
	}

	log.Debug().
		Int("alerts", result.Alerts).
		Int("triggered", result.Triggered).
		Int("events", result.Events).
		Int("missing", result.Missing).
		Msg("Location evaluated")

	telemetry.EndLocationSpan(span, nil, "", result.Triggered)
	return result
}

func (o *Orchestrator) logFetchFailure(log zerolog.Logger, kind collector.Kind, err error, group types.LocationGroup) {
	evt := log.Error()
	msg := "Weather fetch failed, skipping location"
	switch kind {
	case collector.KindInvalidLocation:
		evt = log.Warn()
		msg = "Invalid location, skipping"
	case collector.KindRateLimited:
		evt = log.Warn()
		msg = "Weather provider rate limited, skipping location"
	}
	evt.Err(err).
		Str("kind", string(kind)).
		Strs("alert_ids", group.AlertIDs()).
		Msg(msg)
}
