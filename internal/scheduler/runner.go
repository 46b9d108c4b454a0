package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/metrics"
)

// CycleRunner is anything that can run one evaluation cycle
type CycleRunner interface {
	Run(ctx context.Context, trigger string)
}

// ResolveSchedule turns the configured cadence into a cron schedule. A cron
// expression takes precedence over the interval.
func ResolveSchedule(interval time.Duration, expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr != "" {
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
		}
		return sched, nil
	}
	if interval < time.Second {
		return nil, fmt.Errorf("interval must be at least 1s, got %s", interval)
	}
	return cron.Every(interval), nil
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	AllowOverlap bool
	RunOnStart   bool
}

// Runner fires cycles on a fixed cadence. Ticks never block: each cycle
// runs on its own goroutine, and while one is running further ticks are
// skipped unless overlap is allowed.
type Runner struct {
	cycles   CycleRunner
	schedule cron.Schedule
	opts     RunnerOptions
	logger   zerolog.Logger
	cron     *cron.Cron

	busy     atomic.Bool
	active   atomic.Int32
	skipped  atomic.Int64
	inFlight sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewRunner creates a runner for schedule
func NewRunner(cycles CycleRunner, schedule cron.Schedule, opts RunnerOptions, logger zerolog.Logger) *Runner {
	logger = logger.With().Str("component", "runner").Logger()
	cl := cronLogger{logger: logger}
	return &Runner{
		cycles:   cycles,
		schedule: schedule,
		opts:     opts,
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}
}

// Start begins scheduling. It is safe to call Start multiple times.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	r.cron.Schedule(r.schedule, cron.FuncJob(func() {
		r.run(TriggerSchedule)
	}))
	r.cron.Start()

	r.logger.Info().
		Time("next_run", r.schedule.Next(time.Now().UTC())).
		Bool("allow_overlap", r.opts.AllowOverlap).
		Msg("Scheduler started")

	if r.opts.RunOnStart {
		r.launchLocked(TriggerStartup)
	}
}

// Stop stops scheduling new cycles. The returned context is done once every
// in-flight cycle has finished; in-flight cycles are not cancelled.
func (r *Runner) Stop() context.Context {
	r.mu.Lock()
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	var cronDone <-chan struct{}
	if started {
		cronDone = r.cron.Stop().Done()
		r.logger.Info().Msg("Scheduler stopping")
	}
	go func() {
		if cronDone != nil {
			<-cronDone
		}
		r.inFlight.Wait()
		cancel()
	}()
	return ctx
}

// Trigger starts a cycle immediately on its own goroutine. It reports false
// when the runner is stopped or a cycle is already running.
func (r *Runner) Trigger() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	return r.launchLocked(TriggerManual)
}

// Scheduled reports whether the timer is running
func (r *Runner) Scheduled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.stopped
}

// Running reports whether a cycle is in progress
func (r *Runner) Running() bool {
	return r.active.Load() > 0
}

// Skipped returns how many ticks were skipped because a cycle was running
func (r *Runner) Skipped() int64 {
	return r.skipped.Load()
}

// NextRun returns the next scheduled tick after now
func (r *Runner) NextRun(now time.Time) time.Time {
	return r.schedule.Next(now)
}

// launchLocked takes the in-progress guard and starts a cycle on its own
// goroutine. r.mu must be held so that Stop never waits on a half-added cycle.
func (r *Runner) launchLocked(trigger string) bool {
	if !r.acquire(trigger) {
		return false
	}
	r.inFlight.Add(1)
	go func() {
		defer r.inFlight.Done()
		r.execute(trigger)
	}()
	return true
}

// run executes one scheduled tick behind the in-progress guard
func (r *Runner) run(trigger string) {
	if !r.acquire(trigger) {
		return
	}
	r.execute(trigger)
}

// acquire takes the in-progress guard, recording a skip when it is held
func (r *Runner) acquire(trigger string) bool {
	if r.opts.AllowOverlap {
		return true
	}
	if !r.busy.CompareAndSwap(false, true) {
		r.recordSkip(trigger)
		return false
	}
	return true
}

// execute runs a cycle whose guard was already taken by acquire
func (r *Runner) execute(trigger string) {
	if !r.opts.AllowOverlap {
		defer r.busy.Store(false)
	}
	r.active.Add(1)
	defer r.active.Add(-1)
	r.cycles.Run(context.Background(), trigger)
}

func (r *Runner) recordSkip(trigger string) {
	r.skipped.Add(1)
	metrics.RecordCycle("skipped", 0, 0)
	r.logger.Warn().
		Str("trigger", trigger).
		Msg("Previous cycle still running, skipping tick")
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	metrics.PanicsRecovered.WithLabelValues("runner").Inc()
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
