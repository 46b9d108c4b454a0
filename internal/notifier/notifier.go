package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/metrics"
	"github.com/skywatch/skywatch/internal/store"
	"github.com/skywatch/skywatch/internal/types"
)

const (
	defaultQueueSize   = 256
	defaultWorkers     = 2
	defaultSendTimeout = 10 * time.Second
)

// Notification is a triggered event together with the alert that produced it
type Notification struct {
	Event types.TriggeredEvent
	Alert types.Alert
}

// Channel delivers notifications to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Options configures a Dispatcher
type Options struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher hands notifications to channels asynchronously. Delivery
// failures are logged and never reach the caller.
type Dispatcher struct {
	channels    []Channel
	events      store.EventStore
	queue       chan Notification
	workers     int
	sendTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. events may be nil, in which case
// deliveries are not recorded.
func NewDispatcher(opts Options, channels []Channel, events store.EventStore, logger zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		channels:    channels,
		events:      events,
		queue:       make(chan Notification, opts.QueueSize),
		workers:     opts.Workers,
		sendTimeout: opts.SendTimeout,
		logger:      logger.With().Str("component", "notifier").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ChannelNames returns the configured channel names in order
func (d *Dispatcher) ChannelNames() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Start launches the worker pool
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	d.logger.Info().
		Int("workers", d.workers).
		Strs("channels", d.ChannelNames()).
		Msg("Starting notification dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop stops accepting notifications and waits for queued ones to be sent
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info().Msg("Notification dispatcher stopped")
}

// Notify enqueues a notification. It never blocks and never fails; a full
// queue drops the notification with a warning.
func (d *Dispatcher) Notify(ctx context.Context, evt types.TriggeredEvent, alert types.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().
			Str("event_id", evt.ID).
			Msg("Dispatcher stopped, dropping notification")
		d.recordDropped()
		return
	}

	select {
	case d.queue <- Notification{Event: evt, Alert: alert}:
		metrics.NotificationQueueSize.Set(float64(len(d.queue)))
	default:
		d.logger.Warn().
			Str("event_id", evt.ID).
			Str("alert_id", alert.ID).
			Msg("Notification queue full, dropping notification")
		d.recordDropped()
	}
}

// Redeliver re-enqueues events that still have unsent channels, for
// instance after a restart. It returns the number of events queued.
func (d *Dispatcher) Redeliver(ctx context.Context, alerts store.AlertStore) (int, error) {
	if d.events == nil {
		return 0, nil
	}
	pending, err := d.events.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	byID := make(map[string]types.Alert)
	if alerts != nil {
		list, err := alerts.ListAlerts(ctx)
		if err != nil {
			return 0, fmt.Errorf("load alerts for redelivery: %w", err)
		}
		for _, a := range list {
			byID[a.ID] = a
		}
	}

	for _, evt := range pending {
		alert, ok := byID[evt.AlertID]
		if !ok {
			alert = alertFromEvent(evt)
		}
		d.Notify(ctx, evt, alert)
	}

	d.logger.Info().
		Int("events", len(pending)).
		Msg("Queued pending notifications for redelivery")
	return len(pending), nil
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	log := d.logger.With().Int("worker_id", id).Logger()
	for n := range d.queue {
		metrics.NotificationQueueSize.Set(float64(len(d.queue)))
		d.deliver(log, n)
	}
}

// deliver sends n to every channel that has not yet received it
func (d *Dispatcher) deliver(log zerolog.Logger, n Notification) {
	for _, ch := range d.channels {
		name := ch.Name()
		if delivery, ok := n.Event.Notifications[name]; ok && delivery.Sent {
			continue
		}
		if err := d.send(ch, n); err != nil {
			log.Error().
				Err(err).
				Str("channel", name).
				Str("event_id", n.Event.ID).
				Str("alert_id", n.Alert.ID).
				Msg("Failed to send notification")
			metrics.RecordNotification(name, false)
			continue
		}
		metrics.RecordNotification(name, true)
		log.Info().
			Str("channel", name).
			Str("event_id", n.Event.ID).
			Str("alert_id", n.Alert.ID).
			Msg("Notification sent")

		if d.events == nil || n.Event.ID == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := d.events.MarkNotificationSent(ctx, n.Event.ID, name, d.now())
		cancel()
		if err != nil {
			log.Error().
				Err(err).
				Str("channel", name).
				Str("event_id", n.Event.ID).
				Msg("Failed to record notification delivery")
			metrics.PersistFailuresTotal.WithLabelValues("mark_sent").Inc()
		}
	}
}

// send calls one channel with a timeout, converting panics into errors
func (d *Dispatcher) send(ch Channel, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("channel", ch.Name()).
				Msg("Notification channel panic recovered")
			metrics.PanicsRecovered.WithLabelValues("notifier").Inc()
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	return ch.Send(ctx, n)
}

func (d *Dispatcher) recordDropped() {
	for _, ch := range d.channels {
		metrics.NotificationsTotal.WithLabelValues(ch.Name(), "dropped").Inc()
	}
}

func alertFromEvent(evt types.TriggeredEvent) types.Alert {
	return types.Alert{
		ID:        evt.AlertID,
		UserID:    evt.UserID,
		Location:  types.Location{Text: evt.Location},
		Parameter: evt.Parameter,
		Operator:  evt.Operator,
		Threshold: evt.Threshold,
	}
}

// FormatMessage renders a notification as a title and plain-text body
func FormatMessage(n Notification) (string, string) {
	evt := n.Event
	title := fmt.Sprintf("SkyWatch Alert: %s %s %g in %s", evt.Parameter, evt.Operator, evt.Threshold, evt.Location)

	body := fmt.Sprintf("%s is %g (threshold %s %g)\n\nLocation: %s\nTriggered at: %s",
		evt.Parameter, evt.CurrentValue, evt.Operator, evt.Threshold,
		evt.Location, evt.TriggeredAt.Format(time.RFC3339))
	if n.Alert.Description != "" {
		body = n.Alert.Description + "\n\n" + body
	}
	if n.Alert.Units != "" && n.Alert.Units != types.UnitsMetric {
		body += fmt.Sprintf("\nUnits: %s", n.Alert.Units)
	}
	return title, body
}
