package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skywatch/skywatch/internal/grouping"
	"github.com/skywatch/skywatch/internal/types"
)

// MemoryStore keeps alerts and events in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]types.Alert
	order  []string
	events []types.TriggeredEvent
	index  map[string]int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]types.Alert),
		index:  make(map[string]int),
	}
}

// ListAlerts returns all alerts in insertion order
func (s *MemoryStore) ListAlerts(ctx context.Context) ([]types.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Alert, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyAlert(s.alerts[id]))
	}
	return out, nil
}

// LoadAllGroupedByLocation returns all alerts grouped by exact location
func (s *MemoryStore) LoadAllGroupedByLocation(ctx context.Context) ([]types.LocationGroup, error) {
	alerts, err := s.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	return grouping.Group(alerts), nil
}

// UpdateTriggerStatuses sets the trigger status of the given alerts.
// Unknown ids are ignored.
func (s *MemoryStore) UpdateTriggerStatuses(ctx context.Context, triggeredIDs, notTriggeredIDs []string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	apply := func(ids []string, status types.Status) {
		for _, id := range ids {
			a, ok := s.alerts[id]
			if !ok {
				continue
			}
			a.TriggerStatus = types.TriggerStatus{Status: status, EvaluatedAt: at}
			s.alerts[id] = a
			n++
		}
	}
	apply(triggeredIDs, types.StatusTriggered)
	apply(notTriggeredIDs, types.StatusNotTriggered)
	return n, nil
}

// CreateAlert inserts a new alert
func (s *MemoryStore) CreateAlert(ctx context.Context, alert types.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("create alert: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ID]; exists {
		return fmt.Errorf("alert %s: %w", alert.ID, ErrAlreadyExists)
	}
	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = now
	}
	if alert.TriggerStatus.Status == "" {
		alert.TriggerStatus.Status = types.StatusNotTriggered
	}
	s.alerts[alert.ID] = copyAlert(alert)
	s.order = append(s.order, alert.ID)
	return nil
}

// DeleteAlert removes an alert. Its events are kept.
func (s *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[id]; !exists {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	delete(s.alerts, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Append stores a triggered event
func (s *MemoryStore) Append(ctx context.Context, evt types.TriggeredEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if _, dup := s.index[evt.ID]; dup {
		return "", fmt.Errorf("event %s: %w", evt.ID, ErrAlreadyExists)
	}
	s.index[evt.ID] = len(s.events)
	s.events = append(s.events, copyEvent(evt))
	return evt.ID, nil
}

// MarkNotificationSent flags one channel of an event as delivered
func (s *MemoryStore) MarkNotificationSent(ctx context.Context, eventID, channel string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if _, ok := s.events[i].Notifications[channel]; !ok {
		return fmt.Errorf("event %s channel %s: %w", eventID, channel, ErrNotFound)
	}
	sentAt := at
	s.events[i].Notifications[channel] = types.Delivery{Sent: true, SentAt: &sentAt}
	return nil
}

// ListRecent returns up to limit events, newest first
func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]types.TriggeredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.TriggeredEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, copyEvent(e))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListPending returns events that still have unsent channels
func (s *MemoryStore) ListPending(ctx context.Context) ([]types.TriggeredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.TriggeredEvent
	for _, e := range s.events {
		if e.Pending() {
			out = append(out, copyEvent(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func copyAlert(a types.Alert) types.Alert {
	if a.Location.Lat != nil {
		lat := *a.Location.Lat
		a.Location.Lat = &lat
	}
	if a.Location.Lon != nil {
		lon := *a.Location.Lon
		a.Location.Lon = &lon
	}
	return a
}

func copyEvent(e types.TriggeredEvent) types.TriggeredEvent {
	if e.Notifications != nil {
		n := make(map[string]types.Delivery, len(e.Notifications))
		for k, v := range e.Notifications {
			if v.SentAt != nil {
				t := *v.SentAt
				v.SentAt = &t
			}
			n[k] = v
		}
		e.Notifications = n
	}
	return e
}
