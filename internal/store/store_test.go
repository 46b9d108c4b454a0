package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skywatch/skywatch/internal/types"
)

func fp(v float64) *float64 { return &v }

// runContract exercises the behaviour every backend must share
func runContract(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	seed := []types.Alert{
		{ID: "a1", UserID: "u1", Location: types.Location{Text: "tel aviv"}, Parameter: "temperature", Operator: types.OpGreater, Threshold: 30, CreatedAt: base},
		{ID: "a2", UserID: "u1", Location: types.Location{Text: "haifa", Lat: fp(32.79), Lon: fp(34.98)}, Parameter: "windGust", Operator: types.OpGreaterEqual, Threshold: 20, Units: types.UnitsImperial, CreatedAt: base.Add(time.Second)},
		{ID: "a3", UserID: "u2", Location: types.Location{Text: "tel aviv"}, Parameter: "humidity", Operator: types.OpLess, Threshold: 40, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, a := range seed {
		if err := s.CreateAlert(ctx, a); err != nil {
			t.Fatalf("CreateAlert(%s): %v", a.ID, err)
		}
	}
	if err := s.CreateAlert(ctx, seed[0]); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	alerts, err := s.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
	for _, a := range alerts {
		if a.TriggerStatus.Status != types.StatusNotTriggered {
			t.Fatalf("alert %s: expected not_triggered default, got %q", a.ID, a.TriggerStatus.Status)
		}
	}
	if alerts[1].Location.Lat == nil || *alerts[1].Location.Lat != 32.79 {
		t.Fatalf("expected haifa latitude to round-trip, got %+v", alerts[1].Location)
	}

	groups, err := s.LoadAllGroupedByLocation(ctx)
	if err != nil {
		t.Fatalf("LoadAllGroupedByLocation: %v", err)
	}
	if len(groups) != 2 || len(groups[0].Alerts) != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}

	at := base.Add(5 * time.Minute)
	n, err := s.UpdateTriggerStatuses(ctx, []string{"a1"}, []string{"a2", "a3"}, at)
	if err != nil {
		t.Fatalf("UpdateTriggerStatuses: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows updated, got %d", n)
	}
	if n, err := s.UpdateTriggerStatuses(ctx, nil, nil, at); err != nil || n != 0 {
		t.Fatalf("empty update = %d, %v", n, err)
	}

	alerts, _ = s.ListAlerts(ctx)
	statuses := map[string]types.TriggerStatus{}
	for _, a := range alerts {
		statuses[a.ID] = a.TriggerStatus
	}
	if statuses["a1"].Status != types.StatusTriggered || !statuses["a1"].EvaluatedAt.Equal(at) {
		t.Fatalf("unexpected a1 status %+v", statuses["a1"])
	}
	if statuses["a3"].Status != types.StatusNotTriggered || !statuses["a3"].EvaluatedAt.Equal(at) {
		t.Fatalf("unexpected a3 status %+v", statuses["a3"])
	}

	evt := types.NewTriggeredEvent(alerts[0], 32, at, []string{"log", "kafka"})
	id, err := s.Append(ctx, evt)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated event id")
	}
	older := types.NewTriggeredEvent(alerts[0], 31, base, []string{"log"})
	olderID, err := s.Append(ctx, older)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != id || recent[0].CurrentValue != 32 {
		t.Fatalf("unexpected recent events %+v", recent)
	}
	if len(recent[0].Notifications) != 2 || recent[0].Notifications["log"].Sent {
		t.Fatalf("expected two unsent channels, got %+v", recent[0].Notifications)
	}
	if limited, _ := s.ListRecent(ctx, 1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	sentAt := at.Add(time.Second)
	if err := s.MarkNotificationSent(ctx, id, "log", sentAt); err != nil {
		t.Fatalf("MarkNotificationSent: %v", err)
	}
	if err := s.MarkNotificationSent(ctx, id, "kafka", sentAt); err != nil {
		t.Fatalf("MarkNotificationSent: %v", err)
	}
	if err := s.MarkNotificationSent(ctx, "missing", "log", sentAt); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MarkNotificationSent(ctx, olderID, "sms", sentAt); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound for a channel the event never had, got %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != olderID {
		t.Fatalf("expected only the older event pending, got %+v", pending)
	}

	recent, _ = s.ListRecent(ctx, 10)
	d := recent[0].Notifications["log"]
	if !d.Sent || d.SentAt == nil || !d.SentAt.Equal(sentAt) {
		t.Fatalf("unexpected delivery %+v", d)
	}

	if err := s.DeleteAlert(ctx, "a3"); err != nil {
		t.Fatalf("DeleteAlert: %v", err)
	}
	if err := s.DeleteAlert(ctx, "a3"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if alerts, _ := s.ListAlerts(ctx); len(alerts) != 2 {
		t.Fatalf("expected 2 alerts after delete, got %d", len(alerts))
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateAlert(ctx, types.Alert{ID: "a1", Location: types.Location{Text: "x", Lat: fp(1)}}); err != nil {
		t.Fatal(err)
	}
	alerts, _ := s.ListAlerts(ctx)
	*alerts[0].Location.Lat = 99

	again, _ := s.ListAlerts(ctx)
	if *again[0].Location.Lat != 1 {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestMemoryStoreIgnoresUnknownIDs(t *testing.T) {
	s := NewMemoryStore()
	n, err := s.UpdateTriggerStatuses(context.Background(), []string{"ghost"}, nil, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected 0 rows for unknown ids, got %d %v", n, err)
	}
}
