package types

import (
	"math"
	"testing"
	"time"
)

type staticParams map[string]bool

func (p staticParams) IsValidParameter(name string) bool { return p[name] }

func TestAlertValidate(t *testing.T) {
	params := staticParams{"temperature": true}
	base := Alert{
		ID:        "a1",
		Location:  Location{Text: "tel aviv"},
		Parameter: "temperature",
		Operator:  OpGreater,
		Threshold: 30,
	}

	tests := []struct {
		name    string
		mutate  func(a *Alert)
		wantErr bool
	}{
		{"valid", func(a *Alert) {}, false},
		{"missing id", func(a *Alert) { a.ID = "" }, true},
		{"missing location", func(a *Alert) { a.Location.Text = "" }, true},
		{"unknown parameter", func(a *Alert) { a.Parameter = "fog" }, true},
		{"bad operator", func(a *Alert) { a.Operator = "=>" }, true},
		{"nan threshold", func(a *Alert) { a.Threshold = math.NaN() }, true},
		{"inf threshold", func(a *Alert) { a.Threshold = math.Inf(1) }, true},
		{"nan latitude", func(a *Alert) { nan := math.NaN(); a.Location.Lat = &nan }, true},
		{"inf longitude", func(a *Alert) { inf := math.Inf(-1); a.Location.Lon = &inf }, true},
		{"finite coordinates", func(a *Alert) { lat, lon := 32.08, 34.78; a.Location.Lat, a.Location.Lon = &lat, &lon }, false},
		{"bad units", func(a *Alert) { a.Units = "rankine" }, true},
		{"kelvin units", func(a *Alert) { a.Units = UnitsKelvin }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base
			tt.mutate(&a)
			err := a.Validate(params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTriggeredEventStartsUnsent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	alert := Alert{ID: "a1", UserID: "u1", Location: Location{Text: "tel aviv"}, Parameter: "temperature", Operator: OpGreater, Threshold: 30}

	evt := NewTriggeredEvent(alert, 32, at, []string{"console", "ops"})

	if evt.CurrentValue != 32 || evt.AlertID != "a1" || !evt.TriggeredAt.Equal(at) {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if len(evt.Notifications) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(evt.Notifications))
	}
	if !evt.Pending() {
		t.Fatal("expected new event to be pending")
	}
}

func TestSnapshotValueMissing(t *testing.T) {
	var s WeatherSnapshot
	if _, ok := s.Value("temperature"); ok {
		t.Fatal("expected missing value on empty snapshot")
	}
	s.Values = map[string]float64{"temperature": 0}
	if v, ok := s.Value("temperature"); !ok || v != 0 {
		t.Fatalf("expected present zero value, got %v %v", v, ok)
	}
}
