package evaluator

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/parameters"
	"github.com/skywatch/skywatch/internal/types"
)

func TestCompare(t *testing.T) {
	a, b := 0.1, 0.2
	tests := []struct {
		observed  float64
		op        types.Operator
		threshold float64
		want      bool
	}{
		{10, types.OpGreaterEqual, 10, true},
		{9.999, types.OpGreater, 10, false},
		{5, types.OpNotEqual, 5, false},
		{5, types.OpEqual, 5, true},
		{31, types.OpGreater, 30, true},
		{30, types.OpGreater, 30, false},
		{-1, types.OpLess, 0, true},
		{0, types.OpLessEqual, 0, true},
		{a + b, types.OpEqual, 0.3, false},
		{a + b, types.OpNotEqual, 0.3, true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.observed, tt.op, tt.threshold)
		if err != nil {
			t.Fatalf("Compare(%v %s %v) error: %v", tt.observed, tt.op, tt.threshold, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%v %s %v) = %v, want %v", tt.observed, tt.op, tt.threshold, got, tt.want)
		}
	}
}

func TestCompareUnknownOperator(t *testing.T) {
	got, err := Compare(1, "~", 1)
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
	if got {
		t.Fatal("unknown operator must not trigger")
	}
}

func snapshot(values map[string]float64) types.WeatherSnapshot {
	return types.WeatherSnapshot{Location: "tel aviv", ObservedAt: time.Now(), Values: values}
}

func TestEvaluateMissingParameter(t *testing.T) {
	e := NewEvaluator(parameters.MustDefault(), zerolog.Nop())
	alert := types.Alert{ID: "a1", Parameter: "windGust", Operator: types.OpLess, Threshold: 1000}

	for _, snap := range []types.WeatherSnapshot{
		snapshot(map[string]float64{"temperature": 20}),
		snapshot(nil),
	} {
		out := e.Evaluate(alert, snap)
		if out.Triggered || !out.Missing {
			t.Fatalf("expected missing, not triggered; got %+v", out)
		}
	}
}

func TestEvaluateNumericAndCategorical(t *testing.T) {
	e := NewEvaluator(parameters.MustDefault(), zerolog.Nop())

	hot := types.Alert{ID: "a1", Parameter: "temperature", Operator: types.OpGreater, Threshold: 30}
	if out := e.Evaluate(hot, snapshot(map[string]float64{"temperature": 32})); !out.Triggered || out.Observed != 32 {
		t.Fatalf("expected triggered at 32, got %+v", out)
	}
	if out := e.Evaluate(hot, snapshot(map[string]float64{"temperature": 28})); out.Triggered {
		t.Fatalf("expected not triggered at 28, got %+v", out)
	}

	rain := types.Alert{ID: "a2", Parameter: "weatherCode", Operator: types.OpEqual, Threshold: 4001, Units: types.UnitsImperial}
	if out := e.Evaluate(rain, snapshot(map[string]float64{"weatherCode": 4001})); !out.Triggered {
		t.Fatalf("expected categorical match, got %+v", out)
	}
}

func TestEvaluateConvertsUnits(t *testing.T) {
	e := NewEvaluator(parameters.MustDefault(), zerolog.Nop())

	tests := []struct {
		name  string
		alert types.Alert
		value float64
		want  float64
	}{
		{"fahrenheit", types.Alert{Parameter: "temperature", Units: types.UnitsImperial}, 30, 86},
		{"kelvin", types.Alert{Parameter: "temperature", Units: types.UnitsKelvin}, 0, 273.15},
		{"kelvin leaves speed", types.Alert{Parameter: "windSpeed", Units: types.UnitsKelvin}, 10, 10},
		{"mph", types.Alert{Parameter: "windSpeed", Units: types.UnitsImperial}, 10, 22.3694},
		{"miles", types.Alert{Parameter: "visibility", Units: types.UnitsImperial}, 10, 6.21371},
		{"inches per hour", types.Alert{Parameter: "rainIntensity", Units: types.UnitsImperial}, 25.4, 1},
		{"percent untouched", types.Alert{Parameter: "humidity", Units: types.UnitsImperial}, 55, 55},
		{"metric untouched", types.Alert{Parameter: "temperature"}, 30, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.alert.Operator = types.OpGreaterEqual
			out := e.Evaluate(tt.alert, snapshot(map[string]float64{tt.alert.Parameter: tt.value}))
			if math.Abs(out.Observed-tt.want) > 1e-6 {
				t.Fatalf("observed = %v, want %v", out.Observed, tt.want)
			}
		})
	}
}

func TestEvaluateUnknownOperatorNotTriggered(t *testing.T) {
	e := NewEvaluator(parameters.MustDefault(), zerolog.Nop())
	alert := types.Alert{ID: "a1", Parameter: "temperature", Operator: "=>", Threshold: 0}
	if out := e.Evaluate(alert, snapshot(map[string]float64{"temperature": 10})); out.Triggered {
		t.Fatalf("expected not triggered, got %+v", out)
	}
}
