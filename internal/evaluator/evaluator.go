package evaluator

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/skywatch/skywatch/internal/metrics"
	"github.com/skywatch/skywatch/internal/parameters"
	"github.com/skywatch/skywatch/internal/types"
)

// Evaluator compares weather snapshots against alert thresholds
type Evaluator struct {
	registry *parameters.Registry
	logger   zerolog.Logger
}

// Outcome is the result of evaluating one alert against one snapshot
type Outcome struct {
	Triggered bool
	Observed  float64
	Missing   bool
}

// NewEvaluator creates a new condition evaluator
func NewEvaluator(registry *parameters.Registry, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		registry: registry,
		logger:   logger.With().Str("component", "evaluator").Logger(),
	}
}

// Compare applies op between observed and threshold.
//
// "=" and "!=" are literal float equality. Provider values arrive as decimals,
// so 0.1+0.2 style drift can make "=" never match; callers needing tolerance
// should express it as a pair of range alerts.
func Compare(observed float64, op types.Operator, threshold float64) (bool, error) {
	switch op {
	case types.OpGreater:
		return observed > threshold, nil
	case types.OpGreaterEqual:
		return observed >= threshold, nil
	case types.OpLess:
		return observed < threshold, nil
	case types.OpLessEqual:
		return observed <= threshold, nil
	case types.OpEqual:
		return observed == threshold, nil
	case types.OpNotEqual:
		return observed != threshold, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// Evaluate checks a single alert against a snapshot. A parameter absent from
// the snapshot, or an unknown operator, yields a not-triggered outcome.
func (e *Evaluator) Evaluate(alert types.Alert, snapshot types.WeatherSnapshot) Outcome {
	raw, ok := snapshot.Value(alert.Parameter)
	if !ok {
		e.logger.Warn().
			Str("alert_id", alert.ID).
			Str("parameter", alert.Parameter).
			Str("location", snapshot.Location).
			Msg("Parameter missing from snapshot, treating as not triggered")
		metrics.MissingParameterTotal.WithLabelValues(alert.Parameter).Inc()
		return Outcome{Missing: true}
	}

	observed := e.convert(alert, raw)

	triggered, err := Compare(observed, alert.Operator, alert.Threshold)
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("alert_id", alert.ID).
			Msg("Cannot evaluate alert")
		return Outcome{Observed: observed}
	}

	e.logger.Debug().
		Str("alert_id", alert.ID).
		Str("parameter", alert.Parameter).
		Float64("observed", observed).
		Str("operator", string(alert.Operator)).
		Float64("threshold", alert.Threshold).
		Bool("triggered", triggered).
		Msg("Alert evaluated")

	return Outcome{Triggered: triggered, Observed: observed}
}

// convert maps a metric reading into the alert's unit system
func (e *Evaluator) convert(alert types.Alert, value float64) float64 {
	units := alert.Units.OrDefault()
	if units == types.UnitsMetric || e.registry == nil {
		return value
	}
	if e.registry.IsCategorical(alert.Parameter) {
		return value
	}
	def, ok := e.registry.Lookup(alert.Parameter)
	if !ok {
		return value
	}
	return Convert(value, def.Dimension, units)
}

// Convert converts a metric value of the given dimension into units.
// Kelvin only affects temperatures; every other dimension stays metric.
func Convert(value float64, dim parameters.Dimension, units types.Units) float64 {
	switch units.OrDefault() {
	case types.UnitsImperial:
		switch dim {
		case parameters.DimensionTemperature:
			return value*9/5 + 32
		case parameters.DimensionSpeed:
			return value * 2.23694
		case parameters.DimensionDistance:
			return value * 0.621371
		case parameters.DimensionPrecipitationRate:
			return value / 25.4
		case parameters.DimensionPressure:
			return value * 0.02953
		}
	case types.UnitsKelvin:
		if dim == parameters.DimensionTemperature {
			return value + 273.15
		}
	}
	return value
}
