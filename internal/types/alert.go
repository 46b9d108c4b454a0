package types

import (
	"fmt"
	"math"
	"time"
)

// Operator is a comparison operator applied between an observed value and a threshold
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
)

// Operators lists every supported operator
var Operators = []Operator{OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual}

// Valid reports whether op is one of the six supported symbols
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// Units is the unit system an alert threshold is expressed in
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
	UnitsKelvin   Units = "kelvin"
)

// Valid reports whether u is a known unit system. Empty means metric.
func (u Units) Valid() bool {
	switch u {
	case "", UnitsMetric, UnitsImperial, UnitsKelvin:
		return true
	}
	return false
}

// OrDefault returns metric for an empty unit system
func (u Units) OrDefault() Units {
	if u == "" {
		return UnitsMetric
	}
	return u
}

// Status is the trigger status of an alert
type Status string

const (
	StatusNotTriggered Status = "not_triggered"
	StatusTriggered    Status = "triggered"
)

// TriggerStatus is embedded on every alert and rewritten each cycle
type TriggerStatus struct {
	Status      Status    `json:"status" yaml:"status"`
	EvaluatedAt time.Time `json:"evaluated_at" yaml:"evaluated_at"`
}

// Location describes where an alert applies. Lat/Lon are optional and are
// part of the grouping key exactly as stored.
type Location struct {
	Text string   `json:"text" yaml:"text"`
	Lat  *float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty" yaml:"lon,omitempty"`
}

// String renders the location for logs
func (l Location) String() string {
	if l.Lat != nil && l.Lon != nil {
		return fmt.Sprintf("%s (%g,%g)", l.Text, *l.Lat, *l.Lon)
	}
	return l.Text
}

// Alert is a monitoring rule comparing one weather parameter to a threshold
type Alert struct {
	ID            string        `json:"id" yaml:"id"`
	UserID        string        `json:"user_id" yaml:"user_id"`
	Location      Location      `json:"location" yaml:"location"`
	Parameter     string        `json:"parameter" yaml:"parameter"`
	Operator      Operator      `json:"operator" yaml:"operator"`
	Threshold     float64       `json:"threshold" yaml:"threshold"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Units         Units         `json:"units" yaml:"units"`
	TriggerStatus TriggerStatus `json:"trigger_status" yaml:"trigger_status"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at"`
}

// ParameterChecker reports whether a parameter name is registered
type ParameterChecker interface {
	IsValidParameter(name string) bool
}

// Validate checks the alert invariants. The scheduler itself never calls this;
// it is used when alerts are seeded into a store.
func (a Alert) Validate(params ParameterChecker) error {
	if a.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	if a.Location.Text == "" {
		return fmt.Errorf("alert %s: location text is required", a.ID)
	}
	if params != nil && !params.IsValidParameter(a.Parameter) {
		return fmt.Errorf("alert %s: unknown parameter %q", a.ID, a.Parameter)
	}
	if !a.Operator.Valid() {
		return fmt.Errorf("alert %s: unsupported operator %q", a.ID, a.Operator)
	}
	for _, c := range []*float64{a.Location.Lat, a.Location.Lon} {
		if c != nil && (math.IsNaN(*c) || math.IsInf(*c, 0)) {
			return fmt.Errorf("alert %s: coordinates must be finite", a.ID)
		}
	}
	if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) {
		return fmt.Errorf("alert %s: threshold must be finite", a.ID)
	}
	if !a.Units.Valid() {
		return fmt.Errorf("alert %s: unsupported units %q", a.ID, a.Units)
	}
	return nil
}

// LocationGroup is the set of alerts sharing one exact location key.
// Computed every cycle, never persisted.
type LocationGroup struct {
	Location Location `json:"location"`
	Alerts   []Alert  `json:"alerts"`
}

// AlertIDs returns the ids of all alerts in the group
func (g LocationGroup) AlertIDs() []string {
	ids := make([]string, 0, len(g.Alerts))
	for _, a := range g.Alerts {
		ids = append(ids, a.ID)
	}
	return ids
}
