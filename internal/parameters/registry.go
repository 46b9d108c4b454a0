// Package parameters holds the registry of weather parameters an alert may
// reference. The registry is built once at startup from configuration.
package parameters

import (
	"fmt"
	"sort"
)

// Kind separates numeric parameters from categorical ones
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// Dimension drives unit conversion for non-metric alerts
type Dimension string

const (
	DimensionNone              Dimension = ""
	DimensionTemperature       Dimension = "temperature"
	DimensionSpeed             Dimension = "speed"
	DimensionDistance          Dimension = "distance"
	DimensionPrecipitationRate Dimension = "precipitation_rate"
	DimensionPressure          Dimension = "pressure"
)

// Definition describes one weather parameter
type Definition struct {
	Name        string    `yaml:"name"`
	DisplayName string    `yaml:"display_name"`
	Category    string    `yaml:"category"`
	Kind        Kind      `yaml:"kind"`
	Dimension   Dimension `yaml:"dimension,omitempty"`
	Unit        string    `yaml:"unit,omitempty"`
	SortOrder   int       `yaml:"sort_order"`
}

// Defaults is the stock parameter set of the Tomorrow.io realtime endpoint
func Defaults() []Definition {
	return []Definition{
		{Name: "temperature", DisplayName: "Temperature", Category: "temperature", Kind: KindNumeric, Dimension: DimensionTemperature, Unit: "°C", SortOrder: 1},
		{Name: "temperatureApparent", DisplayName: "Feels Like Temperature", Category: "temperature", Kind: KindNumeric, Dimension: DimensionTemperature, Unit: "°C", SortOrder: 2},
		{Name: "rainIntensity", DisplayName: "Rain Intensity", Category: "precipitation", Kind: KindNumeric, Dimension: DimensionPrecipitationRate, Unit: "mm/h", SortOrder: 3},
		{Name: "snowIntensity", DisplayName: "Snow Intensity", Category: "precipitation", Kind: KindNumeric, Dimension: DimensionPrecipitationRate, Unit: "mm/h", SortOrder: 4},
		{Name: "sleetIntensity", DisplayName: "Sleet Intensity", Category: "precipitation", Kind: KindNumeric, Dimension: DimensionPrecipitationRate, Unit: "mm/h", SortOrder: 5},
		{Name: "freezingRainIntensity", DisplayName: "Freezing Rain Intensity", Category: "precipitation", Kind: KindNumeric, Dimension: DimensionPrecipitationRate, Unit: "mm/h", SortOrder: 6},
		{Name: "precipitationProbability", DisplayName: "Precipitation Probability", Category: "precipitation", Kind: KindNumeric, Unit: "%", SortOrder: 7},
		{Name: "humidity", DisplayName: "Humidity", Category: "atmospheric", Kind: KindNumeric, Unit: "%", SortOrder: 8},
		{Name: "pressureSurfaceLevel", DisplayName: "Surface Pressure", Category: "atmospheric", Kind: KindNumeric, Dimension: DimensionPressure, Unit: "hPa", SortOrder: 9},
		{Name: "dewPoint", DisplayName: "Dew Point", Category: "atmospheric", Kind: KindNumeric, Dimension: DimensionTemperature, Unit: "°C", SortOrder: 10},
		{Name: "windSpeed", DisplayName: "Wind Speed", Category: "wind", Kind: KindNumeric, Dimension: DimensionSpeed, Unit: "m/s", SortOrder: 11},
		{Name: "windDirection", DisplayName: "Wind Direction", Category: "wind", Kind: KindNumeric, Unit: "°", SortOrder: 12},
		{Name: "windGust", DisplayName: "Wind Gust", Category: "wind", Kind: KindNumeric, Dimension: DimensionSpeed, Unit: "m/s", SortOrder: 13},
		{Name: "cloudCover", DisplayName: "Cloud Cover", Category: "clouds", Kind: KindNumeric, Unit: "%", SortOrder: 14},
		{Name: "cloudBase", DisplayName: "Cloud Base", Category: "clouds", Kind: KindNumeric, Dimension: DimensionDistance, Unit: "km", SortOrder: 15},
		{Name: "cloudCeiling", DisplayName: "Cloud Ceiling", Category: "clouds", Kind: KindNumeric, Dimension: DimensionDistance, Unit: "km", SortOrder: 16},
		{Name: "visibility", DisplayName: "Visibility", Category: "visibility", Kind: KindNumeric, Dimension: DimensionDistance, Unit: "km", SortOrder: 17},
		{Name: "uvIndex", DisplayName: "UV Index", Category: "visibility", Kind: KindNumeric, SortOrder: 18},
		{Name: "uvHealthConcern", DisplayName: "UV Health Concern", Category: "visibility", Kind: KindNumeric, SortOrder: 19},
		{Name: "weatherCode", DisplayName: "Weather Condition", Category: "weather", Kind: KindCategorical, SortOrder: 20},
	}
}

// Registry is an immutable lookup of parameter definitions
type Registry struct {
	byName map[string]Definition
	order  []string
}

// NewRegistry builds a registry, rejecting duplicates and unnamed entries
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("parameter without a name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("parameter %s defined twice", d.Name)
		}
		if d.Kind == "" {
			d.Kind = KindNumeric
		}
		if d.Kind != KindNumeric && d.Kind != KindCategorical {
			return nil, fmt.Errorf("parameter %s: kind must be 'numeric' or 'categorical'", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	sort.SliceStable(r.order, func(i, j int) bool {
		a, b := r.byName[r.order[i]], r.byName[r.order[j]]
		if a.SortOrder == b.SortOrder {
			return a.Name < b.Name
		}
		return a.SortOrder < b.SortOrder
	})
	return r, nil
}

// MustDefault returns the registry of Defaults
func MustDefault() *Registry {
	r, err := NewRegistry(Defaults())
	if err != nil {
		panic(err)
	}
	return r
}

// IsValidParameter reports whether name is registered
func (r *Registry) IsValidParameter(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Lookup returns the definition for name
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// IsCategorical reports whether name is a categorical parameter such as weatherCode
func (r *Registry) IsCategorical(name string) bool {
	d, ok := r.byName[name]
	return ok && d.Kind == KindCategorical
}

// Names returns registered names in sort order
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
