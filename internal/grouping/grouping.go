// Package grouping partitions alerts by their exact stored location so that
// each distinct location is fetched at most once per cycle.
package grouping

import (
	"fmt"
	"math"

	"github.com/skywatch/skywatch/internal/types"
)

// Key is the exact identity of a stored location. Presence of lat/lon is
// part of the key, so "x" without coordinates and "x" at (0,0) differ.
// Coordinates are kept as bit patterns so that NaN matches NaN.
type Key struct {
	Text   string
	HasLat bool
	Lat    uint64
	HasLon bool
	Lon    uint64
}

// KeyOf builds the grouping key for a location
func KeyOf(loc types.Location) Key {
	k := Key{Text: loc.Text}
	if loc.Lat != nil {
		k.HasLat = true
		k.Lat = coordBits(*loc.Lat)
	}
	if loc.Lon != nil {
		k.HasLon = true
		k.Lon = coordBits(*loc.Lon)
	}
	return k
}

// coordBits folds every NaN into one pattern and -0 into 0
func coordBits(v float64) uint64 {
	switch {
	case math.IsNaN(v):
		return math.Float64bits(math.NaN())
	case v == 0:
		return 0
	}
	return math.Float64bits(v)
}

// String renders the key for logs and metrics labels
func (k Key) String() string {
	lat, lon := "-", "-"
	if k.HasLat {
		lat = fmt.Sprintf("%g", math.Float64frombits(k.Lat))
	}
	if k.HasLon {
		lon = fmt.Sprintf("%g", math.Float64frombits(k.Lon))
	}
	return fmt.Sprintf("%s|%s|%s", k.Text, lat, lon)
}

// Group partitions alerts into location groups in first-seen order.
// Every alert lands in exactly one group; no I/O is performed.
func Group(alerts []types.Alert) []types.LocationGroup {
	if len(alerts) == 0 {
		return nil
	}

	index := make(map[Key]int)
	groups := make([]types.LocationGroup, 0)

	for _, alert := range alerts {
		key := KeyOf(alert.Location)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, types.LocationGroup{Location: alert.Location})
		}
		groups[i].Alerts = append(groups[i].Alerts, alert)
	}

	return groups
}

// Keys returns the keys of groups in order
func Keys(groups []types.LocationGroup) []Key {
	out := make([]Key, 0, len(groups))
	for _, g := range groups {
		out = append(out, KeyOf(g.Location))
	}
	return out
}
