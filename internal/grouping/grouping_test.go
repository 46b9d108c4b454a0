package grouping

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/skywatch/skywatch/internal/types"
)

func fp(v float64) *float64 { return &v }

func alertAt(id, text string, lat, lon *float64) types.Alert {
	return types.Alert{ID: id, Location: types.Location{Text: text, Lat: lat, Lon: lon}}
}

func TestGroupEmpty(t *testing.T) {
	if got := Group(nil); len(got) != 0 {
		t.Fatalf("expected no groups, got %d", len(got))
	}
}

func TestGroupFirstSeenOrder(t *testing.T) {
	alerts := []types.Alert{
		alertAt("1", "tel aviv", nil, nil),
		alertAt("2", "haifa", nil, nil),
		alertAt("3", "tel aviv", nil, nil),
		alertAt("4", "eilat", nil, nil),
	}

	groups := Group(alerts)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	wantOrder := []string{"tel aviv", "haifa", "eilat"}
	for i, want := range wantOrder {
		if groups[i].Location.Text != want {
			t.Fatalf("group %d: expected %s, got %s", i, want, groups[i].Location.Text)
		}
	}
	if ids := groups[0].AlertIDs(); len(ids) != 2 || ids[0] != "1" || ids[1] != "3" {
		t.Fatalf("unexpected tel aviv members: %v", ids)
	}
}

func TestGroupKeysOnExactCoordinates(t *testing.T) {
	alerts := []types.Alert{
		alertAt("1", "tel aviv", fp(32.08), fp(34.78)),
		alertAt("2", "tel aviv", fp(32.08), fp(34.78)),
		alertAt("3", "tel aviv", fp(32.0801), fp(34.78)),
		alertAt("4", "tel aviv", nil, nil),
		alertAt("5", "Tel Aviv", nil, nil),
		alertAt("6", "tel aviv", fp(0), fp(0)),
	}

	groups := Group(alerts)
	if len(groups) != 5 {
		t.Fatalf("expected 5 groups, got %d: %v", len(groups), Keys(groups))
	}
	if len(groups[0].Alerts) != 2 {
		t.Fatalf("expected identical coordinates to share a group, got %d", len(groups[0].Alerts))
	}
}

func TestGroupIsPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	texts := []string{"a", "b", "c", "d"}
	coords := []*float64{nil, fp(1), fp(2)}

	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		alerts := make([]types.Alert, 0, n)
		for i := 0; i < n; i++ {
			alerts = append(alerts, alertAt(
				fmt.Sprintf("%d-%d", round, i),
				texts[rng.Intn(len(texts))],
				coords[rng.Intn(len(coords))],
				coords[rng.Intn(len(coords))],
			))
		}

		groups := Group(alerts)

		seen := make(map[string]int)
		keys := make(map[Key]bool)
		for _, g := range groups {
			k := KeyOf(g.Location)
			if keys[k] {
				t.Fatalf("round %d: key %s appears in two groups", round, k)
			}
			keys[k] = true
			for _, a := range g.Alerts {
				if KeyOf(a.Location) != k {
					t.Fatalf("round %d: alert %s in wrong group", round, a.ID)
				}
				seen[a.ID]++
			}
		}
		if len(seen) != len(alerts) {
			t.Fatalf("round %d: union has %d alerts, input %d", round, len(seen), len(alerts))
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("round %d: alert %s appears %d times", round, id, count)
			}
		}
	}
}

func TestGroupNonFiniteAndSignedZeroCoordinates(t *testing.T) {
	alerts := []types.Alert{
		alertAt("1", "x", fp(math.NaN()), fp(math.NaN())),
		alertAt("2", "x", fp(math.NaN()), fp(math.NaN())),
		alertAt("3", "y", fp(0), fp(1)),
		alertAt("4", "y", fp(math.Copysign(0, -1)), fp(1)),
	}

	groups := Group(alerts)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %v", len(groups), Keys(groups))
	}
	if len(groups[0].Alerts) != 2 || len(groups[1].Alerts) != 2 {
		t.Fatalf("unexpected group sizes %d and %d", len(groups[0].Alerts), len(groups[1].Alerts))
	}
	if got := groups[0].Alerts[0].ID; got != "1" {
		t.Fatalf("expected first-seen order, got %s", got)
	}
}

func TestKeyString(t *testing.T) {
	if got := KeyOf(types.Location{Text: "x"}).String(); got != "x|-|-" {
		t.Fatalf("unexpected key string %q", got)
	}
	if got := KeyOf(types.Location{Text: "x", Lat: fp(1.5), Lon: fp(-2)}).String(); got != "x|1.5|-2" {
		t.Fatalf("unexpected key string %q", got)
	}
}
