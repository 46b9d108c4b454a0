package parameters

import "testing"

func TestDefaultRegistry(t *testing.T) {
	r := MustDefault()

	if got := len(r.Names()); got != 20 {
		t.Fatalf("expected 20 default parameters, got %d", got)
	}
	if r.Names()[0] != "temperature" {
		t.Fatalf("expected temperature first, got %s", r.Names()[0])
	}
	if !r.IsValidParameter("windGust") {
		t.Fatal("expected windGust to be valid")
	}
	if r.IsValidParameter("fogDensity") {
		t.Fatal("expected fogDensity to be invalid")
	}
	if !r.IsCategorical("weatherCode") {
		t.Fatal("expected weatherCode to be categorical")
	}
	if r.IsCategorical("temperature") {
		t.Fatal("expected temperature to be numeric")
	}
}

func TestNewRegistryRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"unnamed", []Definition{{Kind: KindNumeric}}},
		{"duplicate", []Definition{{Name: "a"}, {Name: "a"}}},
		{"bad kind", []Definition{{Name: "a", Kind: "text"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.defs); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewRegistryDefaultsKind(t *testing.T) {
	r, err := NewRegistry([]Definition{{Name: "b", SortOrder: 2}, {Name: "a", SortOrder: 2}})
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	d, ok := r.Lookup("a")
	if !ok || d.Kind != KindNumeric {
		t.Fatalf("expected numeric default kind, got %+v", d)
	}
	names := r.Names()
	if names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected name tiebreak ordering, got %v", names)
	}
}
