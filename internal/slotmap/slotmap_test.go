package slotmap

import (
	"testing"

	"clustergate/internal/registry"
)

func TestBuildSortsAndResolves(t *testing.T) {
	m, err := Build([]Slot{
		{Start: 8000, End: 16383, Primary: "node-c:7000"},
		{Start: 0, End: 3999, Primary: "node-a:7000"},
		{Start: 4000, End: 7999, Primary: "node-b:7000"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	cases := []struct {
		slot uint16
		want registry.Address
	}{
		{0, "node-a:7000"},
		{3999, "node-a:7000"},
		{4000, "node-b:7000"},
		{7999, "node-b:7000"},
		{8000, "node-c:7000"},
		{16383, "node-c:7000"},
	}
	for _, c := range cases {
		got, ok := m.Resolve(c.slot)
		if !ok || got != c.want {
			t.Errorf("Resolve(%d) = %q, %v; want %q, true", c.slot, got, ok, c.want)
		}
	}
}

func TestResolveUnknownSlotIsGap(t *testing.T) {
	m, err := Build([]Slot{
		{Start: 0, End: 100, Primary: "node-a:7000"},
		{Start: 200, End: 300, Primary: "node-b:7000"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, ok := m.Resolve(150); ok {
		t.Fatalf("slot 150 falls in a gap and must not resolve")
	}
	if _, ok := m.Resolve(0); !ok {
		t.Fatalf("slot 0 should resolve")
	}
}

func TestBuildRejectsOverlap(t *testing.T) {
	_, err := Build([]Slot{
		{Start: 0, End: 100, Primary: "node-a:7000"},
		{Start: 50, End: 150, Primary: "node-b:7000"},
	})
	if err == nil {
		t.Fatalf("overlapping slots must be rejected")
	}
}

func TestBuildRejectsInvertedRange(t *testing.T) {
	_, err := Build([]Slot{{Start: 100, End: 50, Primary: "node-a:7000"}})
	if err == nil {
		t.Fatalf("start > end must be rejected")
	}
}

func TestEmptyMapResolvesNothing(t *testing.T) {
	var m Map
	if _, ok := m.Resolve(0); ok {
		t.Fatalf("zero-value Map must resolve nothing")
	}
	if m.Len() != 0 {
		t.Fatalf("zero-value Map should report length 0")
	}
}
