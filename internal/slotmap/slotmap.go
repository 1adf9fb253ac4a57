// Package slotmap implements the slot-ownership table (C2): an
// ordered, non-overlapping sequence of slot ranges, each owning a
// primary address, resolved by binary search.
package slotmap

import (
	"fmt"
	"sort"

	"clustergate/internal/registry"
)

// Slot is one ownership range. Gaps between slots are tolerated and
// treated as unknown ownership.
type Slot struct {
	Start   uint16
	End     uint16
	Primary registry.Address
}

// Map is an immutable, sorted-by-Start slot table. The zero value is an
// empty map. Map is a value type so replacing the active map (C5's job)
// is a single pointer swap from the caller's point of view — no
// in-place mutation is ever visible to a concurrent reader.
type Map struct {
	slots []Slot
}

// Build validates and sorts raw into a Map. It rejects overlapping
// ranges; callers should keep using their previous Map on error.
func Build(raw []Slot) (Map, error) {
	slots := make([]Slot, len(raw))
	copy(slots, raw)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })

	for i, s := range slots {
		if s.Start > s.End {
			return Map{}, fmt.Errorf("slotmap: slot %d has start %d > end %d", i, s.Start, s.End)
		}
		if i > 0 && slots[i-1].End >= s.Start {
			return Map{}, fmt.Errorf("slotmap: overlapping slots [%d-%d] and [%d-%d]",
				slots[i-1].Start, slots[i-1].End, s.Start, s.End)
		}
	}
	return Map{slots: slots}, nil
}

// Resolve finds the owning primary for slot: binary search for the
// last entry with Start <= slot, then check slot <= End.
func (m Map) Resolve(slot uint16) (registry.Address, bool) {
	n := len(m.slots)
	i := sort.Search(n, func(i int) bool { return m.slots[i].Start > slot })
	if i == 0 {
		return "", false
	}
	s := m.slots[i-1]
	if slot > s.End {
		return "", false
	}
	return s.Primary, true
}

// Slots returns a copy of the underlying ordered slice, for inspection
// (status endpoints, tests).
func (m Map) Slots() []Slot {
	out := make([]Slot, len(m.slots))
	copy(out, m.slots)
	return out
}

// Len reports how many ranges the map holds.
func (m Map) Len() int { return len(m.slots) }
