package topology

import (
	"context"
	"errors"
	"testing"

	"clustergate/internal/nodeclient"
	"clustergate/internal/registry"
	"clustergate/internal/resp"
	"clustergate/internal/telemetry"
)

func slotRow(start, end int64, host string, port int64) resp.Value {
	return resp.Array(
		resp.Integer(start),
		resp.Integer(end),
		resp.Array(resp.BulkString([]byte(host)), resp.Integer(port)),
	)
}

func TestParseClusterSlots(t *testing.T) {
	reply := resp.Array(
		slotRow(0, 5460, "10.0.0.1", 7000),
		slotRow(5461, 10922, "10.0.0.2", 7000),
		slotRow(10923, 16383, "10.0.0.3", 7000),
	)

	slots, err := parseClusterSlots(reply)
	if err != nil {
		t.Fatalf("parseClusterSlots: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slot rows, got %d", len(slots))
	}
	if slots[0].Primary != registry.Address("10.0.0.1:7000") {
		t.Fatalf("unexpected primary for first row: %v", slots[0])
	}
	if slots[2].End != 16383 {
		t.Fatalf("expected last row to end at 16383, got %d", slots[2].End)
	}
}

func TestParseClusterSlotsSkipsMalformedRows(t *testing.T) {
	reply := resp.Array(
		slotRow(0, 100, "10.0.0.1", 7000),
		resp.Array(resp.Integer(200)), // malformed: too few elements
		slotRow(300, 400, "10.0.0.2", 7000),
	)

	slots, err := parseClusterSlots(reply)
	if err != nil {
		t.Fatalf("parseClusterSlots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected malformed row to be skipped, got %d rows", len(slots))
	}
}

func TestParseClusterSlotsRejectsNonArray(t *testing.T) {
	if _, err := parseClusterSlots(resp.SimpleString("OK")); err == nil {
		t.Fatalf("expected an error for a non-array reply")
	}
}

func TestManagerMarkStaleSetsFlag(t *testing.T) {
	m := New(registry.NewSet(), func(addr registry.Address) (*nodeclient.Client, error) {
		return nil, errors.New("not reachable in this test")
	})
	if m.Stale() {
		t.Fatalf("a freshly built Manager should not start stale")
	}
	m.MarkStale()
	if !m.Stale() {
		t.Fatalf("MarkStale should set the stale flag")
	}
}

func TestManagerMarkStaleCountsOnlyGenuineTransitions(t *testing.T) {
	var counters telemetry.Counters
	m := New(registry.NewSet(), func(addr registry.Address) (*nodeclient.Client, error) {
		return nil, errors.New("not reachable in this test")
	}, WithMetrics(&counters))

	m.MarkStale()
	m.MarkStale()
	m.MarkStale()
	if got := counters.StaleTransitions.Load(); got != 1 {
		t.Fatalf("expected exactly one counted transition across repeated MarkStale calls, got %d", got)
	}
}

func TestManagerRefreshCountsFailureWhenNoNodes(t *testing.T) {
	var counters telemetry.Counters
	m := New(registry.NewSet(), func(addr registry.Address) (*nodeclient.Client, error) {
		return nil, errors.New("not reachable in this test")
	}, WithMetrics(&counters))

	if err := m.Refresh(context.Background()); err != ErrNoNodes {
		t.Fatalf("expected ErrNoNodes, got %v", err)
	}
	if got := counters.RefreshFailures.Load(); got != 1 {
		t.Fatalf("expected one refresh failure to be counted, got %d", got)
	}
	if got := counters.Refreshes.Load(); got != 0 {
		t.Fatalf("a failed refresh must not count as a success, got %d", got)
	}
}
