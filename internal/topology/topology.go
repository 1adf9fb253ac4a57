// Package topology implements the topology manager (C5): it owns the
// stale flag, drives CLUSTER SLOTS refreshes, and publishes a new
// slotmap.Map snapshot atomically when a refresh succeeds.
//
// Grounded on the seed-then-parse shape of ClusterClient.Connect and
// parseClusterNodes in an earlier node-migration tool's
// internal/cluster/client.go and parser.go, generalized from that
// tool's human-readable CLUSTER NODES text format to CLUSTER SLOTS's
// array-of-rows reply, and from per-line skip-on-error to per-row
// skip-on-error.
package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"clustergate/internal/nodeclient"
	"clustergate/internal/registry"
	"clustergate/internal/resp"
	"clustergate/internal/slotmap"
	"clustergate/internal/telemetry"
)

// ErrNoNodes is returned by Refresh when the registry has no node to
// query CLUSTER SLOTS against.
var ErrNoNodes = errors.New("topology: no nodes available to refresh from")

// Dialer opens a new node handle, shared with router.Dialer's shape.
type Dialer func(registry.Address) (*nodeclient.Client, error)

// Manager owns the slot map snapshot and the stale flag, and drives
// refreshes against the node set. It implements router.StaleNotifier.
type Manager struct {
	nodes *registry.Set
	dial  Dialer

	current atomic.Pointer[slotmap.Map]
	stale   atomic.Bool

	// limiter bounds how often a new refresh round may start even under
	// a redirection storm that calls MarkStale on every dispatch. The
	// single-flight/coalescing guard above is the primary defense; this
	// is additive throttling, not a replacement for it.
	limiter *rate.Limiter

	refreshMu  sync.Mutex
	refreshing bool
	kick       chan struct{}

	metrics *telemetry.Counters
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithRateLimit overrides the default refresh-rate limiter.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(m *Manager) { m.limiter = rate.NewLimiter(r, burst) }
}

// WithMetrics wires a counters block so Refresh and MarkStale record
// their outcomes. Omitting this option leaves metrics disabled.
func WithMetrics(c *telemetry.Counters) Option {
	return func(m *Manager) { m.metrics = c }
}

// New builds a Manager bound to nodes, using dial to open handles for
// newly discovered primaries.
func New(nodes *registry.Set, dial Dialer, opts ...Option) *Manager {
	m := &Manager{
		nodes:   nodes,
		dial:    dial,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		kick:    make(chan struct{}, 1),
	}
	m.current.Store(&slotmap.Map{})
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bootstrap opens a handle per seed address and runs an initial
// Refresh, grounded on ClusterClient.Connect's seed loop. It fails only
// when no seed could be reached; a failed initial Refresh keeps the
// current slot map, marks it stale, and is retried by Loop.
func (m *Manager) Bootstrap(ctx context.Context, seeds []registry.Address) error {
	var firstErr error
	for _, addr := range seeds {
		if _, err := m.nodes.GetOrDial(addr, m.dial); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.nodes.Len() == 0 {
		if firstErr != nil {
			return fmt.Errorf("topology: bootstrap failed: %w", firstErr)
		}
		return errors.New("topology: no seeds provided")
	}
	if err := m.Refresh(ctx); err != nil {
		m.MarkStale()
	}
	return nil
}

// Slots returns the currently installed slot map snapshot. It satisfies
// router.SlotSource when bound as a method value.
func (m *Manager) Slots() slotmap.Map {
	return *m.current.Load()
}

// MarkStale records that the installed slot map may be out of date
// (called by the router whenever it observes a MOVED reply) and
// nudges the refresh loop, coalescing with any pending nudge.
func (m *Manager) MarkStale() {
	wasStale := m.stale.Swap(true)
	if !wasStale && m.metrics != nil {
		m.metrics.StaleTransitions.Add(1)
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Stale reports whether the installed slot map is flagged out of date.
func (m *Manager) Stale() bool { return m.stale.Load() }

// Refresh queries CLUSTER SLOTS against one live node and installs a
// new slot map on success. Only one refresh runs at a time: a call made
// while another is in flight returns nil at once, without waiting for
// or sharing that refresh's result. Refresh does not recheck the stale
// flag itself; a MarkStale that arrives during a refresh leaves a nudge
// queued for Loop, which runs another round after this one.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	if m.refreshing {
		m.refreshMu.Unlock()
		return nil
	}
	m.refreshing = true
	m.refreshMu.Unlock()

	defer func() {
		m.refreshMu.Lock()
		m.refreshing = false
		m.refreshMu.Unlock()
	}()

	if err := m.limiter.Wait(ctx); err != nil {
		m.recordRefreshFailure()
		return err
	}

	addr, client, ok := m.nodes.Random()
	if !ok {
		m.recordRefreshFailure()
		return ErrNoNodes
	}

	reply, err := client.Send(resp.NewCommand("CLUSTER", "SLOTS"))
	if err != nil {
		m.recordRefreshFailure()
		return fmt.Errorf("topology: CLUSTER SLOTS against %s failed: %w", addr, err)
	}

	slots, err := parseClusterSlots(reply)
	if err != nil {
		m.recordRefreshFailure()
		return fmt.Errorf("topology: parsing CLUSTER SLOTS reply: %w", err)
	}

	next, err := slotmap.Build(slots)
	if err != nil {
		// Reject the refresh and keep serving the previous map.
		m.recordRefreshFailure()
		return fmt.Errorf("topology: refusing malformed slot map: %w", err)
	}

	for _, s := range slots {
		if _, err := m.nodes.GetOrDial(s.Primary, m.dial); err != nil {
			// A newly named primary being briefly unreachable does not
			// invalidate the rest of the refresh; the router's random
			// fallback and subsequent refreshes will recover.
			continue
		}
	}

	m.current.Store(&next)
	m.stale.Store(false)
	if m.metrics != nil {
		m.metrics.Refreshes.Add(1)
	}
	return nil
}

func (m *Manager) recordRefreshFailure() {
	if m.metrics != nil {
		m.metrics.RefreshFailures.Add(1)
	}
}

// Loop runs Refresh on a fixed interval and whenever MarkStale nudges
// it, until ctx is done. It is meant to run in its own goroutine,
// started by the gateway supervisor.
func (m *Manager) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Refresh(ctx)
		case <-m.kick:
			_ = m.Refresh(ctx)
		}
	}
}

// parseClusterSlots decodes a CLUSTER SLOTS array reply into slots.
// Each row is [start, end, [host, port, ...], ...replica triples].
// Malformed rows are skipped rather than failing the whole refresh,
// generalizing parseClusterNodes's per-line skip-and-continue shape to
// per-row.
func parseClusterSlots(v resp.Value) ([]slotmap.Slot, error) {
	if v.Kind != resp.KindArray {
		return nil, fmt.Errorf("expected array reply, got %v", v.Kind)
	}
	slots := make([]slotmap.Slot, 0, len(v.Array))
	for _, row := range v.Array {
		s, ok := parseSlotRow(row)
		if !ok {
			continue
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func parseSlotRow(row resp.Value) (slotmap.Slot, bool) {
	if row.Kind != resp.KindArray || len(row.Array) < 3 {
		return slotmap.Slot{}, false
	}
	start, ok := asUint16(row.Array[0])
	if !ok {
		return slotmap.Slot{}, false
	}
	end, ok := asUint16(row.Array[1])
	if !ok {
		return slotmap.Slot{}, false
	}
	primary, ok := parseHostPortTriple(row.Array[2])
	if !ok {
		return slotmap.Slot{}, false
	}
	return slotmap.Slot{Start: start, End: end, Primary: primary}, true
}

func parseHostPortTriple(v resp.Value) (registry.Address, bool) {
	if v.Kind != resp.KindArray || len(v.Array) < 2 {
		return "", false
	}
	hostBytes, ok := v.Array[0].Bytes()
	if !ok || len(hostBytes) == 0 {
		return "", false
	}
	port, ok := asInt64(v.Array[1])
	if !ok {
		return "", false
	}
	return registry.Address(fmt.Sprintf("%s:%d", hostBytes, port)), true
}

func asUint16(v resp.Value) (uint16, bool) {
	n, ok := asInt64(v)
	if !ok || n < 0 || n > 0xffff {
		return 0, false
	}
	return uint16(n), true
}

func asInt64(v resp.Value) (int64, bool) {
	if v.Kind != resp.KindInteger {
		return 0, false
	}
	return v.Int, true
}
