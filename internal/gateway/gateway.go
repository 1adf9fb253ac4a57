// Package gateway implements the supervisor (C6): it owns the node
// set, the topology manager, and the router, and exposes a single
// Dispatch entry point that runs as one cooperative goroutine reading
// a mailbox channel — the Go idiom for a single-threaded cooperative
// actor model, grounded on the bootstrap-then-serve shape of
// internal/cluster.ClusterClient.Connect in an earlier node-migration
// tool, generalized from a one-shot connect call into a long-lived
// supervisor with restart support.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clustergate/internal/config"
	"clustergate/internal/logger"
	"clustergate/internal/nodeclient"
	"clustergate/internal/registry"
	"clustergate/internal/resp"
	"clustergate/internal/router"
	"clustergate/internal/telemetry"
	"clustergate/internal/topology"
)

// ErrClosed is returned by Dispatch once the gateway has been shut
// down.
var ErrClosed = errors.New("gateway: closed")

type dispatchRequest struct {
	envelope resp.Value
	reply    chan dispatchResult
}

type dispatchResult struct {
	value resp.Value
	err   error
}

// Gateway is the running supervisor: one mailbox goroutine serializes
// every Dispatch call's SELECT/SEND/INTERPRET work onto the shared
// router/registry/topology state, enforcing a single-writer discipline
// without hand-rolling an actor framework.
type Gateway struct {
	cfg   *config.Config
	nodes *registry.Set
	topo  *topology.Manager
	rtr   *router.Router
	tel   *telemetry.Store

	mailbox chan dispatchRequest
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool

	cancelLoop context.CancelFunc
}

// Start bootstraps node handles for every seed, runs an initial
// topology refresh, and launches the mailbox + background refresh
// goroutines. It returns a ready-to-use Gateway or an error if no seed
// could be reached at all.
func Start(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	nodes := registry.NewSet()
	tel := telemetry.NewStore()

	dial := func(addr registry.Address) (*nodeclient.Client, error) {
		return nodeclient.Dial(nodeclient.Config{
			Addr:     string(addr),
			Password: cfg.Password,
			TLS:      cfg.TLS,
			Timeout:  cfg.DialTimeout,
		})
	}

	topo := topology.New(nodes, dial,
		topology.WithMetrics(&tel.Counters),
		topology.WithRateLimit(rate.Every(cfg.RefreshMinInterval), 1))
	rtr := &router.Router{Nodes: nodes, Slots: topo.Slots, Dial: dial, Stale: topo, Metrics: &tel.Counters}

	g := &Gateway{
		cfg:     cfg,
		nodes:   nodes,
		topo:    topo,
		rtr:     rtr,
		tel:     tel,
		mailbox: make(chan dispatchRequest, 256),
		done:    make(chan struct{}),
	}

	seeds := make([]registry.Address, len(cfg.Seeds))
	for i, s := range cfg.Seeds {
		seeds[i] = registry.Address(s)
	}
	if err := topo.Bootstrap(ctx, seeds); err != nil {
		nodes.CloseAll()
		return nil, fmt.Errorf("gateway: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g.cancelLoop = cancel
	go topo.Loop(loopCtx, cfg.RefreshInterval)
	go g.run()
	go g.tickLoop(loopCtx)

	logger.Console("🚪 gateway started, seeds=%v nodes=%d slots=%d", cfg.Seeds, nodes.Len(), topo.Slots().Len())
	return g, nil
}

// run is the single mailbox goroutine: every Dispatch call funnels
// through here so router state transitions never race each other.
func (g *Gateway) run() {
	for {
		select {
		case req := <-g.mailbox:
			reply, err := g.rtr.Dispatch(req.envelope)
			g.tel.Counters.Dispatches.Add(1)
			if err != nil {
				g.tel.Counters.Errors.Add(1)
			}
			req.reply <- dispatchResult{value: reply, err: err}
		case <-g.done:
			return
		}
	}
}

// tickLoop samples the dispatch counter into the QPS history once a
// second until ctx is done, sharing its lifecycle with the topology
// refresh loop.
func (g *Gateway) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tel.Tick()
		}
	}
}

// Dispatch submits one request envelope and blocks for its reply,
// routing through the gateway's single mailbox goroutine.
func (g *Gateway) Dispatch(ctx context.Context, envelope resp.Value) (resp.Value, error) {
	select {
	case <-g.done:
		return resp.Value{}, ErrClosed
	default:
	}
	req := dispatchRequest{envelope: envelope, reply: make(chan dispatchResult, 1)}
	select {
	case g.mailbox <- req:
	case <-g.done:
		return resp.Value{}, ErrClosed
	case <-ctx.Done():
		return resp.Value{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-g.done:
		return resp.Value{}, router.ErrDisconnected
	case <-ctx.Done():
		return resp.Value{}, ctx.Err()
	}
}

// Telemetry returns the gateway's operating counters and QPS history.
func (g *Gateway) Telemetry() *telemetry.Store { return g.tel }

// Nodes exposes the live node set for status reporting.
func (g *Gateway) Nodes() *registry.Set { return g.nodes }

// Topology exposes the topology manager for status reporting.
func (g *Gateway) Topology() *topology.Manager { return g.topo }

// Restart closes every node handle and re-bootstraps from the
// configured seeds, a reinitialize-from-seeds recovery path for the
// case where every known node has gone unreachable.
func (g *Gateway) Restart(ctx context.Context) error {
	g.nodes.CloseAll()
	seeds := make([]registry.Address, len(g.cfg.Seeds))
	for i, s := range g.cfg.Seeds {
		seeds[i] = registry.Address(s)
	}
	if err := g.topo.Bootstrap(ctx, seeds); err != nil {
		return fmt.Errorf("gateway: restart failed: %w", err)
	}
	logger.Console("🔁 gateway restarted from seeds")
	return nil
}

// Close shuts down the mailbox, stops the background refresh loop, and
// closes every node handle.
func (g *Gateway) Close() error {
	g.closeMu.Lock()
	defer g.closeMu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	close(g.done)
	g.cancelLoop()
	g.nodes.CloseAll()
	return nil
}
