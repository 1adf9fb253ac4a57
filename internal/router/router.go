// Package router implements the command router (C4): the per-request
// SELECT/SEND/INTERPRET state machine that chooses a node, dispatches
// an envelope, and follows MOVED/ASK redirection under a bounded retry
// count.
//
// Grounded on ClusterClient.Do in an earlier node-migration tool's
// internal/cluster/client.go (the same choose-slot / send / inspect-
// error-prefix / retry-in-a-loop shape). A missing or unresolvable
// slot falls back to random dispatch rather than failing the request
// outright, and ASK's ASKING-then-command pair is sent atomically via
// nodeclient.Client.SendPair so no other router-initiated envelope can
// land on that connection in between the two sends.
package router

import (
	"errors"
	"fmt"

	"clustergate/internal/hashslot"
	"clustergate/internal/nodeclient"
	"clustergate/internal/registry"
	"clustergate/internal/resp"
	"clustergate/internal/slotmap"
	"clustergate/internal/telemetry"
)

// MaxAttempts bounds the number of redirections a single Dispatch will
// follow before returning the latest reply as-is (at most
// MaxAttempts+1 = 17 sends total, counting an ASKING pair as one send).
const MaxAttempts = 16

// ErrNotConnected is returned when no node is reachable to even attempt
// a dispatch.
var ErrNotConnected = errors.New("router: not connected")

// StaleNotifier is implemented by the topology manager; the router
// calls MarkStale whenever it observes a MOVED reply.
type StaleNotifier interface {
	MarkStale()
}

// SlotSource returns the currently installed slot map snapshot. It is
// satisfied by an atomic-pointer-backed accessor so readers never see a
// half-updated table.
type SlotSource func() slotmap.Map

// Dialer opens a new node handle for an address first seen via a
// redirection. It is typically nodeclient.Dial bound to a concrete
// nodeclient.Config; the router passes it to registry.Set.GetOrDial so
// an address already in the set is not dialed again.
type Dialer func(registry.Address) (*nodeclient.Client, error)

// Router is the C4 command router. It holds no per-instance mutable
// state of its own beyond what NodeSet/SlotSource already guard; every
// Dispatch call is an independent state machine over those shared
// structures.
//
// Metrics is optional: a nil Metrics disables counter bookkeeping
// entirely rather than requiring every caller (including tests) to
// supply a Store.
type Router struct {
	Nodes   *registry.Set
	Slots   SlotSource
	Dial    Dialer
	Stale   StaleNotifier
	Metrics *telemetry.Counters
}

type redirectKind int

const (
	redirectNone redirectKind = iota
	redirectMoved
	redirectAsk
)

// Dispatch runs the SELECT -> SEND -> INTERPRET loop for one envelope,
// following MOVED/ASK redirection up to MaxAttempts times.
func (r *Router) Dispatch(envelope resp.Value) (resp.Value, error) {
	addr, client, err := r.selectNode(envelope)
	if err != nil {
		return resp.Value{}, err
	}

	pendingKind := redirectNone
	current := envelope
	attemptCount := 0

	for {
		var reply resp.Value
		var sendErr error

		switch pendingKind {
		case redirectAsk:
			reply, sendErr = client.SendPair(resp.NewCommand("ASKING"), current)
		default:
			reply, sendErr = client.Send(current)
		}

		if sendErr != nil {
			return resp.Value{}, translateNodeErr(sendErr)
		}

		redirect, isRedirect := resp.ParseRedirect(reply)
		if !isRedirect {
			return reply, nil
		}

		// Once MaxAttempts redirections have already been followed, the
		// latest reply is returned as-is instead of following this one
		// too. Total sends across a Dispatch therefore never exceed
		// MaxAttempts+1.
		if attemptCount >= MaxAttempts {
			return reply, nil
		}
		attemptCount++

		switch redirect.Kind {
		case resp.RedirectMoved:
			r.Stale.MarkStale()
			pendingKind = redirectMoved
			if r.Metrics != nil {
				r.Metrics.RedirectsMoved.Add(1)
			}
		case resp.RedirectAsk:
			pendingKind = redirectAsk
			if r.Metrics != nil {
				r.Metrics.RedirectsAsk.Add(1)
			}
		}

		nextAddr := registry.Address(redirect.Addr)
		nextClient, err := r.Nodes.GetOrDial(nextAddr, r.Dial)
		if err != nil {
			return resp.Value{}, translateNodeErr(err)
		}
		addr, client = nextAddr, nextClient
		_ = addr // retained for future logging/telemetry hooks
	}
}

// selectNode implements SELECT: derive a slot from the envelope's key
// and look up its owner; fall back to a uniformly random node on any
// failure of that chain (no key, no slot mapping, or unknown slot).
//
// A key that fails to resolve to a known owner is itself a refresh
// trigger, the same as a MOVED reply: the installed slot map may be
// out of date, so MarkStale nudges the topology manager before the
// random fallback runs.
func (r *Router) selectNode(envelope resp.Value) (registry.Address, *nodeclient.Client, error) {
	if key, ok := hashslot.ExtractKey(envelope); ok {
		slot := hashslot.KeySlot(key)
		if addr, ok := r.Slots().Resolve(slot); ok {
			if client, ok := r.Nodes.Get(addr); ok {
				return addr, client, nil
			}
			// Slot map names a primary we have no handle for yet (should
			// not normally happen post-refresh invariant, but fall
			// through to random dispatch rather than fail outright).
			r.Stale.MarkStale()
		} else {
			r.Stale.MarkStale()
		}
	}

	addr, client, ok := r.Nodes.Random()
	if !ok {
		return "", nil, ErrNotConnected
	}
	return addr, client, nil
}

func translateNodeErr(err error) error {
	var ne *nodeclient.NodeError
	if errors.As(err, &ne) {
		switch ne.Kind {
		case "NotConnected":
			return ErrNotConnected
		case "Disconnected":
			return ErrDisconnected
		}
	}
	return fmt.Errorf("router: %w", err)
}

// ErrDisconnected is returned when a request was submitted to a node
// but the connection died before a reply arrived. Not retried by the
// router.
var ErrDisconnected = errors.New("router: disconnected")
