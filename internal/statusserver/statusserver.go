// Package statusserver exposes the gateway's slot map, node set, and
// telemetry counters as JSON over HTTP, grounded on the JSON-snapshot
// role of internal/web/server.go's DashboardServer in
// an earlier node-migration tool, with the HTML template rendering and check-task
// management stripped — this repo has no migration/check workflow to
// drive a dashboard, just a status surface.
package statusserver

import (
	"encoding/json"
	"net/http"

	"clustergate/internal/registry"
	"clustergate/internal/telemetry"
	"clustergate/internal/topology"
)

// Sources is the minimal read surface statusserver needs from a
// running gateway; satisfied by *gateway.Gateway without an import
// cycle (gateway depends on statusserver's sibling packages, not the
// other way around).
type Sources interface {
	Nodes() *registry.Set
	Telemetry() *telemetry.Store
	Topology() *topology.Manager
}

// Server serves GET /status as a JSON document.
type Server struct {
	addr string
	src  Sources
}

// New builds a status server bound to addr, reading from src.
func New(addr string, src Sources) *Server {
	return &Server{addr: addr, src: src}
}

type statusResponse struct {
	Nodes     []string           `json:"nodes"`
	Slots     []slotRangeJSON    `json:"slots"`
	Telemetry telemetry.Snapshot `json:"telemetry"`
}

type slotRangeJSON struct {
	Start   uint16 `json:"start"`
	End     uint16 `json:"end"`
	Primary string `json:"primary"`
}

// ListenAndServe starts the HTTP status server; blocks until it fails
// or is shut down via the server's underlying listener being closed.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	return http.ListenAndServe(s.addr, mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	addrs := s.src.Nodes().Addresses()
	nodeStrs := make([]string, len(addrs))
	for i, a := range addrs {
		nodeStrs[i] = string(a)
	}

	rawSlots := s.src.Topology().Slots().Slots()
	slots := make([]slotRangeJSON, len(rawSlots))
	for i, sl := range rawSlots {
		slots[i] = slotRangeJSON{Start: sl.Start, End: sl.End, Primary: string(sl.Primary)}
	}

	resp := statusResponse{
		Nodes:     nodeStrs,
		Slots:     slots,
		Telemetry: s.src.Telemetry().Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
