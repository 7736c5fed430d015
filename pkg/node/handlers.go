package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrlink/internal/telemetry"
	"github.com/ryandielhenn/zephyrlink/pkg/identity"
)

// Routes returns the admin API, every endpoint instrumented.
func (n *Node) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("GET /info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("GET /neighbors", telemetry.Instrument("neighbors", http.HandlerFunc(n.Neighbors)))
	mux.Handle("POST /neighbors/{id}/measure", telemetry.Instrument("measure", http.HandlerFunc(n.Measure)))
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	return mux
}

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the node id, advertised port, process ID, current time and neighbor count.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		ID        identity.ID `json:"id"`
		Port      uint16      `json:"port"`
		PID       int         `json:"pid"`
		Now       time.Time   `json:"now"`
		Uptime    string      `json:"uptime"`
		Neighbors int         `json:"neighbors"`
	}
	n.writeJSON(w, resp{
		ID:        n.id,
		Port:      n.Port(),
		PID:       os.Getpid(),
		Now:       time.Now().UTC(),
		Uptime:    telemetry.Uptime().Round(time.Second).String(),
		Neighbors: n.table.Len(),
	})
}

// Neighbors writes the neighbor table as a JSON array ordered by id.
func (n *Node) Neighbors(w http.ResponseWriter, _ *http.Request) {
	snap := n.table.Snapshot()
	out := make([]neighborView, 0, len(snap))
	for _, e := range snap {
		out = append(out, viewOf(e))
	}
	n.writeJSON(w, out)
}

// Measure starts a delay measurement of one neighbor and answers 202 without
// waiting for it.
func (n *Node) Measure(w http.ResponseWriter, req *http.Request) {
	id, err := identity.Parse(req.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !n.Remeasure(id) {
		http.NotFound(w, req)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		n.log.Error("encode response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
