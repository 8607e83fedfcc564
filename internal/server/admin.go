// Package server exposes operational HTTP endpoints: a health/stats admin
// surface and a webhook that triggers an out-of-cycle flag definition poll.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driftline-labs/driftline-go/internal/domain"
)

// PipelineInspector is the subset of *batch.Pipeline[T] the admin server
// needs to report queue depth, independent of the pipeline's item type.
type PipelineInspector interface {
	Len() int
}

// LoaderInspector is the subset of *loader.Loader the admin server needs to
// report snapshot freshness.
type LoaderInspector interface {
	Snapshot() *domain.Snapshot
}

// AdminServer provides read-only operational HTTP endpoints.
type AdminServer struct {
	pipeline PipelineInspector
	loader   LoaderInspector
	port     int
}

func NewAdminServer(pipeline PipelineInspector, loader LoaderInspector, port int) *AdminServer {
	return &AdminServer{pipeline: pipeline, loader: loader, port: port}
}

// Start starts the admin HTTP server. Blocks until the server stops.
func (a *AdminServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/admin/stats", a.handleStats)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: mux,
	}
	return server.ListenAndServe()
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statsResponse is the payload returned by /admin/stats.
type statsResponse struct {
	PipelineDepth    int    `json:"pipeline_depth"`
	SnapshotFlags    int    `json:"snapshot_flag_count"`
	SnapshotAgeMs    int64  `json:"snapshot_age_ms"`
	SnapshotETag     string `json:"snapshot_etag,omitempty"`
	SnapshotFetched  bool   `json:"snapshot_fetched"`
}

func (a *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{}

	if a.pipeline != nil {
		resp.PipelineDepth = a.pipeline.Len()
	}

	if a.loader != nil {
		if snap := a.loader.Snapshot(); snap != nil {
			resp.SnapshotFetched = true
			resp.SnapshotFlags = len(snap.Flags)
			resp.SnapshotETag = snap.ETag
			resp.SnapshotAgeMs = time.Since(snap.FetchedAt).Milliseconds()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
