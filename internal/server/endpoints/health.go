package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/svcctx"
)

// HealthResponse reports overall and per-component health.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Blobs  string `json:"blobs,omitempty"`
	Queue  string `json:"queue,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

var _ api.Endpoint = (*HealthEndpoint)(nil)

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresAuth() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Status: "ok", Store: "ok", Blobs: "ok", Queue: "ok"}

	if st := svcctx.StoreFrom(ctx); st == nil {
		resp.Store = "not_initialized"
	} else if err := st.Health(ctx); err != nil {
		resp.Store = "unhealthy"
	}

	// The blob backend has no dedicated ping; a stat of a path that
	// cannot exist exercises the backend, and "not found" is the
	// healthy answer.
	if blobs := svcctx.BlobsFrom(ctx); blobs == nil {
		resp.Blobs = "not_initialized"
	} else if _, err := blobs.Stat(ctx, "health/probe"); err != nil && !errors.Is(err, blob.ErrNotFound) {
		resp.Blobs = "unhealthy"
	}

	if broker := svcctx.BrokerFrom(ctx); broker == nil {
		resp.Queue = "not_initialized"
	} else if err := broker.Health(ctx); err != nil {
		resp.Queue = "unhealthy"
	}

	status := http.StatusOK
	if resp.Store != "ok" || resp.Blobs != "ok" || resp.Queue != "ok" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			fmt.Printf("  Store: %s\n", resp.Store)
			fmt.Printf("  Blobs: %s\n", resp.Blobs)
			fmt.Printf("  Queue: %s\n", resp.Queue)
			return nil
		},
	}
}
