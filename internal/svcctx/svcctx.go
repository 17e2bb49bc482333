// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/epicrunze/evocable/internal/auth"
	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/config"
	"github.com/epicrunze/evocable/internal/ingest"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store     *store.Store
	Blobs     blob.Store
	Broker    *queue.Broker
	Signer    *auth.Signer
	Auth      *auth.Authenticator
	Ingest    *ingest.Service
	Config    *config.Manager
	Logger    *slog.Logger
	// Chunks caches completed chunk listings by book id. Chunk sets are
	// immutable once a book completes; entries are evicted on delete.
	Chunks *lru.Cache[string, []types.Chunk]
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the metadata store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// BlobsFrom extracts the blob store from context.
func BlobsFrom(ctx context.Context) blob.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Blobs
	}
	return nil
}

// BrokerFrom extracts the queue broker from context.
func BrokerFrom(ctx context.Context) *queue.Broker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Broker
	}
	return nil
}

// SignerFrom extracts the URL signer from context.
func SignerFrom(ctx context.Context) *auth.Signer {
	if s := ServicesFrom(ctx); s != nil {
		return s.Signer
	}
	return nil
}

// AuthFrom extracts the authenticator from context.
func AuthFrom(ctx context.Context) *auth.Authenticator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Auth
	}
	return nil
}

// IngestFrom extracts the ingest service from context.
func IngestFrom(ctx context.Context) *ingest.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingest
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// ChunksFrom extracts the chunk listing cache from context.
func ChunksFrom(ctx context.Context) *lru.Cache[string, []types.Chunk] {
	if s := ServicesFrom(ctx); s != nil {
		return s.Chunks
	}
	return nil
}

type ownerKey struct{}

// WithOwner attaches the authenticated owner id to the context.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFrom returns the authenticated owner id, or "".
func OwnerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey{}).(string)
	return id
}
