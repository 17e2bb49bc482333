// Package testutil builds fully wired test environments: temp-backed
// stores, a local blob tree, and mock synthesis, so pipeline and HTTP
// tests run without network access or external binaries.
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/epicrunze/evocable/internal/auth"
	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/config"
	"github.com/epicrunze/evocable/internal/ingest"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/svcctx"
	"github.com/epicrunze/evocable/internal/types"
)

// SigningSecret is the fixed signing key test environments use.
const SigningSecret = "0123456789abcdef0123456789abcdef"

// Env is a complete wired service set backed by t.TempDir.
type Env struct {
	Store    *store.Store
	Blobs    blob.Store
	Broker   *queue.Broker
	Signer   *auth.Signer
	Ingest   *ingest.Service
	Config   *config.Config
	Logger   *slog.Logger
	Services *svcctx.Services

	// Owner and Token are a pre-registered principal for API tests.
	Owner *types.Owner
	Token string
}

// NewEnv builds an Env with everything open. Cleanup is registered on t.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.Open(dir + "/meta.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	broker, err := queue.Open(dir + "/queue.db")
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { broker.Close() })

	blobs, err := blob.Open(dir + "/blobs")
	if err != nil {
		t.Fatalf("open blobs: %v", err)
	}

	signer, err := auth.NewSigner([]byte(SigningSecret))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.SigningSecret = SigningSecret
	cfg.Synth.Provider = "mock"
	cfg.Packager = "mock"

	ingestSvc := ingest.New(st, blobs, broker, cfg.MaxUploadBytes, logger)

	ctx := context.Background()
	owner, err := st.CreateOwner(ctx, "test-owner")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	token := "test-token-" + owner.ID
	if err := st.PutToken(ctx, token, owner.ID); err != nil {
		t.Fatalf("put token: %v", err)
	}

	cache, err := lru.New[string, []types.Chunk](64)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	mgr := config.NewStaticManager(cfg)

	env := &Env{
		Store:  st,
		Blobs:  blobs,
		Broker: broker,
		Signer: signer,
		Ingest: ingestSvc,
		Config: cfg,
		Logger: logger,
		Owner:  owner,
		Token:  token,
	}
	env.Services = &svcctx.Services{
		Store:  st,
		Blobs:  blobs,
		Broker: broker,
		Signer: signer,
		Auth:   auth.New(st),
		Ingest: ingestSvc,
		Config: mgr,
		Logger: logger,
		Chunks: cache,
	}
	return env
}

// Context returns a context carrying the env's services and owner, as
// an authenticated request handler would see it.
func (e *Env) Context() context.Context {
	ctx := svcctx.WithServices(context.Background(), e.Services)
	return svcctx.WithOwner(ctx, e.Owner.ID)
}

// WaitForShutdown waits for a channel to receive a value or timeout.
func WaitForShutdown(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for shutdown")
	}
}

// HTTPClient returns an HTTP client for making requests.
func HTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// FindFreePort finds an available TCP port and returns it as a string.
func FindFreePort() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer listener.Close()
	return fmt.Sprintf("%d", listener.Addr().(*net.TCPAddr).Port), nil
}
