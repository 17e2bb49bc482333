package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/epicrunze/evocable/internal/auth"
	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/config"
	"github.com/epicrunze/evocable/internal/ingest"
	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/server"
	"github.com/epicrunze/evocable/internal/stages/extract"
	"github.com/epicrunze/evocable/internal/stages/pack"
	"github.com/epicrunze/evocable/internal/stages/segment"
	"github.com/epicrunze/evocable/internal/stages/synth"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/svcctx"
	"github.com/epicrunze/evocable/internal/types"
)

// chunkCacheSize bounds the completed-book chunk listing cache.
const chunkCacheSize = 256

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Evocable server",
	Long: `Start the Evocable HTTP gateway and pipeline workers.

One process runs both the API and the stage workers by default; set
stage_workers in the config to run a subset of stages per process.

Examples:
  evocable serve                   # Start on the configured address
  evocable serve --addr :3000      # Override the listen address`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}

		logger := newLogger(cfg.LogLevel)

		for _, dir := range []string{filepath.Dir(cfg.StoreDSN), filepath.Dir(cfg.QueueDSN)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}

		st, err := store.Open(cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %w", err)
		}
		defer st.Close()

		broker, err := queue.Open(cfg.QueueDSN)
		if err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
		defer broker.Close()

		blobs, err := blob.Open(cfg.BlobRoot)
		if err != nil {
			return fmt.Errorf("failed to open blob store: %w", err)
		}

		signer, err := auth.NewSigner(cfg.ResolveSigningSecret())
		if err != nil {
			return fmt.Errorf("signing secret: %w", err)
		}

		ingestSvc := ingest.New(st, blobs, broker, cfg.MaxUploadBytes, logger)

		// Requeue work that was in flight when the last process died.
		if err := ingestSvc.Sweep(ctx); err != nil {
			return fmt.Errorf("boot sweep failed: %w", err)
		}

		handlers, err := buildHandlers(cfg, st, blobs, logger)
		if err != nil {
			return err
		}
		host, err := pipeline.NewHost(cfg, st, broker, handlers, logger)
		if err != nil {
			return err
		}

		chunkCache, err := lru.New[string, []types.Chunk](chunkCacheSize)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Addr: cfg.ListenAddr,
			Services: &svcctx.Services{
				Store:  st,
				Blobs:  blobs,
				Broker: broker,
				Signer: signer,
				Auth:   auth.New(st),
				Ingest: ingestSvc,
				Config: mgr,
				Logger: logger,
				Chunks: chunkCache,
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		mgr.WatchConfig()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(ctx) })
		g.Go(func() error { return host.Run(ctx) })
		return g.Wait()
	},
}

// buildHandlers assembles the four stage handlers from config.
func buildHandlers(cfg *config.Config, st *store.Store, blobs blob.Store, logger *slog.Logger) ([]pipeline.Handler, error) {
	var synthesizer synth.Synthesizer
	switch cfg.Synth.Provider {
	case "mock":
		synthesizer = &synth.Mock{}
	case "openai", "":
		apiKey := config.ResolveEnvVars(cfg.Synth.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("synth provider openai requires an api key")
		}
		synthesizer = synth.NewOpenAI(synth.OpenAIConfig{
			APIKey: apiKey,
			Model:  cfg.Synth.Model,
			Voice:  cfg.Synth.Voice,
			Speed:  cfg.Synth.Speed,
		})
	default:
		return nil, fmt.Errorf("unknown synth provider %q", cfg.Synth.Provider)
	}

	var packager pack.Packager
	switch cfg.Packager {
	case "mock":
		packager = &pack.Mock{}
	case "ffmpeg", "":
		if err := pack.CheckAvailable(); err != nil {
			return nil, fmt.Errorf("packager ffmpeg: %w", err)
		}
		packager = &pack.FFmpeg{}
	default:
		return nil, fmt.Errorf("unknown packager %q", cfg.Packager)
	}

	return []pipeline.Handler{
		extract.New(blobs, logger),
		segment.New(blobs, logger),
		synth.New(synthesizer, st, blobs, logger),
		pack.New(packager, st, blobs, cfg.TargetSegmentDurationS, logger),
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	rootCmd.AddCommand(serveCmd)
}
