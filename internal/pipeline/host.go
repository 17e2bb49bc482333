package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/epicrunze/evocable/internal/config"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/store"
)

// Host runs the worker loops for a set of stages in one process.
type Host struct {
	runners []*Runner
	logger  *slog.Logger
}

// NewHost builds runners for the handlers whose stage appears in
// cfg.StageWorkers (all handlers when the list is empty). Lease and
// retry policy come from config.
func NewHost(cfg *config.Config, st *store.Store, broker *queue.Broker, handlers []Handler, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}

	enabled := map[string]bool{}
	for _, name := range cfg.StageWorkers {
		if _, err := StageByName(name); err != nil {
			return nil, err
		}
		enabled[name] = true
	}

	h := &Host{logger: logger}
	for _, handler := range handlers {
		d := handler.Descriptor()
		if len(enabled) > 0 && !enabled[d.Name] {
			continue
		}
		r, err := NewRunner(RunnerConfig{
			Handler:     handler,
			Store:       st,
			Broker:      broker,
			Logger:      logger,
			Lease:       cfg.WorkerLease(d.Name),
			MaxAttempts: cfg.WorkerMaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", d.Name, err)
		}
		h.runners = append(h.runners, r)
	}
	if len(h.runners) == 0 {
		return nil, fmt.Errorf("no stage workers enabled")
	}
	return h, nil
}

// Run starts all stage runners and blocks until the context is
// cancelled or a runner fails.
func (h *Host) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range h.runners {
		g.Go(func() error { return r.Run(ctx) })
	}
	return g.Wait()
}
