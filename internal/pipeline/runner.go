package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

// Runner is one stage's worker loop: it reserves jobs from the stage
// queue, brackets the handler with guarded state transitions, and
// feeds the next queue on success. Each runner is a single goroutine;
// run several for parallelism within a stage.
type Runner struct {
	handler     Handler
	store       *store.Store
	broker      *queue.Broker
	logger      *slog.Logger
	consumerID  string
	lease       time.Duration
	maxAttempts int
}

// RunnerConfig configures a stage runner.
type RunnerConfig struct {
	Handler Handler
	Store   *store.Store
	Broker  *queue.Broker
	Logger  *slog.Logger

	// ConsumerID identifies this runner in queue leases.
	ConsumerID string
	// Lease is the reservation lease; must exceed the handler's worst
	// expected runtime or the job will be redelivered mid-flight.
	Lease time.Duration
	// MaxAttempts is the delivery count after which the book fails.
	MaxAttempts int
}

// NewRunner creates a stage runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("runner requires a handler")
	}
	if cfg.Store == nil || cfg.Broker == nil {
		return nil, fmt.Errorf("runner requires a store and a broker")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = types.NewID()
	}

	d := cfg.Handler.Descriptor()
	return &Runner{
		handler:     cfg.Handler,
		store:       cfg.Store,
		broker:      cfg.Broker,
		logger:      logger.With("stage", d.Name, "consumer", consumerID),
		consumerID:  consumerID,
		lease:       lease,
		maxAttempts: maxAttempts,
	}, nil
}

// Run processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("stage worker started")
	d := r.handler.Descriptor()

	for {
		job, rct, err := r.broker.ReserveWait(ctx, d.Name, r.consumerID, r.lease, 0)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			r.logger.Info("stage worker stopping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("stage %s: reserve failed: %w", d.Name, err)
		}

		r.process(ctx, job, rct)
	}
}

// process handles one reserved job through to ack. All failure paths
// resolve the reservation: retryable errors nack with backoff, final
// failures and stale jobs ack so they never redeliver.
func (r *Runner) process(ctx context.Context, job queue.Job, rct queue.Receipt) {
	d := r.handler.Descriptor()
	logger := r.logger.With("book_id", job.BookID, "attempt", job.Attempt)

	book, proceed := r.acquire(ctx, logger, job)
	if !proceed {
		r.ack(ctx, logger, rct)
		return
	}

	if err := r.handler.Process(ctx, book, job); err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the reservation to lease expiry so the
			// job redelivers promptly elsewhere.
			return
		}
		r.fail(ctx, logger, job, rct, err)
		return
	}

	// Exit transition. A stale result here means another worker already
	// advanced the book (or it was deleted); drop without enqueueing.
	err := r.store.UpdateBookState(ctx, job.BookID, store.StateUpdate{
		Expected: d.Active,
		Next:     d.Next,
		Percent:  d.DonePercent,
	})
	switch {
	case errors.Is(err, store.ErrStaleTransition), errors.Is(err, store.ErrNotFound):
		logger.Warn("book advanced elsewhere, dropping job", "error", err)
		r.ack(ctx, logger, rct)
		return
	case err != nil:
		r.fail(ctx, logger, job, rct, fmt.Errorf("exit transition: %w", err))
		return
	}

	if d.NextQueue != "" {
		next := queue.Job{BookID: job.BookID}
		err := retry.Do(
			func() error { return r.broker.Enqueue(ctx, d.NextQueue, next) },
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
		)
		if err != nil {
			// The book is already in the next state; the boot sweep will
			// requeue it. Ack so this stage's job does not redeliver.
			logger.Error("failed to enqueue next stage", "next", d.NextQueue, "error", err)
		}
	}

	logger.Info("stage completed", "state", d.Next)
	r.ack(ctx, logger, rct)
}

// acquire fetches the book and applies the entry transition. It returns
// false when the job should be dropped: book deleted, already advanced,
// or failed.
func (r *Runner) acquire(ctx context.Context, logger *slog.Logger, job queue.Job) (*types.Book, bool) {
	d := r.handler.Descriptor()

	book, err := r.store.GetBook(ctx, job.BookID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("book deleted, dropping job")
		return nil, false
	}
	if err != nil {
		logger.Error("failed to fetch book", "error", err)
		return nil, false
	}

	err = r.store.UpdateBookState(ctx, job.BookID, store.StateUpdate{
		Expected: d.Entry,
		Next:     d.Active,
		Percent:  d.StartPercent,
	})
	if errors.Is(err, store.ErrStaleTransition) {
		// Entry differs from Active only for the first stage. A book
		// already in the active state is a redelivery of interrupted
		// work and is fair game; anything else is a job that outlived
		// its book's progress.
		if book, err = r.store.GetBook(ctx, job.BookID); err == nil && book.State == d.Active {
			return book, true
		}
		logger.Info("book no longer eligible, dropping job")
		return nil, false
	}
	if err != nil {
		logger.Error("entry transition failed", "error", err)
		return nil, false
	}

	book.State = d.Active
	return book, true
}

// fail routes a handler error: nack with backoff while attempts remain,
// otherwise fail the book and ack.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, job queue.Job, rct queue.Receipt, cause error) {
	d := r.handler.Descriptor()

	// Attempt is zero-based; this delivery is attempt+1 of maxAttempts.
	if job.Attempt+1 < r.maxAttempts {
		delay := Backoff(job.Attempt)
		logger.Warn("stage failed, will retry", "error", cause, "delay", delay)
		if err := r.broker.Nack(ctx, rct, delay); err != nil {
			logger.Error("failed to nack job", "error", err)
		}
		return
	}

	logger.Error("stage failed permanently", "error", cause)
	msg := fmt.Sprintf("%s: %v", d.Name, cause)
	if err := r.store.MarkFailed(ctx, job.BookID, msg); err != nil &&
		!errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrStaleTransition) {
		logger.Error("failed to mark book failed", "error", err)
	}
	r.ack(ctx, logger, rct)
}

func (r *Runner) ack(ctx context.Context, logger *slog.Logger, rct queue.Receipt) {
	// Acks proceed during shutdown so completed work is not redelivered.
	ctx = context.WithoutCancel(ctx)
	if err := r.broker.Ack(ctx, rct); err != nil && !errors.Is(err, queue.ErrUnknownReceipt) {
		logger.Error("failed to ack job", "error", err)
	}
}
