package ingest

import (
	"context"
	"fmt"

	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/queue"
)

// Sweep requeues non-terminal books that have no job in flight. Run at
// boot: it repairs the gap left when a process died between committing
// a state transition and enqueueing the next stage's job (the two live
// in separate databases, so that window cannot be closed
// transactionally).
func (s *Service) Sweep(ctx context.Context) error {
	books, err := s.store.ListUnfinishedBooks(ctx)
	if err != nil {
		return fmt.Errorf("sweep: failed to list books: %w", err)
	}

	requeued := 0
	for _, book := range books {
		stage, ok := pipeline.StageForState(book.State)
		if !ok {
			s.logger.Warn("sweep: book in unexpected state", "book_id", book.ID, "state", book.State)
			continue
		}

		present, err := s.broker.ContainsBook(ctx, stage.Name, book.ID)
		if err != nil {
			return fmt.Errorf("sweep: failed to inspect queue %s: %w", stage.Name, err)
		}
		if present {
			continue
		}

		if err := s.broker.Enqueue(ctx, stage.Name, queue.Job{BookID: book.ID}); err != nil {
			return fmt.Errorf("sweep: failed to requeue book %s: %w", book.ID, err)
		}
		s.logger.Info("sweep: requeued stranded book",
			"book_id", book.ID, "state", book.State, "queue", stage.Name)
		requeued++
	}

	if requeued > 0 || len(books) > 0 {
		s.logger.Info("boot sweep complete", "unfinished", len(books), "requeued", requeued)
	}
	return nil
}
