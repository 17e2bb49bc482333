// Package synth implements the third pipeline stage: turn each text
// segment into an intermediate WAV via a speech synthesizer. Segments
// that already have audio are skipped, so an interrupted run resumes
// instead of re-billing the provider.
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/stages/segment"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

// Synthesizer converts one segment of text into WAV audio.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Handler synthesizes audio for every segment in the manifest.
type Handler struct {
	synth  Synthesizer
	store  *store.Store
	blobs  blob.Store
	logger *slog.Logger
}

var _ pipeline.Handler = (*Handler)(nil)

// New creates the synthesize stage handler. The store is used for
// progress updates only.
func New(s Synthesizer, st *store.Store, blobs blob.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		synth:  s,
		store:  st,
		blobs:  blobs,
		logger: logger.With("stage", queue.QueueSynthesize, "synth", s.Name()),
	}
}

// Descriptor implements pipeline.Handler.
func (h *Handler) Descriptor() pipeline.Descriptor {
	d, _ := pipeline.StageByName(queue.QueueSynthesize)
	return d
}

// Process implements pipeline.Handler.
func (h *Handler) Process(ctx context.Context, book *types.Book, _ queue.Job) error {
	manifest, err := segment.LoadManifest(ctx, h.blobs, book.ID)
	if err != nil {
		return err
	}
	if len(manifest.Segments) == 0 {
		return fmt.Errorf("manifest lists no segments")
	}

	d := h.Descriptor()
	synthesized, skipped := 0, 0
	for i, seg := range manifest.Segments {
		if err := ctx.Err(); err != nil {
			return err
		}

		rawPath := blob.RawAudioPath(book.ID, seg.Idx)
		if _, err := h.blobs.Stat(ctx, rawPath); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, blob.ErrNotFound) {
			return fmt.Errorf("failed to stat %s: %w", rawPath, err)
		}

		text, err := h.blobs.Get(ctx, seg.Path)
		if err != nil {
			return fmt.Errorf("failed to read segment %d: %w", seg.Idx, err)
		}

		wav, err := h.synth.Synthesize(ctx, string(text))
		if err != nil {
			return fmt.Errorf("failed to synthesize segment %d: %w", seg.Idx, err)
		}
		if _, err := h.blobs.Put(ctx, rawPath, bytes.NewReader(wav)); err != nil {
			return fmt.Errorf("failed to store audio for segment %d: %w", seg.Idx, err)
		}
		synthesized++

		h.reportProgress(ctx, book.ID, d, i+1, len(manifest.Segments))
	}

	h.logger.Info("segments synthesized",
		"book_id", book.ID,
		"synthesized", synthesized,
		"resumed", skipped)
	return nil
}

// reportProgress interpolates percent within the stage's window. A
// same-state transition is an idempotent refresh; losing the race to a
// concurrent update is harmless.
func (h *Handler) reportProgress(ctx context.Context, bookID string, d pipeline.Descriptor, done, total int) {
	span := d.DonePercent - d.StartPercent
	pct := d.StartPercent + span*done/total
	if pct >= d.DonePercent {
		pct = d.DonePercent - 1
	}
	err := h.store.UpdateBookState(ctx, bookID, store.StateUpdate{
		Expected: d.Active,
		Next:     d.Active,
		Percent:  pct,
	})
	if err != nil && !errors.Is(err, store.ErrStaleTransition) && !errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("failed to report progress", "book_id", bookID, "error", err)
	}
}
