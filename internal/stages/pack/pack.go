// Package pack implements the final pipeline stage: concatenate the
// synthesized WAVs and split them into fixed-length Ogg chunks, then
// register every chunk row and the book's final chunk count.
package pack

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/stages/segment"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

// ChunkFile is one packaged chunk on local disk.
type ChunkFile struct {
	Seq       int
	Path      string
	DurationS float64
}

// Packager turns a sequence of WAV files into ordered audio chunks of
// roughly targetSeconds each (the last may be shorter).
type Packager interface {
	Name() string
	Package(ctx context.Context, wavPaths []string, outDir string, targetSeconds float64) ([]ChunkFile, error)
}

// Handler packages a book's synthesized audio into streamable chunks.
type Handler struct {
	packager      Packager
	store         *store.Store
	blobs         blob.Store
	targetSeconds float64
	logger        *slog.Logger
}

var _ pipeline.Handler = (*Handler)(nil)

// New creates the package stage handler.
func New(p Packager, st *store.Store, blobs blob.Store, targetSeconds float64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		packager:      p,
		store:         st,
		blobs:         blobs,
		targetSeconds: targetSeconds,
		logger:        logger.With("stage", queue.QueuePackage, "packager", p.Name()),
	}
}

// Descriptor implements pipeline.Handler.
func (h *Handler) Descriptor() pipeline.Descriptor {
	d, _ := pipeline.StageByName(queue.QueuePackage)
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

	workDir, err := os.MkdirTemp("", "evocable-pack-*")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	wavPaths, err := h.fetchRawAudio(ctx, book.ID, manifest, workDir)
	if err != nil {
		return err
	}

	outDir := filepath.Join(workDir, "chunks")
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}
	chunks, err := h.packager.Package(ctx, wavPaths, outDir, h.targetSeconds)
	if err != nil {
		return fmt.Errorf("packaging failed: %w", err)
	}

	var totalDuration float64
	for _, c := range chunks {
		f, err := os.Open(c.Path)
		if err != nil {
			return fmt.Errorf("failed to open chunk %d: %w", c.Seq, err)
		}
		res, err := h.blobs.Put(ctx, blob.ChunkPath(book.ID, c.Seq), f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to store chunk %d: %w", c.Seq, err)
		}

		err = h.store.UpsertChunk(ctx, types.Chunk{
			BookID:    book.ID,
			Seq:       c.Seq,
			DurationS: c.DurationS,
			ByteSize:  res.Size,
			BlobPath:  blob.ChunkPath(book.ID, c.Seq),
			Checksum:  res.Sum,
		})
		if err != nil {
			return fmt.Errorf("failed to register chunk %d: %w", c.Seq, err)
		}
		totalDuration += c.DurationS
	}

	if err := h.store.SetTotalChunks(ctx, book.ID, len(chunks)); err != nil {
		return fmt.Errorf("failed to set chunk count: %w", err)
	}

	h.logger.Info("book packaged",
		"book_id", book.ID,
		"chunks", len(chunks),
		"duration_s", totalDuration)
	return nil
}

// fetchRawAudio downloads every segment's WAV into workDir in manifest
// order.
func (h *Handler) fetchRawAudio(ctx context.Context, bookID string, manifest *segment.Manifest, workDir string) ([]string, error) {
	paths := make([]string, 0, len(manifest.Segments))
	for _, seg := range manifest.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := h.blobs.OpenRange(ctx, blob.RawAudioPath(bookID, seg.Idx), 0, -1)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio for segment %d: %w", seg.Idx, err)
		}

		local := filepath.Join(workDir, fmt.Sprintf("%d.wav", seg.Idx))
		f, err := os.Create(local)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to create %s: %w", local, err)
		}
		_, err = f.ReadFrom(rc)
		rc.Close()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to download audio for segment %d: %w", seg.Idx, err)
		}
		paths = append(paths, local)
	}
	return paths, nil
}
