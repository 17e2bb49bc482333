// Package segment implements the second pipeline stage: split the
// extracted text into synthesis-sized segments. Each segment becomes a
// mark file holding the exact text to speak; a manifest records the
// full set and is written last so a complete manifest implies complete
// mark files.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/types"
)

const (
	// MaxSegmentChars is the hard cap per synthesis request (the OpenAI
	// TTS input limit).
	MaxSegmentChars = 4096
	// targetSegmentChars is the preferred segment size; sentences are
	// packed up to this budget before a new segment starts.
	targetSegmentChars = 1600
)

// Segment is one manifest entry.
type Segment struct {
	Idx       int    `json:"idx"`
	Path      string `json:"path"`
	Chars     int    `json:"chars"`
	Sentences int    `json:"sentences"`
}

// Manifest lists a book's segments in synthesis order.
type Manifest struct {
	BookID     string    `json:"book_id"`
	CreatedAt  time.Time `json:"created_at"`
	TotalChars int       `json:"total_chars"`
	Segments   []Segment `json:"segments"`
}

// LoadManifest fetches and decodes a book's segment manifest.
func LoadManifest(ctx context.Context, blobs blob.Store, bookID string) (*Manifest, error) {
	raw, err := blobs.Get(ctx, blob.SegmentManifestPath(bookID))
	if err != nil {
		return nil, fmt.Errorf("failed to read segment manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("corrupt segment manifest for book %s: %w", bookID, err)
	}
	return &m, nil
}

// Handler splits extracted text into segments.
type Handler struct {
	blobs  blob.Store
	logger *slog.Logger
}

var _ pipeline.Handler = (*Handler)(nil)

// New creates the segment stage handler.
func New(blobs blob.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{blobs: blobs, logger: logger.With("stage", queue.QueueSegment)}
}

// Descriptor implements pipeline.Handler.
func (h *Handler) Descriptor() pipeline.Descriptor {
	d, _ := pipeline.StageByName(queue.QueueSegment)
	return d
}

// Process implements pipeline.Handler.
func (h *Handler) Process(ctx context.Context, book *types.Book, _ queue.Job) error {
	raw, err := h.blobs.Get(ctx, blob.TextPath(book.ID))
	if err != nil {
		return fmt.Errorf("failed to read extracted text: %w", err)
	}

	sentences := SplitSentences(string(raw), MaxSegmentChars)
	if len(sentences) == 0 {
		return fmt.Errorf("text produced no sentences")
	}
	texts := packSentences(sentences, targetSegmentChars)

	manifest := Manifest{
		BookID:    book.ID,
		CreatedAt: time.Now().UTC(),
		Segments:  make([]Segment, 0, len(texts)),
	}
	for idx, text := range texts {
		path := blob.SegmentPath(book.ID, idx)
		if _, err := h.blobs.Put(ctx, path, strings.NewReader(text.body)); err != nil {
			return fmt.Errorf("failed to store segment %d: %w", idx, err)
		}
		manifest.Segments = append(manifest.Segments, Segment{
			Idx:       idx,
			Path:      path,
			Chars:     len(text.body),
			Sentences: text.sentences,
		})
		manifest.TotalChars += len(text.body)
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if _, err := h.blobs.Put(ctx, blob.SegmentManifestPath(book.ID), bytes.NewReader(encoded)); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}

	h.logger.Info("text segmented",
		"book_id", book.ID,
		"sentences", len(sentences),
		"segments", len(manifest.Segments),
		"chars", manifest.TotalChars)
	return nil
}

type packed struct {
	body      string
	sentences int
}

// packSentences greedily groups consecutive sentences up to the target
// character budget. A single oversized sentence still gets its own
// segment; SplitSentences already capped those at the hard limit.
func packSentences(sentences []string, budget int) []packed {
	var (
		out []packed
		cur strings.Builder
		n   int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, packed{body: cur.String(), sentences: n})
			cur.Reset()
			n = 0
		}
	}

	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(s) > budget {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
		n++
	}
	flush()
	return out
}
