// Package extract implements the first pipeline stage: pull plain text
// out of an uploaded source document (pdf, epub or txt) and store it as
// the book's canonical text blob.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/types"
)

// Handler extracts text from source documents.
type Handler struct {
	blobs  blob.Store
	logger *slog.Logger
}

var _ pipeline.Handler = (*Handler)(nil)

// New creates the extract stage handler.
func New(blobs blob.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{blobs: blobs, logger: logger.With("stage", queue.QueueExtract)}
}

// Descriptor implements pipeline.Handler.
func (h *Handler) Descriptor() pipeline.Descriptor {
	d, _ := pipeline.StageByName(queue.QueueExtract)
	return d
}

// Process implements pipeline.Handler.
func (h *Handler) Process(ctx context.Context, book *types.Book, _ queue.Job) error {
	src, err := h.blobs.Get(ctx, blob.SourcePath(book.ID, book.Format))
	if err != nil {
		return fmt.Errorf("failed to read source document: %w", err)
	}

	var text string
	switch book.Format {
	case types.FormatTXT:
		if !utf8.Valid(src) {
			return fmt.Errorf("txt source is not valid UTF-8")
		}
		text = string(src)
	case types.FormatEPUB:
		text, err = extractEPUBText(src)
		if err != nil {
			return fmt.Errorf("failed to extract epub text: %w", err)
		}
	case types.FormatPDF:
		text, err = extractPDFText(src)
		if err != nil {
			return fmt.Errorf("failed to extract pdf text: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q", book.Format)
	}

	text = normalizeText(text)
	if text == "" {
		return fmt.Errorf("document contains no extractable text")
	}

	res, err := h.blobs.Put(ctx, blob.TextPath(book.ID), strings.NewReader(text))
	if err != nil {
		return fmt.Errorf("failed to store extracted text: %w", err)
	}

	h.logger.Info("text extracted",
		"book_id", book.ID,
		"format", book.Format,
		"source_bytes", len(src),
		"text_bytes", res.Size)
	return nil
}

// normalizeText unifies line endings, strips control characters and
// collapses runs of blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
