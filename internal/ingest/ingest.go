// Package ingest handles book submission and deletion: validating the
// upload, storing the source blob, creating the metadata row and
// feeding the first pipeline queue.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

const maxTitleLen = 255

var (
	// ErrInvalid wraps all submission validation failures.
	ErrInvalid = errors.New("ingest: invalid submission")
	// ErrTooLarge is returned when the source exceeds the upload limit.
	ErrTooLarge = errors.New("ingest: source exceeds size limit")
)

// Service ingests and deletes books.
type Service struct {
	store          *store.Store
	blobs          blob.Store
	broker         *queue.Broker
	maxUploadBytes int64
	logger         *slog.Logger
}

// New creates an ingest service.
func New(st *store.Store, blobs blob.Store, broker *queue.Broker, maxUploadBytes int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          st,
		blobs:          blobs,
		broker:         broker,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Request contains the parameters for submitting a book.
type Request struct {
	OwnerID string
	Title   string
	Format  types.Format
	Source  io.Reader
}

// Submit validates and registers a new book, stores its source document
// and enqueues the first stage. On success the book is StatePending with
// an extract job queued; a failed enqueue still returns the book, and
// the boot sweep repairs the missing job.
func (s *Service) Submit(ctx context.Context, req Request) (*types.Book, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", ErrInvalid, maxTitleLen)
	}
	if !req.Format.Valid() {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalid, req.Format)
	}

	src, err := readCapped(req.Source, s.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: source document is empty", ErrInvalid)
	}
	if err := sniffFormat(src, req.Format); err != nil {
		return nil, err
	}

	book, err := s.store.CreateBook(ctx, req.OwnerID, title, req.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	if _, err := s.blobs.Put(ctx, blob.SourcePath(book.ID, book.Format), bytes.NewReader(src)); err != nil {
		// Roll back the row so a failed upload leaves no orphan book.
		if derr := s.store.DeleteBook(ctx, book.ID); derr != nil {
			s.logger.Error("failed to roll back book after blob write failure",
				"book_id", book.ID, "error", derr)
		}
		return nil, fmt.Errorf("failed to store source document: %w", err)
	}

	if err := s.broker.Enqueue(ctx, queue.QueueExtract, queue.Job{BookID: book.ID}); err != nil {
		s.logger.Error("failed to enqueue extract job, sweep will requeue",
			"book_id", book.ID, "error", err)
	}

	s.logger.Info("book submitted",
		"book_id", book.ID,
		"owner_id", book.OwnerID,
		"format", book.Format,
		"bytes", len(src))
	return book, nil
}

// Delete removes a book's metadata and all of its blobs. Deleting an
// absent book is a no-op. The metadata row goes first so readers stop
// seeing the book immediately; a failed blob sweep leaves orphans that
// are logged rather than resurrected.
func (s *Service) Delete(ctx context.Context, bookID string) error {
	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete book metadata: %w", err)
	}
	if err := s.blobs.DeletePrefix(ctx, blob.BookPrefix(bookID)); err != nil {
		s.logger.Error("failed to delete book blobs, orphans remain",
			"book_id", bookID, "error", err)
	}
	s.logger.Info("book deleted", "book_id", bookID)
	return nil
}

// readCapped reads at most limit bytes, returning ErrTooLarge when the
// source exceeds it.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: missing source document", ErrInvalid)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read source document: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes max)", ErrTooLarge, limit)
	}
	return data, nil
}

// sniffFormat checks that the content's magic matches the declared
// format, so a mislabeled upload fails at submission instead of in the
// extract stage.
func sniffFormat(data []byte, format types.Format) error {
	switch format {
	case types.FormatPDF:
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return fmt.Errorf("%w: content does not look like a PDF", ErrInvalid)
		}
	case types.FormatEPUB:
		if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
			return fmt.Errorf("%w: content does not look like an EPUB archive", ErrInvalid)
		}
	case types.FormatTXT:
		if !utf8.Valid(data) {
			return fmt.Errorf("%w: txt content is not valid UTF-8", ErrInvalid)
		}
	}
	return nil
}
