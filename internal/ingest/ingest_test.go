package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

const testUploadLimit = 1 << 20

func newTestService(t *testing.T) (*Service, *store.Store, blob.Store, *queue.Broker, *types.Owner) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobs, err := blob.OpenLocal(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blob.OpenLocal: %v", err)
	}

	broker, err := queue.Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { broker.Close() })

	owner, err := st.CreateOwner(context.Background(), "tester")
	if err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}

	svc := New(st, blobs, broker, testUploadLimit, slog.New(slog.DiscardHandler))
	return svc, st, blobs, broker, owner
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("txt submission lands pending with a queued job", func(t *testing.T) {
		svc, st, blobs, broker, owner := newTestService(t)

		book, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   "A Short Book",
			Format:  types.FormatTXT,
			Source:  strings.NewReader("Some honest prose."),
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if book.State != types.StatePending {
			t.Errorf("state = %s, want %s", book.State, types.StatePending)
		}
		if book.OwnerID != owner.ID {
			t.Errorf("owner = %s, want %s", book.OwnerID, owner.ID)
		}

		stored, err := st.GetBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("GetBook: %v", err)
		}
		if stored.Title != "A Short Book" {
			t.Errorf("title = %q", stored.Title)
		}

		src, err := blobs.Get(ctx, blob.SourcePath(book.ID, types.FormatTXT))
		if err != nil {
			t.Fatalf("source blob missing: %v", err)
		}
		if string(src) != "Some honest prose." {
			t.Errorf("source = %q", src)
		}

		queued, err := broker.ContainsBook(ctx, queue.QueueExtract, book.ID)
		if err != nil {
			t.Fatalf("ContainsBook: %v", err)
		}
		if !queued {
			t.Error("no extract job queued for the new book")
		}
	})

	t.Run("title validation", func(t *testing.T) {
		svc, _, _, _, owner := newTestService(t)

		for name, title := range map[string]string{
			"empty":      "",
			"whitespace": "   \t ",
			"too long":           strings.Repeat("x", maxTitleLen+1),
			"too many multibyte": strings.Repeat("学", maxTitleLen+1),
		} {
			_, err := svc.Submit(ctx, Request{
				OwnerID: owner.ID,
				Title:   title,
				Format:  types.FormatTXT,
				Source:  strings.NewReader("text"),
			})
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("%s title: err = %v, want ErrInvalid", name, err)
			}
		}

		// The limit counts characters, not bytes: 200 CJK runes are
		// 600 bytes but well within range.
		_, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   strings.Repeat("学", 200),
			Format:  types.FormatTXT,
			Source:  strings.NewReader("text"),
		})
		if err != nil {
			t.Errorf("200-rune multibyte title rejected: %v", err)
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		svc, _, _, _, owner := newTestService(t)
		_, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   "Title",
			Format:  types.Format("mobi"),
			Source:  strings.NewReader("text"),
		})
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("err = %v, want ErrInvalid", err)
		}
	})

	t.Run("oversized upload", func(t *testing.T) {
		svc, _, _, _, owner := newTestService(t)
		_, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   "Big",
			Format:  types.FormatTXT,
			Source:  io.LimitReader(neverEnding{}, testUploadLimit+1),
		})
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("err = %v, want ErrTooLarge", err)
		}
	})

	t.Run("empty source", func(t *testing.T) {
		svc, _, _, _, owner := newTestService(t)
		_, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   "Empty",
			Format:  types.FormatTXT,
			Source:  strings.NewReader(""),
		})
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("err = %v, want ErrInvalid", err)
		}
	})

	t.Run("format sniffing rejects mislabeled content", func(t *testing.T) {
		svc, _, _, _, owner := newTestService(t)

		cases := []struct {
			name   string
			format types.Format
			body   string
		}{
			{"pdf without magic", types.FormatPDF, "plain text pretending"},
			{"epub without zip magic", types.FormatEPUB, "plain text pretending"},
			{"txt with invalid utf8", types.FormatTXT, "\xff\xfe"},
		}
		for _, tc := range cases {
			_, err := svc.Submit(ctx, Request{
				OwnerID: owner.ID,
				Title:   "Mislabeled",
				Format:  tc.format,
				Source:  strings.NewReader(tc.body),
			})
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("%s: err = %v, want ErrInvalid", tc.name, err)
			}
		}
	})

	t.Run("pdf magic accepted", func(t *testing.T) {
		svc, _, _, _, owner := newTestService(t)
		_, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   "Real PDF header",
			Format:  types.FormatPDF,
			Source:  strings.NewReader("%PDF-1.7 rest of document"),
		})
		if err != nil {
			t.Errorf("Submit: %v", err)
		}
	})

	t.Run("unknown owner rejected", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)
		_, err := svc.Submit(ctx, Request{
			OwnerID: "no-such-owner",
			Title:   "Orphan",
			Format:  types.FormatTXT,
			Source:  strings.NewReader("text"),
		})
		if err == nil {
			t.Error("Submit accepted an unknown owner")
		}
	})
}

// neverEnding reads zeroes forever.
type neverEnding struct{}

func (neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x20
	}
	return len(p), nil
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, st, blobs, _, owner := newTestService(t)

	book, err := svc.Submit(ctx, Request{
		OwnerID: owner.ID,
		Title:   "Doomed",
		Format:  types.FormatTXT,
		Source:  strings.NewReader("short lived"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := svc.Delete(ctx, book.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.GetBook(ctx, book.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetBook after delete: %v, want ErrNotFound", err)
	}
	if _, err := blobs.Get(ctx, blob.SourcePath(book.ID, types.FormatTXT)); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("source blob after delete: %v, want ErrNotFound", err)
	}

	// Deleting again is a no-op.
	if err := svc.Delete(ctx, book.ID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	svc, st, _, broker, owner := newTestService(t)

	submit := func(title string) *types.Book {
		t.Helper()
		book, err := svc.Submit(ctx, Request{
			OwnerID: owner.ID,
			Title:   title,
			Format:  types.FormatTXT,
			Source:  strings.NewReader("text for " + title),
		})
		if err != nil {
			t.Fatalf("Submit %s: %v", title, err)
		}
		return book
	}

	// queued keeps its extract job; both the stranded books lose theirs,
	// simulating a crash between the state commit and the enqueue.
	queued := submit("still queued")
	strandedPending := submit("stranded pending")
	strandedMid := submit("stranded mid-pipeline")

	// Drain the extract queue, ack away the stranded books' jobs and put
	// the surviving job back.
	dropped := map[string]bool{strandedPending.ID: true, strandedMid.ID: true}
	var keep []queue.Receipt
	for {
		job, receipt, err := broker.Reserve(ctx, queue.QueueExtract, "sweep-test", time.Minute)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if dropped[job.BookID] {
			if err := broker.Ack(ctx, receipt); err != nil {
				t.Fatalf("Ack: %v", err)
			}
		} else {
			keep = append(keep, receipt)
		}
	}
	for _, receipt := range keep {
		if err := broker.Nack(ctx, receipt, 0); err != nil {
			t.Fatalf("Nack: %v", err)
		}
	}

	if err := st.UpdateBookState(ctx, strandedMid.ID, store.StateUpdate{
		Expected: types.StatePending,
		Next:     types.StateSynthesizing,
		Percent:  25,
	}); err != nil {
		t.Fatalf("UpdateBookState: %v", err)
	}

	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for _, tc := range []struct {
		bookID string
		queue  string
	}{
		{queued.ID, queue.QueueExtract},
		{strandedPending.ID, queue.QueueExtract},
		{strandedMid.ID, queue.QueueSynthesize},
	} {
		present, err := broker.ContainsBook(ctx, tc.queue, tc.bookID)
		if err != nil {
			t.Fatalf("ContainsBook: %v", err)
		}
		if !present {
			t.Errorf("book %s missing from %s after sweep", tc.bookID, tc.queue)
		}
	}

	// A second sweep must not duplicate jobs.
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	stats, err := broker.QueueStats(ctx, queue.QueueExtract)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Ready != 2 {
		t.Errorf("extract queue Ready = %d, want 2", stats.Ready)
	}
}
