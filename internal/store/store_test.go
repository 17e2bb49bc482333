package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/epicrunze/evocable/internal/types"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(t.TempDir()+"/meta.db", opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestBook(t *testing.T, s *Store) *types.Book {
	t.Helper()
	ctx := context.Background()
	owner, err := s.CreateOwner(ctx, "tester")
	if err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	book, err := s.CreateBook(ctx, owner.ID, "Test Book", types.FormatTXT)
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	return book
}

func TestCreateBook(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Run("starts pending", func(t *testing.T) {
		book := createTestBook(t, s)
		if book.State != types.StatePending {
			t.Errorf("new book state = %s, want %s", book.State, types.StatePending)
		}
		if book.PercentComplete != 0 {
			t.Errorf("new book percent = %d, want 0", book.PercentComplete)
		}

		got, err := s.GetBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("GetBook: %v", err)
		}
		if diff := cmp.Diff(book, got); diff != "" {
			t.Errorf("stored book mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown owner rejected", func(t *testing.T) {
		if _, err := s.CreateBook(ctx, "no-such-owner", "t", types.FormatTXT); !errors.Is(err, ErrNotFound) {
			t.Errorf("CreateBook with unknown owner = %v, want ErrNotFound", err)
		}
	})
}

func TestUpdateBookState(t *testing.T) {
	ctx := context.Background()

	t.Run("guarded transition succeeds", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		err := s.UpdateBookState(ctx, book.ID, StateUpdate{
			Expected: types.StatePending,
			Next:     types.StateExtracting,
			Percent:  0,
		})
		if err != nil {
			t.Fatalf("UpdateBookState: %v", err)
		}

		got, _ := s.GetBook(ctx, book.ID)
		if got.State != types.StateExtracting {
			t.Errorf("state = %s, want extracting", got.State)
		}
	})

	t.Run("stale guard rejected", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		err := s.UpdateBookState(ctx, book.ID, StateUpdate{
			Expected: types.StateSegmenting,
			Next:     types.StateSynthesizing,
			Percent:  -1,
		})
		if !errors.Is(err, ErrStaleTransition) {
			t.Errorf("mismatched expected state = %v, want ErrStaleTransition", err)
		}

		// The book is untouched.
		got, _ := s.GetBook(ctx, book.ID)
		if got.State != types.StatePending {
			t.Errorf("state after rejected transition = %s, want pending", got.State)
		}
	})

	t.Run("double advance rejected", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		u := StateUpdate{Expected: types.StatePending, Next: types.StateExtracting, Percent: 0}
		if err := s.UpdateBookState(ctx, book.ID, u); err != nil {
			t.Fatalf("first transition: %v", err)
		}
		if err := s.UpdateBookState(ctx, book.ID, u); !errors.Is(err, ErrStaleTransition) {
			t.Errorf("second identical transition = %v, want ErrStaleTransition", err)
		}
	})

	t.Run("percent is monotonic under success", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		steps := []StateUpdate{
			{Expected: types.StatePending, Next: types.StateExtracting, Percent: 10},
			{Expected: types.StateExtracting, Next: types.StateExtracting, Percent: 5},
			{Expected: types.StateExtracting, Next: types.StateSegmenting, Percent: 25},
		}
		for _, u := range steps {
			if err := s.UpdateBookState(ctx, book.ID, u); err != nil {
				t.Fatalf("UpdateBookState(%+v): %v", u, err)
			}
		}

		got, _ := s.GetBook(ctx, book.ID)
		if got.PercentComplete != 25 {
			t.Errorf("percent = %d, want 25 (the lower refresh must not regress it)", got.PercentComplete)
		}
	})

	t.Run("negative percent keeps value", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		s.UpdateBookState(ctx, book.ID, StateUpdate{Expected: types.StatePending, Next: types.StateExtracting, Percent: 10})
		s.UpdateBookState(ctx, book.ID, StateUpdate{Expected: types.StateExtracting, Next: types.StateSegmenting, Percent: -1})

		got, _ := s.GetBook(ctx, book.ID)
		if got.PercentComplete != 10 {
			t.Errorf("percent = %d, want 10", got.PercentComplete)
		}
	})

	t.Run("deleted book is not found", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)
		s.DeleteBook(ctx, book.ID)

		err := s.UpdateBookState(ctx, book.ID, StateUpdate{
			Expected: types.StatePending, Next: types.StateExtracting, Percent: -1,
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("transition on deleted book = %v, want ErrNotFound", err)
		}
	})
}

func TestMarkFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("fails from any non-terminal state", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)
		s.UpdateBookState(ctx, book.ID, StateUpdate{Expected: types.StatePending, Next: types.StateSynthesizing, Percent: 30})

		if err := s.MarkFailed(ctx, book.ID, "synthesis exploded"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}

		got, _ := s.GetBook(ctx, book.ID)
		if got.State != types.StateFailed {
			t.Errorf("state = %s, want failed", got.State)
		}
		if got.ErrorMessage != "synthesis exploded" {
			t.Errorf("error message = %q", got.ErrorMessage)
		}
		if got.PercentComplete != 30 {
			t.Errorf("percent = %d, want 30 (preserved on failure)", got.PercentComplete)
		}
	})

	t.Run("terminal states stay terminal", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)
		s.MarkFailed(ctx, book.ID, "first failure")

		if err := s.MarkFailed(ctx, book.ID, "second failure"); !errors.Is(err, ErrStaleTransition) {
			t.Errorf("MarkFailed on failed book = %v, want ErrStaleTransition", err)
		}
		got, _ := s.GetBook(ctx, book.ID)
		if got.ErrorMessage != "first failure" {
			t.Errorf("error message overwritten: %q", got.ErrorMessage)
		}
	})
}

func TestChunks(t *testing.T) {
	ctx := context.Background()

	chunk := func(bookID string, seq int) types.Chunk {
		return types.Chunk{
			BookID:    bookID,
			Seq:       seq,
			DurationS: 3.14,
			ByteSize:  1024,
			BlobPath:  "path",
			Checksum:  42,
		}
	}

	t.Run("upsert is idempotent on identical data", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		if err := s.UpsertChunk(ctx, chunk(book.ID, 0)); err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if err := s.UpsertChunk(ctx, chunk(book.ID, 0)); err != nil {
			t.Errorf("identical upsert = %v, want nil", err)
		}
	})

	t.Run("conflicting upsert rejected", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		s.UpsertChunk(ctx, chunk(book.ID, 0))
		c := chunk(book.ID, 0)
		c.ByteSize = 9999
		if err := s.UpsertChunk(ctx, c); !errors.Is(err, ErrConflict) {
			t.Errorf("conflicting upsert = %v, want ErrConflict", err)
		}
	})

	t.Run("list is ordered by seq", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		for _, seq := range []int{5, 0, 10, 2} {
			if err := s.UpsertChunk(ctx, chunk(book.ID, seq)); err != nil {
				t.Fatalf("upsert %d: %v", seq, err)
			}
		}
		chunks, err := s.ListChunks(ctx, book.ID)
		if err != nil {
			t.Fatalf("ListChunks: %v", err)
		}
		want := []int{0, 2, 5, 10}
		for i, c := range chunks {
			if c.Seq != want[i] {
				t.Errorf("chunks[%d].Seq = %d, want %d", i, c.Seq, want[i])
			}
		}
	})

	t.Run("set total chunks", func(t *testing.T) {
		s := openTestStore(t)
		book := createTestBook(t, s)

		if err := s.SetTotalChunks(ctx, book.ID, 4); err != nil {
			t.Fatalf("SetTotalChunks: %v", err)
		}
		if err := s.SetTotalChunks(ctx, book.ID, 4); err != nil {
			t.Errorf("idempotent SetTotalChunks = %v, want nil", err)
		}
		if err := s.SetTotalChunks(ctx, book.ID, 5); !errors.Is(err, ErrConflict) {
			t.Errorf("mismatched SetTotalChunks = %v, want ErrConflict", err)
		}
	})
}

func TestDeleteBook(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	book := createTestBook(t, s)

	s.UpsertChunk(ctx, types.Chunk{BookID: book.ID, Seq: 0, BlobPath: "p"})

	if err := s.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("DeleteBook: %v", err)
	}
	if _, err := s.GetBook(ctx, book.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBook after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.GetChunk(ctx, book.ID, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChunk after delete = %v, want ErrNotFound", err)
	}
	if books, _ := s.ListBooksForOwner(ctx, book.OwnerID, 0, 0); len(books) != 0 {
		t.Errorf("owner listing after delete has %d books, want 0", len(books))
	}

	// Idempotent.
	if err := s.DeleteBook(ctx, book.ID); err != nil {
		t.Errorf("second DeleteBook = %v, want nil", err)
	}
}

func TestListBooksForOwner(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	owner, err := s.CreateOwner(ctx, "pager")
	if err != nil {
		t.Fatalf("CreateOwner: %v", err)
	}
	titles := []string{"first", "second", "third", "fourth"}
	for _, title := range titles {
		if _, err := s.CreateBook(ctx, owner.ID, title, types.FormatTXT); err != nil {
			t.Fatalf("CreateBook %s: %v", title, err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		books, err := s.ListBooksForOwner(ctx, owner.ID, 0, 0)
		if err != nil {
			t.Fatalf("ListBooksForOwner: %v", err)
		}
		if len(books) != 4 {
			t.Fatalf("got %d books, want 4", len(books))
		}
		if books[0].Title != "fourth" || books[3].Title != "first" {
			t.Errorf("order = [%s .. %s], want [fourth .. first]", books[0].Title, books[3].Title)
		}
	})

	t.Run("offset and limit", func(t *testing.T) {
		books, err := s.ListBooksForOwner(ctx, owner.ID, 1, 2)
		if err != nil {
			t.Fatalf("ListBooksForOwner: %v", err)
		}
		if len(books) != 2 {
			t.Fatalf("got %d books, want 2", len(books))
		}
		if books[0].Title != "third" || books[1].Title != "second" {
			t.Errorf("page = [%s, %s], want [third, second]", books[0].Title, books[1].Title)
		}
	})

	t.Run("other owners invisible", func(t *testing.T) {
		books, err := s.ListBooksForOwner(ctx, "someone-else", 0, 0)
		if err != nil {
			t.Fatalf("ListBooksForOwner: %v", err)
		}
		if len(books) != 0 {
			t.Errorf("got %d books for foreign owner, want 0", len(books))
		}
	})
}

func TestListUnfinishedBooks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	owner, _ := s.CreateOwner(ctx, "sweeper")
	pending, _ := s.CreateBook(ctx, owner.ID, "pending", types.FormatTXT)
	running, _ := s.CreateBook(ctx, owner.ID, "running", types.FormatTXT)
	done, _ := s.CreateBook(ctx, owner.ID, "done", types.FormatTXT)
	failed, _ := s.CreateBook(ctx, owner.ID, "failed", types.FormatTXT)

	s.UpdateBookState(ctx, running.ID, StateUpdate{Expected: types.StatePending, Next: types.StateSynthesizing, Percent: -1})
	s.UpdateBookState(ctx, done.ID, StateUpdate{Expected: types.StatePending, Next: types.StateCompleted, Percent: 100})
	s.MarkFailed(ctx, failed.ID, "boom")

	books, err := s.ListUnfinishedBooks(ctx)
	if err != nil {
		t.Fatalf("ListUnfinishedBooks: %v", err)
	}

	got := map[string]bool{}
	for _, b := range books {
		got[b.ID] = true
	}
	if len(got) != 2 || !got[pending.ID] || !got[running.ID] {
		t.Errorf("unfinished = %v, want exactly {%s, %s}", got, pending.ID, running.ID)
	}
}
