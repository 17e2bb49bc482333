package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func openTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := OpenLocal(t.TempDir() + "/blobs")
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	return l
}

func TestLocalPutGet(t *testing.T) {
	ctx := context.Background()
	l := openTestLocal(t)

	t.Run("round trip", func(t *testing.T) {
		payload := []byte("hello blob store")
		res, err := l.Put(ctx, "book-1/text.txt", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if res.Size != int64(len(payload)) {
			t.Errorf("size = %d, want %d", res.Size, len(payload))
		}
		if res.Sum == 0 {
			t.Error("checksum is zero")
		}

		got, err := l.Get(ctx, "book-1/text.txt")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Get = %q, want %q", got, payload)
		}
	})

	t.Run("overwrite is last writer wins", func(t *testing.T) {
		l.Put(ctx, "book-1/x", strings.NewReader("first"))
		l.Put(ctx, "book-1/x", strings.NewReader("second"))
		got, _ := l.Get(ctx, "book-1/x")
		if string(got) != "second" {
			t.Errorf("Get = %q, want second", got)
		}
	})

	t.Run("missing blob", func(t *testing.T) {
		if _, err := l.Get(ctx, "book-1/nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get missing = %v, want ErrNotFound", err)
		}
		if _, err := l.Stat(ctx, "book-1/nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("escaping paths rejected", func(t *testing.T) {
		for _, p := range []string{"", "/abs", "a/../../etc"} {
			if _, err := l.Put(ctx, p, strings.NewReader("x")); err == nil {
				t.Errorf("Put(%q) succeeded, want error", p)
			}
		}
	})
}

func TestLocalOpenRange(t *testing.T) {
	ctx := context.Background()
	l := openTestLocal(t)
	l.Put(ctx, "b/data", strings.NewReader("0123456789"))

	read := func(t *testing.T, offset, length int64) string {
		t.Helper()
		rc, err := l.OpenRange(ctx, "b/data", offset, length)
		if err != nil {
			t.Fatalf("OpenRange(%d, %d): %v", offset, length, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		return string(data)
	}

	t.Run("middle window", func(t *testing.T) {
		if got := read(t, 2, 3); got != "234" {
			t.Errorf("range 2+3 = %q, want 234", got)
		}
	})

	t.Run("to end", func(t *testing.T) {
		if got := read(t, 7, -1); got != "789" {
			t.Errorf("range 7.. = %q, want 789", got)
		}
	})

	t.Run("full", func(t *testing.T) {
		if got := read(t, 0, -1); got != "0123456789" {
			t.Errorf("full range = %q", got)
		}
	})

	t.Run("length past end is clamped", func(t *testing.T) {
		if got := read(t, 8, 100); got != "89" {
			t.Errorf("range 8+100 = %q, want 89", got)
		}
	})

	t.Run("offset at end invalid", func(t *testing.T) {
		if _, err := l.OpenRange(ctx, "b/data", 10, 1); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("offset at EOF = %v, want ErrInvalidRange", err)
		}
	})

	t.Run("offset past end invalid", func(t *testing.T) {
		if _, err := l.OpenRange(ctx, "b/data", 99, 1); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("offset past EOF = %v, want ErrInvalidRange", err)
		}
	})
}

func TestLocalDeletePrefix(t *testing.T) {
	ctx := context.Background()
	l := openTestLocal(t)

	l.Put(ctx, "book-1/text.txt", strings.NewReader("a"))
	l.Put(ctx, "book-1/chunks/0.ogg", strings.NewReader("b"))
	l.Put(ctx, "book-2/text.txt", strings.NewReader("c"))

	if err := l.DeletePrefix(ctx, "book-1/"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, err := l.Get(ctx, "book-1/text.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("book-1 artifact survived delete: %v", err)
	}
	if _, err := l.Get(ctx, "book-2/text.txt"); err != nil {
		t.Errorf("book-2 artifact lost: %v", err)
	}

	// Idempotent.
	if err := l.DeletePrefix(ctx, "book-1/"); err != nil {
		t.Errorf("second DeletePrefix = %v, want nil", err)
	}
}

func TestPathConventions(t *testing.T) {
	// Every artifact path must live under the book prefix so that
	// DeletePrefix(BookPrefix(id)) removes everything.
	id := "abc"
	paths := []string{
		SourcePath(id, "pdf"),
		TextPath(id),
		SegmentManifestPath(id),
		SegmentPath(id, 3),
		RawAudioPath(id, 3),
		ChunkPath(id, 0),
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, BookPrefix(id)) {
			t.Errorf("path %q does not start with %q", p, BookPrefix(id))
		}
	}
}
