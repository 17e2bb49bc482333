package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/queue"
	"github.com/epicrunze/evocable/internal/types"
)

func newTestHandler(t *testing.T) (*Handler, blob.Store) {
	t.Helper()
	blobs, err := blob.OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	return New(blobs, slog.New(slog.DiscardHandler)), blobs
}

func putSource(t *testing.T, blobs blob.Store, book *types.Book, data []byte) {
	t.Helper()
	if _, err := blobs.Put(context.Background(), blob.SourcePath(book.ID, book.Format), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put source: %v", err)
	}
}

func TestProcessTXT(t *testing.T) {
	ctx := context.Background()

	t.Run("plain text passes through normalized", func(t *testing.T) {
		h, blobs := newTestHandler(t)
		book := &types.Book{ID: "b1", Format: types.FormatTXT}
		putSource(t, blobs, book, []byte("Line one.\r\n\r\n\r\n\r\nLine two.\r\n"))

		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err != nil {
			t.Fatalf("Process: %v", err)
		}
		text, err := blobs.Get(ctx, blob.TextPath(book.ID))
		if err != nil {
			t.Fatalf("Get text: %v", err)
		}
		want := "Line one.\n\nLine two."
		if string(text) != want {
			t.Errorf("text = %q, want %q", text, want)
		}
	})

	t.Run("invalid utf8 rejected", func(t *testing.T) {
		h, blobs := newTestHandler(t)
		book := &types.Book{ID: "b2", Format: types.FormatTXT}
		putSource(t, blobs, book, []byte{0xff, 0xfe, 0x00, 0x80})

		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err == nil {
			t.Error("Process accepted invalid UTF-8")
		}
	})

	t.Run("control characters stripped", func(t *testing.T) {
		h, blobs := newTestHandler(t)
		book := &types.Book{ID: "b3", Format: types.FormatTXT}
		putSource(t, blobs, book, []byte("be\x00fore\x07 after"))

		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err != nil {
			t.Fatalf("Process: %v", err)
		}
		text, _ := blobs.Get(ctx, blob.TextPath(book.ID))
		if string(text) != "before after" {
			t.Errorf("text = %q, want control characters removed", text)
		}
	})

	t.Run("empty document rejected", func(t *testing.T) {
		h, blobs := newTestHandler(t)
		book := &types.Book{ID: "b4", Format: types.FormatTXT}
		putSource(t, blobs, book, []byte("  \n \n  "))

		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err == nil {
			t.Error("Process accepted an empty document")
		}
	})

	t.Run("missing source rejected", func(t *testing.T) {
		h, _ := newTestHandler(t)
		book := &types.Book{ID: "b5", Format: types.FormatTXT}
		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err == nil {
			t.Error("Process succeeded with no source blob")
		}
	})
}

// buildEPUB assembles a minimal EPUB: container.xml, an OPF with a
// spine, and XHTML chapters.
func buildEPUB(t *testing.T, chapters map[string]string, spine []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	write := func(name, body string) {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		f.Write([]byte(body))
	}

	write("META-INF/container.xml", `<?xml version="1.0"?>
<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var manifest, spineXML strings.Builder
	for i, name := range spine {
		manifest.WriteString(`<item id="ch` + string(rune('0'+i)) + `" href="` + name + `" media-type="application/xhtml+xml"/>`)
		spineXML.WriteString(`<itemref idref="ch` + string(rune('0'+i)) + `"/>`)
	}
	write("OEBPS/content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf">
  <manifest>`+manifest.String()+`</manifest>
  <spine>`+spineXML.String()+`</spine>
</package>`)

	for name, body := range chapters {
		write("OEBPS/"+name, body)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestProcessEPUB(t *testing.T) {
	ctx := context.Background()

	t.Run("spine order and markup stripping", func(t *testing.T) {
		h, blobs := newTestHandler(t)
		book := &types.Book{ID: "e1", Format: types.FormatEPUB}

		epub := buildEPUB(t, map[string]string{
			"ch1.xhtml": `<html><head><title>skip</title></head><body><p>Chapter one text.</p></body></html>`,
			"ch2.xhtml": `<html><body><p>Chapter <b>two</b> &amp; more.</p><script>ignore()</script></body></html>`,
		}, []string{"ch1.xhtml", "ch2.xhtml"})
		putSource(t, blobs, book, epub)

		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err != nil {
			t.Fatalf("Process: %v", err)
		}
		text, _ := blobs.Get(ctx, blob.TextPath(book.ID))
		s := string(text)

		one := strings.Index(s, "Chapter one text.")
		two := strings.Index(s, "Chapter two & more.")
		if one < 0 || two < 0 {
			t.Fatalf("chapters missing from text: %q", s)
		}
		if one > two {
			t.Error("chapters out of spine order")
		}
		if strings.Contains(s, "skip") || strings.Contains(s, "ignore()") {
			t.Errorf("head/script content leaked into text: %q", s)
		}
	})

	t.Run("not a zip rejected", func(t *testing.T) {
		h, blobs := newTestHandler(t)
		book := &types.Book{ID: "e2", Format: types.FormatEPUB}
		putSource(t, blobs, book, []byte("definitely not a zip archive"))

		if err := h.Process(ctx, book, queue.Job{BookID: book.ID}); err == nil {
			t.Error("Process accepted a non-zip epub")
		}
	})
}
