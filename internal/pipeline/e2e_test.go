package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/ingest"
	"github.com/epicrunze/evocable/internal/pipeline"
	"github.com/epicrunze/evocable/internal/stages/extract"
	"github.com/epicrunze/evocable/internal/stages/pack"
	"github.com/epicrunze/evocable/internal/stages/segment"
	"github.com/epicrunze/evocable/internal/stages/synth"
	"github.com/epicrunze/evocable/internal/testutil"
	"github.com/epicrunze/evocable/internal/types"
)

// TestPipelineEndToEnd drives a text submission through all four stages
// with the mock synthesizer and packager and checks the finished book.
func TestPipelineEndToEnd(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	handlers := []pipeline.Handler{
		extract.New(env.Blobs, env.Logger),
		segment.New(env.Blobs, env.Logger),
		synth.New(&synth.Mock{}, env.Store, env.Blobs, env.Logger),
		pack.New(&pack.Mock{}, env.Store, env.Blobs, env.Config.TargetSegmentDurationS, env.Logger),
	}
	host, err := pipeline.NewHost(env.Config, env.Store, env.Broker, handlers, env.Logger)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- host.Run(runCtx) }()

	text := "A first sentence to read aloud. " +
		strings.Repeat("Another sentence of steady narration follows it. ", 30)
	book, err := env.Ingest.Submit(ctx, ingest.Request{
		OwnerID: env.Owner.ID,
		Title:   "End to End",
		Format:  types.FormatTXT,
		Source:  strings.NewReader(text),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(15 * time.Second)
	for {
		current, err := env.Store.GetBook(ctx, book.ID)
		if err != nil {
			t.Fatalf("GetBook: %v", err)
		}
		if current.State == types.StateCompleted {
			book = current
			break
		}
		if current.State == types.StateFailed {
			t.Fatalf("book failed: %s", current.ErrorMessage)
		}
		select {
		case <-deadline:
			t.Fatalf("book stuck in %s after 15s", current.State)
		case <-time.After(25 * time.Millisecond):
		}
	}

	cancel()
	if err := testutil.WaitForShutdown(done, 5*time.Second); err != nil {
		t.Fatalf("host did not stop: %v", err)
	}

	if book.PercentComplete != 100 {
		t.Errorf("percent = %d, want 100", book.PercentComplete)
	}
	if book.ErrorMessage != "" {
		t.Errorf("error message = %q on completed book", book.ErrorMessage)
	}

	chunks, err := env.Store.ListChunks(ctx, book.ID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("completed book has no chunks")
	}
	if book.TotalChunks == nil {
		t.Fatal("TotalChunks not set on completed book")
	}
	if *book.TotalChunks != len(chunks) {
		t.Errorf("TotalChunks = %d, chunk rows = %d", *book.TotalChunks, len(chunks))
	}

	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d, sequence not contiguous", i, c.Seq)
		}
		if c.DurationS <= 0 {
			t.Errorf("chunk %d duration = %v", i, c.DurationS)
		}
		info, err := env.Blobs.Stat(ctx, blob.ChunkPath(book.ID, c.Seq))
		if err != nil {
			t.Fatalf("chunk %d blob missing: %v", i, err)
		}
		if info.Size != c.ByteSize {
			t.Errorf("chunk %d: blob is %d bytes, row says %d", i, info.Size, c.ByteSize)
		}
	}
}
