package endpoints

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/svcctx"
	"github.com/epicrunze/evocable/internal/types"
)

// ChunkInfo is the wire form of one audio chunk.
type ChunkInfo struct {
	Seq       int     `json:"seq"`
	DurationS float64 `json:"duration_s"`
	ByteSize  int64   `json:"byte_size"`
	URL       string  `json:"url"`
}

// ChunkManifestResponse lists a completed book's chunks in sequence order.
type ChunkManifestResponse struct {
	BookID         string      `json:"book_id"`
	TotalChunks    int         `json:"total_chunks"`
	TotalDurationS float64     `json:"total_duration_s"`
	Chunks         []ChunkInfo `json:"chunks"`
}

// ChunkManifestEndpoint handles GET /api/v1/books/{id}/chunks. The
// manifest exists only for completed books; anything earlier is a
// conflict, not an empty list.
type ChunkManifestEndpoint struct{}

var _ api.Endpoint = (*ChunkManifestEndpoint)(nil)

func (e *ChunkManifestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{id}/chunks", e.handler
}

func (e *ChunkManifestEndpoint) RequiresAuth() bool { return true }

func (e *ChunkManifestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	book, err := fetchOwnedBook(ctx, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if book.State != types.StateCompleted {
		writeError(w, http.StatusConflict, codeConflict,
			fmt.Sprintf("book is %s, chunks are available once completed", book.State))
		return
	}

	chunks, err := cachedChunks(ctx, book.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := ChunkManifestResponse{
		BookID:      book.ID,
		TotalChunks: len(chunks),
		Chunks:      make([]ChunkInfo, 0, len(chunks)),
	}
	for _, c := range chunks {
		resp.TotalDurationS += c.DurationS
		resp.Chunks = append(resp.Chunks, ChunkInfo{
			Seq:       c.Seq,
			DurationS: c.DurationS,
			ByteSize:  c.ByteSize,
			URL:       fmt.Sprintf("/api/v1/books/%s/chunks/%d", book.ID, c.Seq),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// cachedChunks returns the chunk listing for a completed book, consulting
// the LRU cache first. Chunk sets are immutable after completion, so a
// cache hit never serves stale data.
func cachedChunks(ctx context.Context, bookID string) ([]types.Chunk, error) {
	cache := svcctx.ChunksFrom(ctx)
	if cache != nil {
		if chunks, ok := cache.Get(bookID); ok {
			return chunks, nil
		}
	}
	chunks, err := svcctx.StoreFrom(ctx).ListChunks(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Add(bookID, chunks)
	}
	return chunks, nil
}

func (e *ChunkManifestEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <book-id>",
		Short: "List the audio chunks of a completed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ChunkManifestResponse
			if err := client.Get(cmd.Context(), "/api/v1/books/"+args[0]+"/chunks", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
