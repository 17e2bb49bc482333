package endpoints

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/auth"
	"github.com/epicrunze/evocable/internal/svcctx"
	"github.com/epicrunze/evocable/internal/types"
)

// SignedURLResponse is one minted chunk URL.
type SignedURLResponse struct {
	SignedURL string `json:"signed_url"`
	// ExpiresIn is the remaining lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// SignChunkEndpoint handles POST /api/v1/books/{id}/chunks/{seq}/signed-url:
// it mints a short-lived URL for one chunk that needs no bearer token.
type SignChunkEndpoint struct{}

var _ api.Endpoint = (*SignChunkEndpoint)(nil)

func (e *SignChunkEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{id}/chunks/{seq}/signed-url", e.handler
}

func (e *SignChunkEndpoint) RequiresAuth() bool { return true }

func (e *SignChunkEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil || seq < 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "seq must be a non-negative integer")
		return
	}

	book, err := fetchOwnedBook(ctx, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Signing is bound to an existing chunk, not just a book, so a typo
	// in seq fails here instead of at stream time.
	if _, err := svcctx.StoreFrom(ctx).GetChunk(ctx, book.ID, seq); err != nil {
		writeServiceError(w, err)
		return
	}

	ttl := svcctx.ConfigFrom(ctx).Get().SignedURLTTL()
	writeJSON(w, http.StatusOK, SignedURLResponse{
		SignedURL: signedChunkURL(svcctx.SignerFrom(ctx), book.ID, seq, ttl),
		ExpiresIn: int(ttl.Seconds()),
	})
}

func signedChunkURL(signer *auth.Signer, bookID string, seq int, ttl time.Duration) string {
	token := signer.Sign(bookID, seq, ttl)
	return fmt.Sprintf("/api/v1/books/%s/chunks/%d?token=%s", bookID, seq, token)
}

// SignChunksBatchEndpoint handles POST /api/v1/books/{id}/chunks/batch-signed-urls:
// one call mints URLs for a set of chunks (or all of them), so players
// do not issue a sign request per chunk.
type SignChunksBatchEndpoint struct{}

var _ api.Endpoint = (*SignChunksBatchEndpoint)(nil)

// SignChunksRequest selects which chunks to sign. An empty Seqs signs
// every chunk of the book.
type SignChunksRequest struct {
	Seqs []int `json:"seqs"`
}

// BatchSignedURL is one entry of a batch response.
type BatchSignedURL struct {
	Seq       int    `json:"seq"`
	SignedURL string `json:"signed_url"`
}

// BatchSignedURLsResponse carries signed chunk URLs and their shared expiry.
type BatchSignedURLsResponse struct {
	BookID    string           `json:"book_id"`
	ExpiresIn int              `json:"expires_in"`
	URLs      []BatchSignedURL `json:"urls"`
}

func (e *SignChunksBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{id}/chunks/batch-signed-urls", e.handler
}

func (e *SignChunksBatchEndpoint) RequiresAuth() bool { return true }

func (e *SignChunksBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	var req SignChunksRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
			return
		}
	}

	chunks, err := cachedChunks(ctx, book.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	seqs := req.Seqs
	if len(seqs) == 0 {
		seqs = make([]int, 0, len(chunks))
		for _, c := range chunks {
			seqs = append(seqs, c.Seq)
		}
	} else {
		known := make(map[int]bool, len(chunks))
		for _, c := range chunks {
			known[c.Seq] = true
		}
		for _, seq := range seqs {
			if !known[seq] {
				writeError(w, http.StatusNotFound, codeNotFound,
					fmt.Sprintf("chunk %d not found", seq))
				return
			}
		}
	}

	signer := svcctx.SignerFrom(ctx)
	ttl := svcctx.ConfigFrom(ctx).Get().SignedURLTTL()
	resp := BatchSignedURLsResponse{
		BookID:    book.ID,
		ExpiresIn: int(ttl.Seconds()),
		URLs:      make([]BatchSignedURL, 0, len(seqs)),
	}
	for _, seq := range seqs {
		resp.URLs = append(resp.URLs, BatchSignedURL{
			Seq:       seq,
			SignedURL: signedChunkURL(signer, book.ID, seq, ttl),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *SignChunksBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sign <book-id>",
		Short: "Mint signed streaming URLs for a completed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BatchSignedURLsResponse
			if err := client.Post(cmd.Context(), "/api/v1/books/"+args[0]+"/chunks/batch-signed-urls", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

func (e *SignChunkEndpoint) Command(getServerURL func() string) *cobra.Command {
	// The batch sign command covers the single-chunk case; no separate
	// CLI verb.
	return nil
}
