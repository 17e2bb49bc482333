package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/auth"
	"github.com/epicrunze/evocable/internal/blob"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/svcctx"
)

// StreamChunkEndpoint handles GET /api/v1/books/{id}/chunks/{seq}. It
// accepts either a bearer token or a signed ?token= query parameter, so
// audio players that cannot set headers can still fetch chunks. Range
// requests are honored for seeking.
type StreamChunkEndpoint struct{}

var _ api.Endpoint = (*StreamChunkEndpoint)(nil)

func (e *StreamChunkEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{id}/chunks/{seq}", e.handler
}

// RequiresAuth is false: the handler authorizes itself, because signed
// URLs must work without the bearer-token middleware.
func (e *StreamChunkEndpoint) RequiresAuth() bool { return false }

func (e *StreamChunkEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookID := r.PathValue("id")
	seq, err := strconv.Atoi(r.PathValue("seq"))
	if err != nil || seq < 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "seq must be a non-negative integer")
		return
	}

	if err := e.authorize(r, bookID, seq); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "book not found")
			return
		}
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid credentials")
		return
	}

	chunk, err := svcctx.StoreFrom(ctx).GetChunk(ctx, bookID, seq)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	blobs := svcctx.BlobsFrom(ctx)
	info, err := blobs.Stat(ctx, chunk.BlobPath)
	if errors.Is(err, blob.ErrNotFound) {
		svcctx.LoggerFrom(ctx).Error("chunk blob missing",
			"book_id", bookID, "seq", seq, "path", chunk.BlobPath)
		writeError(w, http.StatusNotFound, codeNotFound, "chunk unavailable")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if info.Size != chunk.ByteSize {
		// The blob does not match its metadata. Refusing to serve it is
		// safer than handing a player truncated audio.
		svcctx.LoggerFrom(ctx).Error("chunk size mismatch",
			"book_id", bookID, "seq", seq,
			"blob_size", info.Size, "recorded_size", chunk.ByteSize)
		writeError(w, http.StatusNotFound, codeNotFound, "chunk unavailable")
		return
	}

	offset, length, status, ok := resolveRange(r.Header.Get("Range"), info.Size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, codeRange, "requested range not satisfiable")
		return
	}

	rc, err := blobs.OpenRange(ctx, chunk.BlobPath, offset, length)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/ogg")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, info.Size))
	}
	w.WriteHeader(status)
	io.Copy(w, rc)
}

// authorize accepts either a signed token or an owning bearer token.
func (e *StreamChunkEndpoint) authorize(r *http.Request, bookID string, seq int) error {
	ctx := r.Context()

	if token := r.URL.Query().Get("token"); token != "" {
		return svcctx.SignerFrom(ctx).Verify(token, bookID, seq)
	}

	ownerID, err := svcctx.AuthFrom(ctx).Authenticate(ctx, r)
	if err != nil {
		return err
	}
	book, err := svcctx.StoreFrom(ctx).GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	return auth.CheckOwnership(book, ownerID)
}

// resolveRange interprets an optional single-range Range header against
// a blob of the given size. It returns the byte window to serve, the
// response status, and whether the request is satisfiable.
func resolveRange(header string, size int64) (offset, length int64, status int, ok bool) {
	if header == "" {
		return 0, size, http.StatusOK, true
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		// Multi-range requests are not supported; serve the whole blob.
		return 0, size, http.StatusOK, true
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, 0, false
	}

	if startStr == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, http.StatusPartialContent, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, 0, false
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end - start + 1, http.StatusPartialContent, true
}

func (e *StreamChunkEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "stream <book-id> <seq>",
		Short: "Download one audio chunk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("seq must be an integer: %w", err)
			}
			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chunks/%d", args[0], seq)
			return client.Download(cmd.Context(), path, w)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the chunk to a file instead of stdout")
	return cmd
}
