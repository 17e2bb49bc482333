package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/svcctx"
)

// DeleteBookResponse acknowledges a delete.
type DeleteBookResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DeleteBookEndpoint handles DELETE /api/v1/books/{id}. Deletion is
// idempotent: a second delete of the same id succeeds the same way.
type DeleteBookEndpoint struct{}

var _ api.Endpoint = (*DeleteBookEndpoint)(nil)

func (e *DeleteBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/v1/books/{id}", e.handler
}

func (e *DeleteBookEndpoint) RequiresAuth() bool { return true }

func (e *DeleteBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookID := r.PathValue("id")

	if _, err := fetchOwnedBook(ctx, bookID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, DeleteBookResponse{ID: bookID, Deleted: true})
			return
		}
		writeServiceError(w, err)
		return
	}

	if err := svcctx.IngestFrom(ctx).Delete(ctx, bookID); err != nil {
		writeServiceError(w, err)
		return
	}
	if cache := svcctx.ChunksFrom(ctx); cache != nil {
		cache.Remove(bookID)
	}
	writeJSON(w, http.StatusOK, DeleteBookResponse{ID: bookID, Deleted: true})
}

func (e *DeleteBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book and all of its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/v1/books/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}
