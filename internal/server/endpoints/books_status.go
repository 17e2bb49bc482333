package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
)

// BookStatusEndpoint handles GET /api/v1/books/{id}/status.
type BookStatusEndpoint struct{}

var _ api.Endpoint = (*BookStatusEndpoint)(nil)

func (e *BookStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{id}/status", e.handler
}

func (e *BookStatusEndpoint) RequiresAuth() bool { return true }

func (e *BookStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	book, err := fetchOwnedBook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookResponse(book))
}

func (e *BookStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <book-id>",
		Short: "Show processing status for a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BookResponse
			if err := client.Get(cmd.Context(), "/api/v1/books/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
