package endpoints

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/svcctx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListBooksResponse is the paginated book listing.
type ListBooksResponse struct {
	Books  []BookResponse `json:"books"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// ListBooksEndpoint handles GET /api/v1/books.
type ListBooksEndpoint struct{}

var _ api.Endpoint = (*ListBooksEndpoint)(nil)

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books", e.handler
}

func (e *ListBooksEndpoint) RequiresAuth() bool { return true }

func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "offset must be a non-negative integer")
		return
	}
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, codeValidation, "limit must be between 1 and 500")
		return
	}

	books, err := svcctx.StoreFrom(ctx).ListBooksForOwner(ctx, svcctx.OwnerFrom(ctx), offset, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := ListBooksResponse{Books: make([]BookResponse, 0, len(books)), Offset: offset, Limit: limit}
	for _, b := range books {
		resp.Books = append(resp.Books, bookResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your books",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/v1/books?offset=" + strconv.Itoa(offset) + "&limit=" + strconv.Itoa(limit)
			var resp ListBooksResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of books to skip")
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum books to return")
	return cmd
}
