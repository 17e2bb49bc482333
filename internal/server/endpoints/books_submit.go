package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/epicrunze/evocable/internal/api"
	"github.com/epicrunze/evocable/internal/ingest"
	"github.com/epicrunze/evocable/internal/svcctx"
	"github.com/epicrunze/evocable/internal/types"
)

// SubmitBookEndpoint handles POST /api/v1/books. The request is a
// multipart form with a title, an optional format, and the document
// itself under the "file" field.
type SubmitBookEndpoint struct{}

var _ api.Endpoint = (*SubmitBookEndpoint)(nil)

func (e *SubmitBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books", e.handler
}

func (e *SubmitBookEndpoint) RequiresAuth() bool { return true }

func (e *SubmitBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := svcctx.IngestFrom(ctx)

	// Parsing headers only; the file part is streamed to the ingest
	// service, which enforces the size limit itself.
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "malformed multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "missing file field")
		return
	}
	defer file.Close()

	format := r.FormValue("format")
	ext := formatFromFilename(header.Filename)
	if format == "" {
		format = ext
	} else if ext != "" && ext != format {
		// Content sniffing alone cannot catch every mislabel (PDF bytes
		// are often valid UTF-8), so a recognized extension must agree
		// with the declared format.
		writeError(w, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("declared format %q does not match file extension %q", format, filepath.Ext(header.Filename)))
		return
	}

	book, err := svc.Submit(ctx, ingest.Request{
		OwnerID: svcctx.OwnerFrom(ctx),
		Title:   r.FormValue("title"),
		Format:  types.Format(format),
		Source:  file,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookResponse(book))
}

func formatFromFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return string(types.FormatPDF)
	case ".epub":
		return string(types.FormatEPUB)
	case ".txt", ".text":
		return string(types.FormatTXT)
	}
	return ""
}

func (e *SubmitBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a document for audiobook processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			client := api.NewClient(getServerURL())
			fields := map[string]string{
				"title":  title,
				"format": formatFromFilename(path),
			}
			var resp BookResponse
			if err := client.PostFile(cmd.Context(), "/api/v1/books", fields, "file", filepath.Base(path), f, &resp); err != nil {
				return err
			}
			fmt.Printf("Submitted %q as %s\n", resp.Title, resp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title (defaults to the file name)")
	return cmd
}
