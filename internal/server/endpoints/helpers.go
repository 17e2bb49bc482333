// Package endpoints implements the HTTP API surface. Each endpoint is
// one api.Endpoint: an HTTP route plus the CLI command that calls it.
package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/epicrunze/evocable/internal/auth"
	"github.com/epicrunze/evocable/internal/ingest"
	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/svcctx"
	"github.com/epicrunze/evocable/internal/types"
)

// Machine-readable error codes.
const (
	codeUnauthorized = "unauthorized"
	codeNotFound     = "not_found"
	codeValidation   = "validation_error"
	codeTooLarge     = "file_too_large"
	codeConflict     = "conflict"
	codeRange        = "invalid_range"
	codeInternal     = "internal_error"
)

// ErrorResponse is the standard error body: a machine code plus a
// human message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// writeServiceError maps service-layer errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "book not found")
	case errors.Is(err, ingest.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, err.Error())
	case errors.Is(err, ingest.ErrInvalid):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid credentials")
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

// fetchOwnedBook loads a book and verifies it belongs to the request's
// authenticated owner. Books of other owners surface as not found.
func fetchOwnedBook(ctx context.Context, bookID string) (*types.Book, error) {
	st := svcctx.StoreFrom(ctx)
	book, err := st.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckOwnership(book, svcctx.OwnerFrom(ctx)); err != nil {
		return nil, err
	}
	return book, nil
}
