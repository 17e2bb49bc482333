// Package auth provides bearer-token authentication, per-book ownership
// checks, and short-lived signed chunk URLs.
//
// Ownership failures deliberately surface as "not found" at the HTTP
// layer so resource existence never leaks across principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/epicrunze/evocable/internal/store"
	"github.com/epicrunze/evocable/internal/types"
)

// ErrUnauthorized is returned when a request carries no valid credential.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Authenticator resolves bearer tokens to owner ids via the metadata
// store. Token issuance is external; the store only holds bindings.
type Authenticator struct {
	store *store.Store
}

// New creates an Authenticator backed by the given store.
func New(s *store.Store) *Authenticator {
	return &Authenticator{store: s}
}

// Authenticate extracts and resolves the request's bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (ownerID string, err error) {
	token, err := BearerToken(r)
	if err != nil {
		return "", err
	}

	ownerID, err = a.store.ResolveToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve token: %w", err)
	}
	return ownerID, nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrUnauthorized
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrUnauthorized
	}
	return token, nil
}

// CheckOwnership verifies that the book belongs to ownerID. A mismatch
// is reported as store.ErrNotFound, never as a distinct forbidden error.
func CheckOwnership(book *types.Book, ownerID string) error {
	if book.OwnerID != ownerID {
		return fmt.Errorf("book %s: %w", book.ID, store.ErrNotFound)
	}
	return nil
}
