package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/epicrunze/evocable/internal/types"
)

// CreateOwner inserts a new owner principal and returns it.
// Token issuance is external to the core; PutToken binds tokens to owners.
func (s *Store) CreateOwner(ctx context.Context, name string) (*types.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owner := &types.Owner{
		ID:        types.NewID(),
		Name:      name,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(owner)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOwners).Put([]byte(owner.ID), raw)
	})
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// GetOwner returns an owner by id, or ErrNotFound.
func (s *Store) GetOwner(ctx context.Context, id string) (*types.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var owner *types.Owner
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOwners).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("owner %s: %w", id, ErrNotFound)
		}
		owner = new(types.Owner)
		return json.Unmarshal(raw, owner)
	})
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// DeactivateOwner soft-deactivates an owner. Owners are never deleted.
func (s *Store) DeactivateOwner(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOwners)
		raw := bkt.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("owner %s: %w", id, ErrNotFound)
		}
		var owner types.Owner
		if err := json.Unmarshal(raw, &owner); err != nil {
			return err
		}
		owner.Active = false
		out, err := json.Marshal(&owner)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(id), out)
	})
}

// PutToken binds a bearer token to an owner. Only the SHA-256 of the
// token is stored.
func (s *Store) PutToken(ctx context.Context, token, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	key := tokenKey(token)
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketOwners).Get([]byte(ownerID)) == nil {
			return fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
		}
		return tx.Bucket(bucketTokens).Put(key, []byte(ownerID))
	})
}

// ResolveToken maps a bearer token to its owner id. Tokens of deactivated
// owners resolve to ErrNotFound.
func (s *Store) ResolveToken(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var ownerID string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTokens).Get(tokenKey(token))
		if v == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(bucketOwners).Get(v)
		if raw == nil {
			return ErrNotFound
		}
		var owner types.Owner
		if err := json.Unmarshal(raw, &owner); err != nil {
			return err
		}
		if !owner.Active {
			return ErrNotFound
		}
		ownerID = string(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

func tokenKey(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}
