// Package store implements the durable metadata store: books, chunks,
// owners and bearer tokens, backed by a single bbolt database.
//
// All state transitions go through UpdateBookState, which enforces the
// expected-state optimistic guard. bbolt serializes update transactions,
// so the guard is race-free without explicit locks.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/epicrunze/evocable/internal/types"
)

var (
	// ErrNotFound is returned when a book, chunk, owner or token does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStaleTransition is returned when the expected-state guard fails.
	ErrStaleTransition = errors.New("store: stale transition")
	// ErrConflict is returned on constraint violations, e.g. an upsert with
	// conflicting chunk data or a mismatched total_chunks.
	ErrConflict = errors.New("store: conflict")
)

var (
	bucketBooks      = []byte("books")
	bucketChunks     = []byte("chunks")
	bucketOwnerIndex = []byte("owner_index")
	bucketOwners     = []byte("owners")
	bucketTokens     = []byte("tokens")
)

// Store is the metadata store handle. Safe for concurrent use.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if necessary) the metadata database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBooks, bucketChunks, bucketOwnerIndex, bucketOwners, bucketTokens} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health verifies the database is readable.
func (s *Store) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBooks) == nil {
			return errors.New("books bucket missing")
		}
		return nil
	})
}

// CreateBook atomically inserts a new book in StatePending and returns it.
func (s *Store) CreateBook(ctx context.Context, ownerID, title string, format types.Format) (*types.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	book := &types.Book{
		ID:        types.NewID(),
		OwnerID:   ownerID,
		Title:     title,
		Format:    format,
		State:     types.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketOwners).Get([]byte(ownerID)) == nil {
			return fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
		}
		if err := putBook(tx, book); err != nil {
			return err
		}
		return tx.Bucket(bucketOwnerIndex).Put(ownerIndexKey(book), []byte(book.ID))
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// GetBook returns the book with the given id, or ErrNotFound.
func (s *Store) GetBook(ctx context.Context, id string) (*types.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var book *types.Book
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := getBook(tx, id)
		if err != nil {
			return err
		}
		book = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// ListBooksForOwner returns the owner's books sorted by created_at descending.
// offset/limit provide paging; limit <= 0 means no limit.
func (s *Store) ListBooksForOwner(ctx context.Context, ownerID string, offset, limit int) ([]*types.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var books []*types.Book
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOwnerIndex).Cursor()
		prefix := []byte(ownerID + "/")
		skipped := 0
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(books) >= limit {
				break
			}
			book, err := getBook(tx, string(v))
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue // index entry outlived its row; skip
				}
				return err
			}
			books = append(books, book)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// ListUnfinishedBooks returns every book in a non-terminal state, for
// the boot reconciliation sweep.
func (s *Store) ListUnfinishedBooks(ctx context.Context) ([]*types.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var books []*types.Book
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBooks).ForEach(func(_, v []byte) error {
			var book types.Book
			if err := json.Unmarshal(v, &book); err != nil {
				return fmt.Errorf("corrupt book row: %w", err)
			}
			if !book.State.Terminal() {
				books = append(books, &book)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// StateUpdate describes one guarded state transition.
type StateUpdate struct {
	// Expected is the state the book must currently be in. Empty means
	// "any non-terminal state" (used only for failure transitions).
	Expected types.State
	// Next is the state to transition to.
	Next types.State
	// Percent sets percent_complete; negative leaves it unchanged. Within a
	// successful run the stored value never decreases.
	Percent int
	// ErrorMessage is recorded when transitioning to StateFailed.
	ErrorMessage string
}

// UpdateBookState applies a guarded state transition. It returns
// ErrStaleTransition when the book's current state does not match
// u.Expected, and ErrNotFound when the book has been deleted.
func (s *Store) UpdateBookState(ctx context.Context, id string, u StateUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !u.Next.Valid() {
		return fmt.Errorf("invalid target state %q", u.Next)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		book, err := getBook(tx, id)
		if err != nil {
			return err
		}

		if u.Expected == "" {
			if book.State.Terminal() {
				return fmt.Errorf("book %s already %s: %w", id, book.State, ErrStaleTransition)
			}
		} else if book.State != u.Expected {
			return fmt.Errorf("book %s is %s, expected %s: %w", id, book.State, u.Expected, ErrStaleTransition)
		}

		book.State = u.Next
		book.UpdatedAt = s.now().UTC()
		if u.Next == types.StateFailed {
			book.ErrorMessage = u.ErrorMessage
			if u.Percent >= 0 {
				book.PercentComplete = u.Percent
			}
		} else if u.Percent >= 0 && u.Percent > book.PercentComplete {
			// Monotonic under success.
			book.PercentComplete = min(u.Percent, 100)
		}
		return putBook(tx, book)
	})
}

// MarkFailed transitions a book from any non-terminal state to StateFailed.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	return s.UpdateBookState(ctx, id, StateUpdate{
		Next:         types.StateFailed,
		Percent:      -1,
		ErrorMessage: message,
	})
}

// SetTotalChunks records the final chunk count for a book. Idempotent when
// n matches the existing value; ErrConflict on a mismatched non-null value.
// Must be called only after every chunk row for the book is durable.
func (s *Store) SetTotalChunks(ctx context.Context, id string, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("total_chunks must be non-negative, got %d", n)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		book, err := getBook(tx, id)
		if err != nil {
			return err
		}
		if book.TotalChunks != nil {
			if *book.TotalChunks == n {
				return nil
			}
			return fmt.Errorf("total_chunks already %d, refusing %d: %w", *book.TotalChunks, n, ErrConflict)
		}
		book.TotalChunks = &n
		book.UpdatedAt = s.now().UTC()
		return putBook(tx, book)
	})
}

// UpsertChunk inserts a chunk row, idempotent on (book_id, seq). A second
// upsert with identical data is a no-op; conflicting data is ErrConflict.
func (s *Store) UpsertChunk(ctx context.Context, c types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Seq < 0 {
		return fmt.Errorf("chunk seq must be non-negative, got %d", c.Seq)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getBook(tx, c.BookID); err != nil {
			return err
		}

		bkt, err := tx.Bucket(bucketChunks).CreateBucketIfNotExists([]byte(c.BookID))
		if err != nil {
			return err
		}

		key := seqKey(c.Seq)
		if raw := bkt.Get(key); raw != nil {
			var existing types.Chunk
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("corrupt chunk row %s/%d: %w", c.BookID, c.Seq, err)
			}
			if chunkEqual(existing, c) {
				return nil
			}
			return fmt.Errorf("chunk %s/%d exists with different data: %w", c.BookID, c.Seq, ErrConflict)
		}

		c.CreatedAt = s.now().UTC()
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return bkt.Put(key, raw)
	})
}

// GetChunk returns a single chunk row, or ErrNotFound.
func (s *Store) GetChunk(ctx context.Context, bookID string, seq int) (*types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunk *types.Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketChunks).Bucket([]byte(bookID))
		if bkt == nil {
			return fmt.Errorf("chunk %s/%d: %w", bookID, seq, ErrNotFound)
		}
		raw := bkt.Get(seqKey(seq))
		if raw == nil {
			return fmt.Errorf("chunk %s/%d: %w", bookID, seq, ErrNotFound)
		}
		chunk = new(types.Chunk)
		return json.Unmarshal(raw, chunk)
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// ListChunks returns all chunk rows for a book ordered by seq ascending.
func (s *Store) ListChunks(ctx context.Context, bookID string) ([]types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chunks []types.Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketChunks).Bucket([]byte(bookID))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			var c types.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("corrupt chunk row in %s: %w", bookID, err)
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteBook removes the book row and all its chunk rows in one
// transaction. Deleting an absent book is a no-op.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		book, err := getBook(tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketBooks).Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOwnerIndex).Delete(ownerIndexKey(book)); err != nil {
			return err
		}
		if tx.Bucket(bucketChunks).Bucket([]byte(id)) != nil {
			if err := tx.Bucket(bucketChunks).DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func getBook(tx *bolt.Tx, id string) (*types.Book, error) {
	raw := tx.Bucket(bucketBooks).Get([]byte(id))
	if raw == nil {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	book := new(types.Book)
	if err := json.Unmarshal(raw, book); err != nil {
		return nil, fmt.Errorf("corrupt book row %s: %w", id, err)
	}
	return book, nil
}

func putBook(tx *bolt.Tx, book *types.Book) error {
	raw, err := json.Marshal(book)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBooks).Put([]byte(book.ID), raw)
}

// ownerIndexKey orders an owner's books newest-first under a cursor scan:
// ownerID "/" inverted-creation-nanos "/" bookID.
func ownerIndexKey(book *types.Book) []byte {
	inv := ^uint64(book.CreatedAt.UnixNano())
	return []byte(fmt.Sprintf("%s/%016x/%s", book.OwnerID, inv, book.ID))
}

func seqKey(seq int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(seq))
	return k[:]
}

func chunkEqual(a, b types.Chunk) bool {
	return a.BookID == b.BookID &&
		a.Seq == b.Seq &&
		a.DurationS == b.DurationS &&
		a.ByteSize == b.ByteSize &&
		a.BlobPath == b.BlobPath &&
		a.Checksum == b.Checksum
}
