// Package queue implements the stage job queues: named durable FIFO
// queues with at-least-once delivery, reservation leases, delayed
// requeue and automatic lease expiry. Backed by a single bbolt database
// so queued jobs survive restarts.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrEmpty is returned by Reserve when no job is ready.
	ErrEmpty = errors.New("queue: empty")
	// ErrUnknownReceipt is returned when a receipt no longer maps to a
	// leased job (lease expired and the job was redelivered, or already
	// acked).
	ErrUnknownReceipt = errors.New("queue: unknown receipt")
)

// Stage queue names. Queues are created on first use; these constants
// exist so call sites and config agree on spelling.
const (
	QueueExtract    = "extract"
	QueueSegment    = "segment"
	QueueSynthesize = "synthesize"
	QueuePackage    = "package"
)

// Job is one unit of pipeline work: which book, how many attempts so
// far, and any stage-specific inputs.
type Job struct {
	BookID     string            `json:"book_id"`
	Attempt    int               `json:"attempt"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Inputs     map[string]string `json:"inputs,omitempty"`
}

// Receipt identifies a reservation. Opaque to callers. The lease
// generation ties it to one specific reservation: after a lease expires
// and the job is re-reserved, the old receipt no longer matches.
type Receipt struct {
	queue string
	key   uint64
	lease uint64
}

// Stats reports queue depths.
type Stats struct {
	Ready  int `json:"ready"`
	Leased int `json:"leased"`
}

// envelope is the stored form of a job.
type envelope struct {
	Job       Job       `json:"job"`
	NotBefore time.Time `json:"not_before,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"` // lease deadline, leased bucket only
	Consumer  string    `json:"consumer,omitempty"`
	// Lease counts reservations of this job. Ack and Nack require the
	// receipt's generation to match, so a consumer whose lease expired
	// cannot settle a redelivery it no longer owns.
	Lease uint64 `json:"lease,omitempty"`
}

var (
	subReady  = []byte("ready")
	subLeased = []byte("leased")
)

// Broker is the queue broker handle. Safe for concurrent use.
type Broker struct {
	db  *bolt.DB
	now func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// Open opens (creating if necessary) the queue database at path.
func Open(path string, opts ...Option) (*Broker, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue broker: %w", err)
	}
	b := &Broker{db: db, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close closes the underlying database.
func (b *Broker) Close() error {
	return b.db.Close()
}

// Health verifies the database is usable.
func (b *Broker) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error { return nil })
}

// Enqueue appends a job to the named queue.
func (b *Broker) Enqueue(ctx context.Context, queue string, job Job) error {
	return b.enqueue(ctx, queue, job, 0)
}

// EnqueueDelayed appends a job that becomes visible only after delay.
func (b *Broker) EnqueueDelayed(ctx context.Context, queue string, job Job, delay time.Duration) error {
	return b.enqueue(ctx, queue, job, delay)
}

func (b *Broker) enqueue(ctx context.Context, queue string, job Job, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.BookID == "" {
		return fmt.Errorf("job book_id must not be empty")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = b.now().UTC()
	}

	env := envelope{Job: job}
	if delay > 0 {
		env.NotBefore = b.now().Add(delay)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		ready, _, err := queueBuckets(tx, queue)
		if err != nil {
			return err
		}
		seq, err := ready.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return ready.Put(u64Key(seq), raw)
	})
}

// Reserve pops the oldest ready job and leases it to consumerID for the
// lease duration. While leased, the job is invisible to other consumers;
// if the lease expires without Ack or Nack it becomes visible again.
// Returns ErrEmpty when nothing is ready.
func (b *Broker) Reserve(ctx context.Context, queue, consumerID string, lease time.Duration) (Job, Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, Receipt{}, err
	}
	if lease <= 0 {
		return Job{}, Receipt{}, fmt.Errorf("lease duration must be positive")
	}

	var (
		job Job
		rct Receipt
	)
	err := b.db.Update(func(tx *bolt.Tx) error {
		ready, leased, err := queueBuckets(tx, queue)
		if err != nil {
			return err
		}
		now := b.now()

		if err := b.expireLeases(ready, leased, now); err != nil {
			return err
		}

		c := ready.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("corrupt job in queue %s: %w", queue, err)
			}
			if !env.NotBefore.IsZero() && env.NotBefore.After(now) {
				continue
			}

			env.NotBefore = time.Time{}
			env.Deadline = now.Add(lease)
			env.Consumer = consumerID
			env.Lease++
			raw, err := json.Marshal(env)
			if err != nil {
				return err
			}
			key := binary.BigEndian.Uint64(k)
			if err := ready.Delete(k); err != nil {
				return err
			}
			if err := leased.Put(u64Key(key), raw); err != nil {
				return err
			}
			job = env.Job
			rct = Receipt{queue: queue, key: key, lease: env.Lease}
			return nil
		}
		return ErrEmpty
	})
	if err != nil {
		return Job{}, Receipt{}, err
	}
	return job, rct, nil
}

// ReserveWait polls Reserve until a job arrives, the context is
// cancelled, or the wait deadline passes (wait <= 0 waits forever).
func (b *Broker) ReserveWait(ctx context.Context, queue, consumerID string, lease, wait time.Duration) (Job, Receipt, error) {
	var deadline time.Time
	if wait > 0 {
		deadline = b.now().Add(wait)
	}

	const pollInterval = 250 * time.Millisecond
	for {
		job, rct, err := b.Reserve(ctx, queue, consumerID, lease)
		if !errors.Is(err, ErrEmpty) {
			return job, rct, err
		}
		if !deadline.IsZero() && b.now().After(deadline) {
			return Job{}, Receipt{}, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return Job{}, Receipt{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Ack removes a leased job permanently.
func (b *Broker) Ack(ctx context.Context, rct Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		_, leased, err := queueBuckets(tx, rct.queue)
		if err != nil {
			return err
		}
		k := u64Key(rct.key)
		raw := leased.Get(k)
		if raw == nil {
			return ErrUnknownReceipt
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("corrupt leased job in queue %s: %w", rct.queue, err)
		}
		if env.Lease != rct.lease {
			return ErrUnknownReceipt
		}
		return leased.Delete(k)
	})
}

// Nack returns a leased job to its queue, visible again after delay.
// The job's attempt count is incremented.
func (b *Broker) Nack(ctx context.Context, rct Receipt, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		ready, leased, err := queueBuckets(tx, rct.queue)
		if err != nil {
			return err
		}
		k := u64Key(rct.key)
		raw := leased.Get(k)
		if raw == nil {
			return ErrUnknownReceipt
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("corrupt leased job in queue %s: %w", rct.queue, err)
		}
		if env.Lease != rct.lease {
			return ErrUnknownReceipt
		}

		env.Job.Attempt++
		env.Deadline = time.Time{}
		env.Consumer = ""
		if delay > 0 {
			env.NotBefore = b.now().Add(delay)
		} else {
			env.NotBefore = time.Time{}
		}
		out, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := leased.Delete(k); err != nil {
			return err
		}
		// Reuse the original key so the job keeps its place in FIFO order.
		return ready.Put(k, out)
	})
}

// ContainsBook reports whether any ready or leased job in the queue
// references the book. Used by the boot reconciliation sweep.
func (b *Broker) ContainsBook(ctx context.Context, queue, bookID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket(queueBucketName(queue))
		if top == nil {
			return nil
		}
		for _, sub := range [][]byte{subReady, subLeased} {
			bkt := top.Bucket(sub)
			if bkt == nil {
				continue
			}
			err := bkt.ForEach(func(_, v []byte) error {
				var env envelope
				if err := json.Unmarshal(v, &env); err != nil {
					return err
				}
				if env.Job.BookID == bookID {
					found = true
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return found, err
}

// QueueStats returns current depths for the named queue.
func (b *Broker) QueueStats(ctx context.Context, queue string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	var st Stats
	err := b.db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket(queueBucketName(queue))
		if top == nil {
			return nil
		}
		if bkt := top.Bucket(subReady); bkt != nil {
			st.Ready = bkt.Stats().KeyN
		}
		if bkt := top.Bucket(subLeased); bkt != nil {
			st.Leased = bkt.Stats().KeyN
		}
		return nil
	})
	return st, err
}

// expireLeases moves jobs with a passed lease deadline back to ready.
func (b *Broker) expireLeases(ready, leased *bolt.Bucket, now time.Time) error {
	type expired struct {
		key []byte
		raw []byte
	}
	var moves []expired

	err := leased.ForEach(func(k, v []byte) error {
		var env envelope
		if err := json.Unmarshal(v, &env); err != nil {
			return err
		}
		if env.Deadline.After(now) {
			return nil
		}
		env.Job.Attempt++
		env.Deadline = time.Time{}
		env.Consumer = ""
		env.NotBefore = time.Time{}
		raw, err := json.Marshal(env)
		if err != nil {
			return err
		}
		moves = append(moves, expired{key: append([]byte(nil), k...), raw: raw})
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range moves {
		if err := leased.Delete(m.key); err != nil {
			return err
		}
		if err := ready.Put(m.key, m.raw); err != nil {
			return err
		}
	}
	return nil
}

func queueBucketName(queue string) []byte {
	return []byte("q:" + queue)
}

func queueBuckets(tx *bolt.Tx, queue string) (ready, leased *bolt.Bucket, err error) {
	top, err := tx.CreateBucketIfNotExists(queueBucketName(queue))
	if err != nil {
		return nil, nil, err
	}
	ready, err = top.CreateBucketIfNotExists(subReady)
	if err != nil {
		return nil, nil, err
	}
	leased, err = top.CreateBucketIfNotExists(subLeased)
	if err != nil {
		return nil, nil, err
	}
	return ready, leased, nil
}

func u64Key(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}
