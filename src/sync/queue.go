package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/google/uuid"
)

// Queue is the ordered, durable list of not-yet-confirmed mutations. It is
// drained strictly head-to-tail: a retryable failure blocks everything behind
// it, because later operations may depend on earlier ones (a transaction can
// reference an account whose creation is still queued). At most one drain
// runs at a time.
type Queue struct {
	mu      stdsync.Mutex
	ops     []Operation
	storage *Storage
	remote  Remote

	draining atomic.Bool
	online   atomic.Bool

	// onSynced runs after a drain pass that removed at least one operation,
	// so the owner can re-fetch authoritative state.
	onSynced func(ctx context.Context)
}

// NewQueue restores any persisted queue from storage. The queue starts
// offline; the owner flips it online once connectivity is established.
func NewQueue(storage *Storage, remote Remote) (*Queue, error) {
	q := &Queue{storage: storage, remote: remote}

	var persisted []Operation
	found, err := storage.Read(QueueKey, &persisted)
	if err != nil {
		return nil, fmt.Errorf("failed to restore sync queue: %w", err)
	}
	if found {
		q.ops = persisted
	}
	if len(q.ops) > 0 {
		logger.L.Info("Restored pending sync operations", "count", len(q.ops))
	}
	return q, nil
}

// SetOnSynced registers the post-drain callback. Must be called before the
// first drain.
func (q *Queue) SetOnSynced(fn func(ctx context.Context)) {
	q.onSynced = fn
}

// Enqueue appends a mutation to the tail of the queue and persists it before
// returning, so the operation survives a crash even if the drain never runs.
// A drain is kicked off in the background when the client is online.
func (q *Queue) Enqueue(op Operation) error {
	op.ID = uuid.New().String()
	op.CreatedAt = time.Now()
	op.Attempts = 0

	q.mu.Lock()
	q.ops = append(q.ops, op)
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}

	if q.online.Load() {
		go q.Drain(context.Background())
	}
	return nil
}

// Len reports the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Operations returns a snapshot of the pending operations in order.
func (q *Queue) Operations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops := make([]Operation, len(q.ops))
	copy(ops, q.ops)
	return ops
}

// Online reports the current connectivity flag.
func (q *Queue) Online() bool {
	return q.online.Load()
}

// SetOnline flips the connectivity flag. An offline-to-online transition
// triggers a drain of anything queued while disconnected.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	wasOnline := q.online.Swap(online)
	if online && !wasOnline {
		q.Drain(ctx)
	}
}

// outcome is the drain's classification of one remote attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeDrop
)

// Drain applies queued operations to the remote in strict FIFO order. It is
// a no-op when offline or when another drain is already running. A retryable
// failure increments the head's attempt counter and stops the pass; later
// operations are never attempted ahead of a stuck head.
func (q *Queue) Drain(ctx context.Context) {
	if !q.online.Load() {
		return
	}
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	removedAny := false
	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.mu.Unlock()
			break
		}
		head := q.ops[0]
		q.mu.Unlock()

		err := q.run(ctx, head)
		switch classify(err) {
		case outcomeSuccess:
			q.pop()
			removedAny = true

		case outcomeDrop:
			logger.L.Warn("Dropping permanently rejected sync operation",
				"opID", head.ID, "kind", head.Kind, "error", err)
			q.pop()
			removedAny = true

		case outcomeRetry:
			q.mu.Lock()
			if len(q.ops) > 0 && q.ops[0].ID == head.ID {
				q.ops[0].Attempts++
				if perr := q.persistLocked(); perr != nil {
					logger.L.Error("Failed to persist sync queue", "error", perr)
				}
			}
			q.mu.Unlock()
			logger.L.Debug("Sync operation failed, will retry",
				"opID", head.ID, "kind", head.Kind, "attempts", head.Attempts+1, "error", err)
			if removedAny && q.onSynced != nil {
				q.onSynced(ctx)
			}
			return
		}
	}

	if removedAny && q.onSynced != nil {
		q.onSynced(ctx)
	}
}

// run dispatches one operation to the matching remote call. The switch is
// exhaustive over the operation kinds; an unknown kind (from a corrupt or
// future queue file) is surfaced as a permanent rejection.
func (q *Queue) run(ctx context.Context, op Operation) error {
	switch op.Kind {
	case OpCreateAccount:
		if op.Account == nil {
			return &StatusError{Code: 400, Message: "create_account operation missing account"}
		}
		return q.remote.CreateAccount(ctx, *op.Account)
	case OpDeleteAccount:
		return q.remote.DeleteAccount(ctx, op.AccountID)
	case OpAddTransaction:
		if op.Payload == nil {
			return &StatusError{Code: 400, Message: "add_transaction operation missing payload"}
		}
		return q.remote.AddTransaction(ctx, op.AccountID, *op.Payload)
	default:
		return &StatusError{Code: 400, Message: fmt.Sprintf("unknown operation kind %q", op.Kind)}
	}
}

// classify maps a remote result onto the operation state machine: nil is
// success, connectivity failures and server-side outages are retried, and
// definitive client errors are dropped so they cannot wedge the queue
// (a 409 on create means the account already exists, a 404 on delete means
// it is already gone; both are safe to discard).
func classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}

	statusErr, ok := err.(*StatusError)
	if !ok {
		// No HTTP status at all: the request never completed.
		return outcomeRetry
	}
	if statusErr.Code >= 500 {
		return outcomeRetry
	}
	return outcomeDrop
}

func (q *Queue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return
	}
	q.ops = q.ops[1:]
	if err := q.persistLocked(); err != nil {
		logger.L.Error("Failed to persist sync queue", "error", err)
	}
}

func (q *Queue) persistLocked() error {
	ops := q.ops
	if ops == nil {
		ops = []Operation{}
	}
	return q.storage.Write(QueueKey, ops)
}
