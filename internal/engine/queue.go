package engine

import (
	"sync"

	"github.com/roach88/voicerank/internal/model"
)

// Effect is a post-commit side effect for one key: assign the role of the
// tier at RankIndex, and notify the member if this is a fresh promotion.
type Effect struct {
	Key       model.SessionKey
	RankIndex int
	TierName  string

	// Promotion is nil when the effect only re-syncs a lagging role.
	Promotion *model.PromotionEvent
}

// pendingRole identifies a role assignment that is queued or being applied.
type pendingRole struct {
	key  model.SessionKey
	rank int
}

// effectQueue is a thread-safe FIFO queue for side effects.
//
// The queue is unbounded so that event handlers never block on a slow role
// sink. It uses a channel for signaling to enable context-aware waiting in
// the Run loop.
//
// Every enqueued effect stays in the pending set until Done is called for it,
// so a lagging role is not queued twice while its assignment is in flight.
type effectQueue struct {
	mu      sync.Mutex
	effects []Effect
	pending map[pendingRole]int
	closed  bool
	signal  chan struct{} // Signals effect availability (buffered, size 1)
}

// newEffectQueue creates an empty effect queue.
func newEffectQueue() *effectQueue {
	return &effectQueue{
		effects: make([]Effect, 0, 64),
		pending: make(map[pendingRole]int),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds an effect to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *effectQueue) Enqueue(e Effect) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.effects = append(q.effects, e)
	q.pending[pendingRole{key: e.Key, rank: e.RankIndex}]++

	// Non-blocking - buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Effect{}, false) if queue is empty.
func (q *effectQueue) TryDequeue() (Effect, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.effects) == 0 {
		return Effect{}, false
	}

	e := q.effects[0]

	// Nil out the slot so the PromotionEvent pointer can be collected.
	q.effects[0] = Effect{}

	if len(q.effects) == 1 {
		q.effects = q.effects[:0]
	} else {
		q.effects = q.effects[1:]
	}

	return e, true
}

// IsPending reports whether an effect assigning rank to key has been enqueued
// and not yet marked Done.
func (q *effectQueue) IsPending(key model.SessionKey, rank int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[pendingRole{key: key, rank: rank}] > 0
}

// Done releases e from the pending set once it has been applied, whether or
// not the sink succeeded.
func (q *effectQueue) Done(e Effect) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pr := pendingRole{key: e.Key, rank: e.RankIndex}
	if q.pending[pr] <= 1 {
		delete(q.pending, pr)
		return
	}
	q.pending[pr]--
}

// Wait returns a channel that signals when effects may be available.
// The channel is closed once the queue is closed.
func (q *effectQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *effectQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.effects)
}

// Close signals that no more effects will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *effectQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
