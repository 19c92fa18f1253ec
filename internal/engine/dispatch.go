package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/voicerank/internal/model"
)

// DefaultShards is the default number of dispatcher shards.
const DefaultShards = 8

// DefaultShardBuffer is the default per-shard channel capacity.
const DefaultShardBuffer = 64

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher feeds events into an Engine from concurrent sources.
//
// Each key hashes to one shard, and each shard is a single goroutine, so a
// key's events are handled in submission order while different shards run
// in parallel.
type Dispatcher struct {
	engine *Engine
	shards []chan model.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// DispatchStats counts handled events.
type DispatchStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// NewDispatcher creates a dispatcher with the given shard count and per-shard
// buffer. Non-positive values fall back to the defaults.
func NewDispatcher(e *Engine, shards, buffer int) *Dispatcher {
	if shards <= 0 {
		shards = DefaultShards
	}
	if buffer <= 0 {
		buffer = DefaultShardBuffer
	}
	d := &Dispatcher{
		engine: e,
		shards: make([]chan model.Event, shards),
	}
	for i := range d.shards {
		d.shards[i] = make(chan model.Event, buffer)
	}
	return d
}

// Start launches one worker per shard. Workers exit when the dispatcher is
// closed and drained, or when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.shards {
		d.wg.Add(1)
		go d.work(ctx, i, ch)
	}
}

// Submit routes ev to its key's shard. Blocks while the shard is full.
func (d *Dispatcher) Submit(ctx context.Context, ev model.Event) error {
	key := ev.Key()
	if err := key.Validate(); err != nil {
		return fmt.Errorf("submit %s: %w", ev.Type, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.shards[d.shardFor(key)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Already queued events are still handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns the processed/failed counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) shardFor(key model.SessionKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.MemberID))
	h.Write([]byte{0})
	h.Write([]byte(key.CommunityID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) work(ctx context.Context, shard int, ch <-chan model.Event) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("dispatcher shard stopping: context cancelled", "shard", shard)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := d.engine.Handle(ctx, ev); err != nil {
				d.failed.Add(1)
				continue
			}
			d.processed.Add(1)
		}
	}
}
