package sink

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/andresmejia3/rollcall/internal/presence"
)

type job struct {
	ctx context.Context
	ev  presence.Event
}

// Async moves delivery off the sampling goroutine. Events are sharded by
// identity onto FIFO workers, so two events for the same identity are always
// delivered in emission order while slow deliveries for one identity do not
// hold up the others.
type Async struct {
	adapter *Adapter
	shards  []chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts shards workers, each with a queue of depth events.
// Dispatch blocks when a shard's queue is full.
func NewAsync(a *Adapter, shards, depth int) *Async {
	if shards < 1 {
		shards = 1
	}
	if depth < 1 {
		depth = 1
	}
	as := &Async{adapter: a, shards: make([]chan job, shards)}
	for i := range as.shards {
		ch := make(chan job, depth)
		as.shards[i] = ch
		as.wg.Add(1)
		go func() {
			defer as.wg.Done()
			for j := range ch {
				as.adapter.deliver(j.ctx, j.ev)
			}
		}()
	}
	return as
}

func (as *Async) shardFor(id presence.Identity) chan job {
	h := fnv.New32a()
	h.Write([]byte(id))
	return as.shards[h.Sum32()%uint32(len(as.shards))]
}

// Dispatch enqueues events. Delivery survives cancellation of ctx so that a
// stop signal does not lose events already emitted.
func (as *Async) Dispatch(ctx context.Context, events []presence.Event) {
	as.mu.RLock()
	defer as.mu.RUnlock()
	if as.closed {
		return
	}
	dctx := context.WithoutCancel(ctx)
	for _, ev := range events {
		as.shardFor(ev.Identity) <- job{ctx: dctx, ev: ev}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (as *Async) Close() error {
	as.mu.Lock()
	if as.closed {
		as.mu.Unlock()
		return nil
	}
	as.closed = true
	for _, ch := range as.shards {
		close(ch)
	}
	as.mu.Unlock()
	as.wg.Wait()
	return nil
}
