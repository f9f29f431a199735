package shard

import (
	"context"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"

	"github.com/marlinkv/marlin/lib/core"
	"github.com/marlinkv/marlin/lib/util"
)

var log = logger.GetLogger("marlin.shard")

// task is one unit of work queued on a shard.
type task struct {
	fn func()
}

// Shard is a single worker with exclusive ownership of a keyspace
// subset. The data it owns is attached by the layers above through
// SetData and only accessed from tasks.
type Shard struct {
	id    int
	queue *util.MPSC[task]
	done  chan struct{}
	data  any
}

// ID returns the shard's index.
func (s *Shard) ID() int { return s.id }

// Data returns the value attached with SetData.
func (s *Shard) Data() any { return s.data }

// SetData attaches the shard's owned state. Called once during setup
// before any task runs.
func (s *Shard) SetData(data any) { s.data = data }

func (s *Shard) run() {
	defer close(s.done)
	for t := range s.queue.Recv() {
		t.fn()
	}
}

// --------------------------------------------------------------------------
// Shard Set
// --------------------------------------------------------------------------

// Set owns all shards of the process.
type Set struct {
	shards []*Shard
}

// NewSet creates and starts n shard workers.
func NewSet(n int) *Set {
	if n <= 0 {
		panic("shard: set size must be positive")
	}
	set := &Set{shards: make([]*Shard, n)}
	for i := range set.shards {
		s := &Shard{id: i, queue: util.NewMPSC[task](), done: make(chan struct{})}
		set.shards[i] = s
		go s.run()
	}
	log.Infof("started %d shard workers", n)
	return set
}

// Size returns the number of shards.
func (s *Set) Size() int { return len(s.shards) }

// Shard returns the shard with the given id.
func (s *Set) Shard(id int) *Shard { return s.shards[id] }

// KeyShard maps a key to its owning shard.
func (s *Set) KeyShard(key string) int {
	return int(core.HashString(key) % uint64(len(s.shards)))
}

// Add queues fn on the shard without waiting for it.
//
// Thread-safety: safe to call from any goroutine.
func (s *Set) Add(shardID int, fn func()) {
	if !s.shards[shardID].queue.Push(&task{fn: fn}) {
		log.Warningf("shard %d rejected task, set is shut down", shardID)
	}
}

// Await queues fn on the shard and blocks until it ran or ctx expires.
// The task still runs if the context expires first, only the wait is
// abandoned.
//
// Thread-safety: safe to call from any goroutine. Must not be called
// from a task on the same shard, that deadlocks.
func (s *Set) Await(ctx context.Context, shardID int, fn func()) error {
	doneCh := make(chan struct{})
	s.Add(shardID, func() {
		defer close(doneCh)
		fn()
	})
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return core.NewErrorf(core.RetCInternalError, "await on shard %d: %v", shardID, ctx.Err())
	}
}

// AwaitRunOnAll runs fn on every shard and waits for all of them.
// Ordering across shards is unspecified, each shard's invocation runs
// atomically with respect to its other tasks.
//
// Thread-safety: safe to call from any goroutine outside shard tasks.
func (s *Set) AwaitRunOnAll(ctx context.Context, fn func(shard *Shard)) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sh := range s.shards {
		sh := sh
		g.Go(func() error {
			return s.Await(ctx, sh.id, func() { fn(sh) })
		})
	}
	return g.Wait()
}

// Shutdown stops all workers after their queued tasks drain.
func (s *Set) Shutdown() {
	for _, sh := range s.shards {
		sh.queue.Close()
	}
	for _, sh := range s.shards {
		<-sh.done
	}
	log.Infof("shard set stopped")
}
