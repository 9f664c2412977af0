package compaction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colonnade-db/colonnade/internal/segment"
)

// Compactor runs the policy on a fixed interval against the live segment
// index and drives the worker through every runnable plan. It runs on its
// own goroutine and never blocks ingest; a failed plan is simply retried
// on the next tick because its inputs remain listed in the index.
type Compactor struct {
	policy   Policy
	worker   *Worker
	index    *segment.Index
	interval time.Duration
	log      *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewCompactor builds a Compactor over the given policy and worker.
func NewCompactor(policy Policy, worker *Worker, index *segment.Index, interval time.Duration, log *zap.SugaredLogger) *Compactor {
	return &Compactor{policy: policy, worker: worker, index: index, interval: interval, log: log}
}

// Start launches the background tick loop.
func (c *Compactor) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick(ctx)
			}
		}
	}()
}

// Tick evaluates the policy once and runs every resulting plan serially.
// Exposed so tests and the engine's flush path can drive compaction
// deterministically.
func (c *Compactor) Tick(ctx context.Context) {
	plans := c.policy.Plans(c.index.Snapshot())
	for _, plan := range plans {
		if ctx.Err() != nil {
			return
		}
		if err := c.worker.Run(ctx, plan); err != nil {
			c.log.Errorw("compaction plan failed; inputs retained",
				"level", plan.Level, "inputs", plan.InputIDs(), "error", err)
		}
	}
}

// Close stops the tick loop and waits for any in-flight plan to finish.
func (c *Compactor) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}
