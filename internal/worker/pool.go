// Package worker provides a bounded worker pool for fanning dispatch
// and scan work out across goroutines without unbounded concurrency,
// grounded on the pond worker-group pattern used for chain-status
// fan-out.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/alitto/pond/v2"
)

// Pool bounds concurrent work to a fixed worker count with a backed
// queue, matching the coordinator's per-chain and the scanner's
// per-batch fan-out needs (spec §4.F, §4.G).
type Pool struct {
	pool pond.Pool
}

func New(maxWorkers, queueSize int) *Pool {
	if queueSize < maxWorkers {
		queueSize = maxWorkers
	}
	return &Pool{pool: pond.NewPool(maxWorkers, pond.WithQueueSize(queueSize))}
}

// RunAll submits every task and waits for all of them to finish,
// returning the first non-cancellation error encountered.
func (p *Pool) RunAll(ctx context.Context, tasks []func() error) error {
	group := p.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var mu sync.Mutex
	var firstErr error

	for _, task := range tasks {
		task := task
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			if err := task(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return firstErr
}

// StopAndWait drains in-flight tasks then releases pool resources,
// used for the shutdown grace period of spec §4.G.
func (p *Pool) StopAndWait() {
	p.pool.StopAndWait()
}
