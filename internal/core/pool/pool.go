// Package pool runs a job's extraction targets through a bounded set of
// concurrent workers with per-domain rate limiting and cooperative
// cancellation between targets.
package pool

import (
	"context"
	"sync"

	"enricher/internal/logger"
)

type Pool struct {
	log     *logger.Logger
	width   int
	limiter *DomainLimiter
}

func New(width int, limiter *DomainLimiter) *Pool {
	if width <= 0 {
		width = 4
	}
	return &Pool{log: logger.New("WorkerPool"), width: width, limiter: limiter}
}

// Run dispatches targets to width workers and blocks until the pool drains.
// skip filters targets already satisfied (idempotent resume); work handles a
// single target and reports its own outcome. The stop signal is checked
// between targets, never mid-fetch, so at most width in-flight targets
// finish after cancellation.
func (p *Pool) Run(ctx context.Context, targets []string, skip func(string) bool, work func(ctx context.Context, target string)) {
	queue := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.width; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for target := range queue {
				select {
				case <-ctx.Done():
					p.log.LogDebugf("worker %d draining after stop", id)
					return
				default:
				}
				if err := p.limiter.Wait(ctx, target); err != nil {
					return
				}
				work(ctx, target)
			}
		}(i + 1)
	}

	seen := make(map[string]struct{}, len(targets))
feed:
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if skip != nil && skip(t) {
			continue
		}
		select {
		case queue <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
}
