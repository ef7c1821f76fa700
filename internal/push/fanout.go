package push

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"campus-chat/internal/metrics"
)

type FanoutOptions struct {
	Concurrency int
	Timeout     time.Duration
}

type FanoutResult struct {
	Delivered int
	Failed    []string
}

// Fanout pushes ev to every user with bounded concurrency. Each push gets its
// own deadline so one stuck recipient cannot hold up the rest. Failures are
// collected, never returned as an error.
func Fanout(ctx context.Context, d Dispatcher, userIDs []string, ev Event, opts FanoutOptions) FanoutResult {
	start := time.Now()
	defer func() { metrics.FanoutDuration.Observe(time.Since(start).Seconds()) }()

	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	var (
		delivered atomic.Int64
		failed    = make([]bool, len(userIDs))
		g         errgroup.Group
	)
	g.SetLimit(opts.Concurrency)
	for i, id := range userIDs {
		i, id := i, id
		g.Go(func() error {
			pctx := ctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}
			if err := d.Push(pctx, id, ev); err != nil {
				failed[i] = true
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	g.Wait()

	res := FanoutResult{Delivered: int(delivered.Load())}
	for i, f := range failed {
		if f {
			res.Failed = append(res.Failed, userIDs[i])
		}
	}
	return res
}
