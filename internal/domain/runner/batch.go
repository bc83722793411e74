package runner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// BatchItem is the outcome for one input, in input order.
type BatchItem[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// BatchReport is the outcome of BatchProcess.
type BatchReport[T, R any] struct {
	Items        []BatchItem[T, R]
	Failed       int
	Chunks       int
	TotalElapsed time.Duration
}

// BatchProcess applies fn to items in chunks of batchSize (the runner default
// when batchSize <= 0). Items of one chunk run concurrently; chunks run in
// sequence, each followed by the runner's batch delay before the next starts,
// however long it ran. A failing item never
// stops the batch. If ctx ends, the remaining items fail with ctx.Err().
func BatchProcess[T, R any](ctx context.Context, r *Runner, items []T, batchSize int, fn func(context.Context, T) (R, error)) BatchReport[T, R] {
	start := time.Now()
	if batchSize <= 0 {
		batchSize = r.batchSize
	}
	rep := BatchReport[T, R]{Items: make([]BatchItem[T, R], len(items))}
	for i, it := range items {
		rep.Items[i] = BatchItem[T, R]{Index: i, Item: it}
	}

	for lo := 0; lo < len(items); lo += batchSize {
		hi := min(lo+batchSize, len(items))
		if lo > 0 && r.batchDelay > 0 {
			if err := pause(ctx, r.batchDelay); err != nil {
				failRemaining(rep.Items[lo:], err)
				break
			}
		}
		rep.Chunks++

		g := new(errgroup.Group)
		g.SetLimit(r.maxConcurrency)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					rep.Items[i].Err = err
					return nil
				}
				rep.Items[i].Value, rep.Items[i].Err = safeRun(ctx, func(ctx context.Context) (R, error) {
					return fn(ctx, rep.Items[i].Item)
				})
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, it := range rep.Items {
		ok := it.Err == nil
		metrics.RecordBatchItem(ok)
		if !ok {
			rep.Failed++
			r.log.Warn(ctx, "batch item failed", logger.Int("index", it.Index), logger.Error(it.Err))
		}
	}
	r.batchItems.Add(int64(len(items)))
	r.batchFailures.Add(int64(rep.Failed))
	rep.TotalElapsed = time.Since(start)
	return rep
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func failRemaining[T, R any](items []BatchItem[T, R], err error) {
	for i := range items {
		if items[i].Err == nil {
			items[i].Err = err
		}
	}
}
