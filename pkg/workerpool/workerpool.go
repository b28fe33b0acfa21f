// Package workerpool 提供有界并发的批量任务执行
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run 使用 workers 个协程并发处理 items
//
// 任一任务返回错误后停止分发剩余任务，并返回第一个错误。
// workers <= 1 时按顺序执行。
func Run[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	if len(items) == 0 {
		return ctx.Err()
	}
	if workers <= 1 {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}
	if workers > len(items) {
		workers = len(items)
	}

	g, gctx := errgroup.WithContext(ctx)
	itemCh := make(chan T)

	// 分发
	g.Go(func() error {
		defer close(itemCh)
		for _, item := range items {
			select {
			case itemCh <- item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for item := range itemCh {
				if err := fn(gctx, item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
