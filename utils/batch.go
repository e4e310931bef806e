package utils

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchConfig 批量操作配置
type BatchConfig struct {
	// Concurrency 并发数量
	Concurrency int
	// OnProgress 进度回调函数
	OnProgress func(progress BatchProgress)
}

// BatchProgress 批量操作进度
type BatchProgress struct {
	Completed  int
	Total      int
	Percentage int
	Success    int
	Failed     int
}

// DefaultBatchConfig 返回默认批量配置
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		Concurrency: 5,
	}
}

// BatchQueryResult 批量查询结果
//
// Results 与输入一一对应（按输入顺序），失败项保留零值并记录在 Errors 中
type BatchQueryResult[T any] struct {
	Results []T
	OK      []bool
	Errors  []BatchError
	Total   int
	Success int
	Failed  int
}

// BatchError 批量操作错误
type BatchError struct {
	Index int
	Error error
}

// BatchQuery 批量查询
//
// 对一组输入并发调用查询函数，单项失败不会中断其余查询
//
// 示例：
//
//	ids := []common.Hash{h1, h2, h3}
//	res, err := BatchQuery(ctx, ids, func(ctx context.Context, id common.Hash, index int) (*game.RawGame, error) {
//	    return ledgerService.GetGame(ctx, id)
//	}, DefaultBatchConfig())
func BatchQuery[T any, R any](
	ctx context.Context,
	items []T,
	queryFn func(ctx context.Context, item T, index int) (R, error),
	config *BatchConfig,
) (*BatchQueryResult[R], error) {
	if config == nil {
		config = DefaultBatchConfig()
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	out := &BatchQueryResult[R]{
		Results: make([]R, len(items)),
		OK:      make([]bool, len(items)),
		Errors:  make([]BatchError, 0),
		Total:   len(items),
	}

	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := queryFn(gctx, item, i)

			mu.Lock()
			defer mu.Unlock()
			completed++
			if err != nil {
				out.Errors = append(out.Errors, BatchError{Index: i, Error: err})
				out.Failed++
			} else {
				out.Results[i] = result
				out.OK[i] = true
				out.Success++
			}
			if config.OnProgress != nil {
				config.OnProgress(BatchProgress{
					Completed:  completed,
					Total:      len(items),
					Percentage: completed * 100 / len(items),
					Success:    out.Success,
					Failed:     out.Failed,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch query aborted: %w", err)
	}
	return out, nil
}

// ParallelExecute 并行执行多个操作，任一失败即返回错误
func ParallelExecute[T any, R any](
	ctx context.Context,
	items []T,
	executeFn func(ctx context.Context, item T) (R, error),
	concurrency int,
) ([]R, error) {
	if concurrency <= 0 {
		concurrency = 5
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, item := range items {
		g.Go(func() error {
			result, err := executeFn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parallel execute failed: %w", err)
	}
	return results, nil
}

// LastN 返回切片最后 n 项并倒序（最新的在前）
func LastN[T any](items []T, n int) []T {
	if n <= 0 || n > len(items) {
		n = len(items)
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= len(items)-n; i-- {
		out = append(out, items[i])
	}
	return out
}
