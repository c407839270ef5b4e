package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hrmflow/types"
)

// BatchItem is one query's outcome within a batch.
type BatchItem struct {
	Index  int     `json:"index"`
	Query  string  `json:"query"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// ExecuteBatch runs queries with at most BatchParallelism in flight.
// Per-query errors are reported in the items; the returned error is set
// only for an invalid batch or a cancelled context.
func (e *Engine) ExecuteBatch(ctx context.Context, queries []string) ([]BatchItem, error) {
	if len(queries) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "batch must contain at least one query").WithHTTPStatus(400)
	}
	if e.config.MaxBatchSize > 0 && len(queries) > e.config.MaxBatchSize {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("batch too large: %d > %d queries", len(queries), e.config.MaxBatchSize)).WithHTTPStatus(400)
	}

	items := make([]BatchItem, len(queries))
	var g errgroup.Group
	g.SetLimit(e.config.BatchParallelism)
	for i, q := range queries {
		g.Go(func() error {
			item := BatchItem{Index: i, Query: q}
			r, err := e.Execute(ctx, q)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Result = r
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait() // 子任务不返回错误，失败记录在 item 中

	if err := ctx.Err(); err != nil {
		return items, err
	}
	return items, nil
}
