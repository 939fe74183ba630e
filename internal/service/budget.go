package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/noah-isme/autoenrol/pkg/config"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
)

// budget bounds one batch run by wall time and heap size. Rows are checked
// between commits so an interrupted run leaves every finished row in place.
type budget struct {
	ctx      context.Context
	cancel   context.CancelFunc
	maxHeap  uint64
	every    int
	rows     int
	previous int64
}

// startBudget arms the time budget and the heap check. The runtime memory
// limit is only touched when an operator has set it below MemoryLimitMB (for
// example through GOMEMLIMIT); with the default unlimited setting the heap
// check in Tick is the whole memory budget.
func startBudget(ctx context.Context, cfg config.BatchConfig) *budget {
	b := &budget{every: cfg.CheckEvery, previous: -1}
	if b.every <= 0 {
		b.every = 100
	}
	if cfg.MaxDuration > 0 {
		b.ctx, b.cancel = context.WithTimeout(ctx, cfg.MaxDuration)
	} else {
		b.ctx, b.cancel = context.WithCancel(ctx)
	}
	if cfg.MemoryLimitMB > 0 {
		limit := cfg.MemoryLimitMB << 20
		b.maxHeap = uint64(limit)
		if current := debug.SetMemoryLimit(-1); current < limit {
			b.previous = debug.SetMemoryLimit(limit)
		}
	}
	return b
}

// Context is cancelled once the time budget runs out.
func (b *budget) Context() context.Context {
	return b.ctx
}

// Tick is called once per processed row.
func (b *budget) Tick() error {
	if err := b.ctx.Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrBudgetExceeded.Code, appErrors.ErrBudgetExceeded.Status, "batch time budget exhausted")
	}
	b.rows++
	if b.maxHeap == 0 || b.rows%b.every != 0 {
		return nil
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc > b.maxHeap {
		return appErrors.Clone(appErrors.ErrBudgetExceeded, fmt.Sprintf("heap %d MB over batch limit", stats.HeapAlloc>>20))
	}
	return nil
}

// Exceeded reports whether err ended the run because of the budget.
func (b *budget) Exceeded(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, appErrors.ErrBudgetExceeded) || b.ctx.Err() != nil
}

func (b *budget) Close() {
	b.cancel()
	if b.previous >= 0 {
		debug.SetMemoryLimit(b.previous)
	}
}
