package maintenance

import (
	"context"
	"time"

	"github.com/n0rdy/qakka/jobs"
)

type Optimizer interface {
	Optimize(ctx context.Context)
}

type DbOptimizationJob struct {
	*jobs.Job
}

func NewDbOptimizationJob(optimizer Optimizer, intervalMs int64, maxDurationMs int64) *DbOptimizationJob {
	job := jobs.Start("db_optimization", time.Duration(intervalMs)*time.Millisecond, time.Duration(maxDurationMs)*time.Millisecond, func(ctx context.Context) error {
		optimizer.Optimize(ctx)
		return nil
	})

	return &DbOptimizationJob{
		Job: job,
	}
}
