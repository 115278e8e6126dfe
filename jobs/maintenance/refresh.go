package maintenance

import (
	"context"
	"time"

	"github.com/n0rdy/qakka/jobs"
)

type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshJob reloads queue configurations, shard metadata and read buffers,
// picking up what other processes sharing the store have changed.
type RefreshJob struct {
	*jobs.Job
}

func NewRefreshJob(refresher Refresher, intervalMs int64) *RefreshJob {
	job := jobs.Start("refresh", time.Duration(intervalMs)*time.Millisecond, jobs.MaxDuration(intervalMs), refresher.Refresh)

	return &RefreshJob{
		Job: job,
	}
}
