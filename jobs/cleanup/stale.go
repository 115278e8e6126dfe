package cleanup

import (
	"context"
	"time"

	"github.com/n0rdy/qakka/jobs"

	"github.com/rs/zerolog/log"
)

type TimeoutsProcessor interface {
	ProcessTimeouts(ctx context.Context) (int, error)
}

// StaleLeasesCleanupJob hands leases that outlived their handling timeout back to their queue,
// or to the dead-letter queue.
type StaleLeasesCleanupJob struct {
	*jobs.Job
}

func NewStaleLeasesCleanupJob(processor TimeoutsProcessor, intervalMs int64) *StaleLeasesCleanupJob {
	job := jobs.Start("stale_leases_cleanup", time.Duration(intervalMs)*time.Millisecond, jobs.MaxDuration(intervalMs), func(ctx context.Context) error {
		reclaimed, err := processor.ProcessTimeouts(ctx)
		if reclaimed > 0 {
			log.Info().Int("reclaimed", reclaimed).Msg("stale leases reclaimed")
		}
		return err
	})

	return &StaleLeasesCleanupJob{
		Job: job,
	}
}
