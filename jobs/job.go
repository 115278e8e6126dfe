package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job runs a task on a fixed interval until it is closed. Runs never overlap.
type Job struct {
	name      string
	ticker    *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Start schedules run every interval. Each run gets a context that expires after maxDuration.
func Start(name string, interval time.Duration, maxDuration time.Duration, run func(ctx context.Context) error) *Job {
	j := &Job{
		name:   name,
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case <-j.ticker.C:
				ctx, cancelFunc := context.WithTimeout(context.Background(), maxDuration)
				if err := run(ctx); err != nil {
					log.Error().Err(err).Str("job", name).Msg("job run failed")
				}
				cancelFunc()
			case <-j.done:
				return
			}
		}
	}()

	log.Debug().Str("job", name).Dur("interval", interval).Msg("job started")
	return j
}

// Close stops the job and waits for a run in progress to finish. Calling it more than once is fine.
func (j *Job) Close() error {
	j.closeOnce.Do(func() {
		j.ticker.Stop()
		close(j.done)
		j.wg.Wait()
		log.Debug().Str("job", j.name).Msg("job stopped")
	})
	return nil
}

// MaxDuration leaves a second of headroom before the next tick, the way every job budgets its runs.
func MaxDuration(intervalMs int64) time.Duration {
	if intervalMs > 2000 {
		return time.Duration(intervalMs-1000) * time.Millisecond
	}
	return time.Duration(intervalMs) * time.Millisecond
}
