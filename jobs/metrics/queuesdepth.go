package metrics

import (
	"context"
	"time"

	"github.com/n0rdy/qakka/common"
	"github.com/n0rdy/qakka/jobs"
	"github.com/n0rdy/qakka/metrics"

	"github.com/rs/zerolog/log"
)

type DepthReader interface {
	QueueDepths(ctx context.Context) ([]common.QueueDepth, error)
}

type QueuesDepthMetricsJob struct {
	*jobs.Job
}

func NewQueuesDepthMetricsJob(metricsService metrics.Service, reader DepthReader, intervalMs int64) *QueuesDepthMetricsJob {
	job := jobs.Start("queues_depth_metrics", time.Duration(intervalMs)*time.Millisecond, jobs.MaxDuration(intervalMs), func(ctx context.Context) error {
		depths, err := reader.QueueDepths(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to fetch queues depth by QueuesDepthMetricsJob")
		}
		// partial results are still worth reporting
		for _, qd := range depths {
			metricsService.SetQueueDepth(qd.QueueName, common.MessageTypeDefault.String(), qd.Available)
			metricsService.SetQueueDepth(qd.QueueName, common.MessageTypeInflight.String(), qd.Inflight)
		}
		return nil
	})

	return &QueuesDepthMetricsJob{
		Job: job,
	}
}
