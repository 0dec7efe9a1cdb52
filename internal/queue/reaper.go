package queue

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/metrics"
)

const DefaultReapSchedule = "@every 30s"

// Reaper periodically returns deliveries with expired leases to the queue.
type Reaper struct {
	cron     *cron.Cron
	queue    Queue
	schedule string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewReaper(q Queue, schedule string, log *zap.Logger, m *metrics.Metrics) *Reaper {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}
	return &Reaper{
		cron:     cron.New(),
		queue:    q,
		schedule: schedule,
		logger:   logger.Named(log, "reaper"),
		metrics:  m,
	}
}

// Start registers the reap job and starts the scheduler.
func (r *Reaper) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.Reap(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", r.schedule, err)
	}

	r.cron.Start()
	r.logger.Info("lease reaper started", zap.String("schedule", r.schedule))
	return nil
}

// Stop halts the scheduler and waits for a running reap to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("lease reaper stopped")
}

// Reap runs one pass and returns the number of requeued deliveries.
func (r *Reaper) Reap(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	moved, err := r.queue.RequeueExpired(ctx)
	if err != nil {
		r.logger.Error("failed to requeue expired deliveries", zap.Error(err))
	}
	if moved > 0 {
		r.metrics.Requeued(moved)
		r.logger.Warn("requeued expired deliveries", zap.Int("count", moved))
	}
	return moved
}
