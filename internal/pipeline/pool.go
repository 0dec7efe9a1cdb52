package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/metrics"
	"github.com/spigell/job-matcher/internal/queue"
	"github.com/spigell/job-matcher/internal/utils"
)

const (
	DefaultWorkers        = 4
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second

	// settleTimeout bounds the Ack/Nack issued after the pool context is done.
	settleTimeout = 5 * time.Second
	// dequeueErrorDelay is the pause after a failing Dequeue.
	dequeueErrorDelay = time.Second
)

type JobHandler interface {
	FanOut(ctx context.Context, jobID string, rescore bool) (matching.JobAggregate, error)
}

type ApplicationHandler interface {
	ScoreApplication(ctx context.Context, task Task) (matching.Completion, error)
}

type FailureRecorder interface {
	Fail(ctx context.Context, applicationID string, cause error) (matching.Completion, error)
}

type StateRecorder interface {
	SetTaskState(ctx context.Context, applicationID string, state matching.TaskState) error
}

// Handlers routes each task kind. States may be nil.
type Handlers struct {
	Jobs         JobHandler
	Applications ApplicationHandler
	Failures     FailureRecorder
	States       StateRecorder
}

type PoolConfig struct {
	Workers int
	// MaxAttempts bounds both the in-process retries of one delivery and the
	// number of deliveries of one task.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Pool runs a fixed number of workers that pull tasks from the queue.
type Pool struct {
	queue    queue.Queue
	handlers Handlers
	cfg      PoolConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewPool(q queue.Queue, handlers Handlers, cfg PoolConfig, log *zap.Logger, m *metrics.Metrics) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.InitialBackoff)
	}

	return &Pool{
		queue:    q,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger.Named(log, "pool"),
		metrics:  m,
	}
}

// Run blocks until ctx is done or the queue is closed.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers), zap.Int("max_attempts", p.cfg.MaxAttempts))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))

	for {
		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error("failed to dequeue task", zap.Error(err))
			if utils.WaitFor(ctx, dequeueErrorDelay) != nil {
				return
			}
			continue
		}

		p.Process(ctx, d)
	}
}

// Process handles one delivery and settles it with Ack or Nack.
func (p *Pool) Process(ctx context.Context, d *queue.Delivery) {
	task, err := DecodeTask(d.Body)
	if err != nil {
		p.logger.Error("dropping undecodable task", zap.String("delivery_id", d.ID), zap.Error(err))
		p.metrics.TaskProcessed("unknown", "invalid")
		p.ack(ctx, d)
		return
	}

	log := logger.WithFields(p.logger, logger.TaskFields(task.ID, task.JobID, task.ApplicationID, task.CandidateID)...)
	log = log.With(zap.Int("delivery", d.Attempts))

	if d.Attempts > p.cfg.MaxAttempts {
		p.giveUp(ctx, d, task, log, fmt.Errorf("%w: delivered %d times", matching.ErrTaskTerminal, d.Attempts))
		return
	}

	p.setState(ctx, task, matching.TaskInProgress, log)

	err = p.execute(ctx, task, log)
	switch {
	case err == nil:
		p.metrics.TaskProcessed(string(task.Kind), "done")
		p.ack(ctx, d)
	case ctx.Err() != nil:
		log.Info("task interrupted, returning it to the queue")
		p.metrics.TaskProcessed(string(task.Kind), "interrupted")
		p.nack(ctx, d)
	case task.Kind == KindJob && matching.IsRetryable(err):
		log.Warn("job task failed, returning it to the queue", zap.Error(err))
		p.metrics.TaskProcessed(string(task.Kind), "requeued")
		p.nack(ctx, d)
	default:
		p.giveUp(ctx, d, task, log, err)
	}
}

func (p *Pool) execute(ctx context.Context, task Task, log *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := p.handle(ctx, task)
		if err != nil && !matching.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("task attempt failed, retrying", zap.Error(err), zap.Duration("backoff", next))
			p.setState(ctx, task, matching.TaskFailedRetryable, log)
		}),
	)
	return err
}

func (p *Pool) handle(ctx context.Context, task Task) error {
	switch task.Kind {
	case KindJob:
		_, err := p.handlers.Jobs.FanOut(ctx, task.JobID, task.Rescore)
		return err
	case KindApplication:
		_, err := p.handlers.Applications.ScoreApplication(ctx, task)
		return err
	}
	return fmt.Errorf("unknown task kind %q", task.Kind)
}

// giveUp settles a task that will not be retried. An application is recorded
// as FAILED_TERMINAL so that its job can still complete.
func (p *Pool) giveUp(ctx context.Context, d *queue.Delivery, task Task, log *zap.Logger, cause error) {
	if task.Kind == KindApplication && p.handlers.Failures != nil {
		_, err := p.handlers.Failures.Fail(ctx, task.ApplicationID, cause)
		if err != nil && matching.IsRetryable(classify(err)) {
			log.Error("failed to record terminal failure, returning task to the queue", zap.Error(err))
			p.nack(ctx, d)
			return
		}
		if err != nil {
			log.Error("dropping task that cannot be recorded", zap.NamedError("cause", cause), zap.Error(err))
		}
	} else {
		log.Error("giving up on task", zap.Error(cause))
	}

	p.metrics.TaskProcessed(string(task.Kind), "failed")
	p.ack(ctx, d)
}

func (p *Pool) setState(ctx context.Context, task Task, state matching.TaskState, log *zap.Logger) {
	if task.Kind != KindApplication || p.handlers.States == nil {
		return
	}
	if err := p.handlers.States.SetTaskState(ctx, task.ApplicationID, state); err != nil {
		log.Debug("failed to record task state", zap.String("state", string(state)), zap.Error(err))
	}
}

func (p *Pool) ack(ctx context.Context, d *queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := p.queue.Ack(ctx, d); err != nil {
		p.logger.Warn("failed to ack delivery", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

func (p *Pool) nack(ctx context.Context, d *queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := p.queue.Nack(ctx, d); err != nil {
		p.logger.Warn("failed to nack delivery", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}
