package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/job-matcher/internal/ai"
	"github.com/spigell/job-matcher/internal/ai/gemini"
	"github.com/spigell/job-matcher/internal/metrics"
	"github.com/spigell/job-matcher/internal/pipeline"
	"github.com/spigell/job-matcher/internal/queue"
	"github.com/spigell/job-matcher/internal/resume"
	"github.com/spigell/job-matcher/internal/scoring"
	"github.com/spigell/job-matcher/internal/search"
	"github.com/spigell/job-matcher/internal/secrets"
	"github.com/spigell/job-matcher/internal/store"
)

// components holds everything a command may need, wired from the config.
type components struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store  store.Store
	queue  queue.Queue
	redis  *redis.Client
	shared bool // the queue is shared with other processes

	scorer       *scoring.Scorer
	resumes      *resume.Extractor
	tracker      *pipeline.Tracker
	orchestrator *pipeline.Orchestrator
	pool         *pipeline.Pool
	coordinator  *search.Coordinator
}

func newComponents(ctx context.Context, cfg *Config, log *zap.Logger) (*components, error) {
	c := &components{config: cfg, logger: log, metrics: metrics.New()}

	var err error
	if c.store, err = newStore(ctx, cfg, log); err != nil {
		return nil, err
	}

	var notifier pipeline.Notifier
	if cfg.Redis.URL != "" {
		if c.redis, err = queue.NewRedisClient(ctx, cfg.Redis.URL); err != nil {
			return nil, multierr.Append(err, c.store.Close())
		}
		c.queue = queue.NewRedis(c.redis, cfg.Redis.QueuePrefix, cfg.Workers.VisibilityTimeout)
		c.shared = true
		notifier = queue.NewRedisNotifier(c.redis, cfg.Redis.EventsChannel)
	} else {
		c.queue = queue.NewMemory(cfg.Workers.VisibilityTimeout)
	}

	var capability scoring.Capability
	if gs, err := newCapability(ctx, cfg.AI, log); err != nil {
		log.Warn("scoring capability disabled, using heuristic scores only", zap.Error(err))
	} else if gs != nil {
		capability = gs
	}

	opts := scoring.Options{
		Timeout:       cfg.Scoring.Timeout,
		FastThreshold: cfg.Scoring.FastAIThreshold,
		Sampler:       scoring.ProbabilitySampler{P: cfg.Scoring.FastAIProbability},
		Metrics:       c.metrics,
	}
	if cfg.Scoring.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.Scoring.RateLimit), max(cfg.Scoring.RateBurst, 1))
	}
	c.scorer = scoring.NewScorer(capability, log, opts)

	c.resumes = resume.New(c.store, resume.DefaultMaxLength, log)
	c.tracker = pipeline.NewTracker(c.store, notifier, log, c.metrics)
	c.orchestrator = pipeline.NewOrchestrator(c.store, c.store, c.store, c.queue, log)

	processor := pipeline.NewProcessor(c.store, c.store, c.resumes, c.scorer, c.tracker, log)
	c.pool = pipeline.NewPool(c.queue, pipeline.Handlers{
		Jobs:         c.orchestrator,
		Applications: processor,
		Failures:     c.tracker,
		States:       c.store,
	}, pipeline.PoolConfig{
		Workers:        cfg.Workers.Count,
		MaxAttempts:    cfg.Workers.MaxAttempts,
		InitialBackoff: cfg.Workers.InitialBackoff,
		MaxBackoff:     cfg.Workers.MaxBackoff,
	}, log, c.metrics)

	c.coordinator = search.NewCoordinator(c.store, c.store, c.resumes, c.scorer, search.Config{
		BatchSize:  cfg.Search.BatchSize,
		BatchDelay: cfg.Search.BatchDelay,
		Buffer:     cfg.Search.Buffer,
	}, log, c.metrics)

	return c, nil
}

func (c *components) Close() error {
	c.coordinator.Close()

	err := multierr.Combine(c.queue.Close(), c.store.Close())
	if c.redis != nil {
		err = multierr.Append(err, c.redis.Close())
	}
	return err
}

// newStore picks Postgres when a database URL is configured and the in-memory
// store otherwise. A data file seeds whichever store is used.
func newStore(ctx context.Context, cfg *Config, log *zap.Logger) (store.Store, error) {
	databaseURL, err := secrets.Optional(secrets.Source{
		Name:  "database url",
		Value: cfg.Database.URL,
		File:  cfg.Database.URLFile,
	})
	if err != nil {
		return nil, err
	}

	memory := store.NewMemory()
	if cfg.DataFile != "" {
		if memory, err = store.LoadMemory(cfg.DataFile); err != nil {
			return nil, err
		}
		log.Info("loaded data file", zap.String("path", cfg.DataFile))
	}

	if databaseURL == "" {
		log.Info("using in-memory store")
		return memory, nil
	}

	pool, err := store.NewPostgresPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	pg := store.NewPostgres(pool)

	if err := pg.Migrate(ctx); err != nil {
		return nil, multierr.Append(err, pg.Close())
	}
	if cfg.DataFile != "" {
		if err := pg.Seed(ctx, memory); err != nil {
			return nil, multierr.Append(err, pg.Close())
		}
	}

	log.Info("using postgres store")
	return pg, nil
}

// newCapability returns nil without an error when AI scoring is disabled.
func newCapability(ctx context.Context, cfg *AIConfig, log *zap.Logger) (*gemini.Scorer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != ai.ProviderGemini {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := log.With(
		zap.String("provider", ai.ProviderGemini),
		zap.String("model", cfg.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	return gemini.NewScorer(generator, cfg.Gemini.MaxLogLength, log), nil
}
