package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-matcher/internal/queue"
	"github.com/spigell/job-matcher/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the scoring workers and the lease reaper",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "address of the HTTP API (default :8080)")
	serveCmd.Flags().Int("workers", 0, "number of scoring workers")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("workers.count", serveCmd.Flags().Lookup("workers"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := bootstrap(ctx)
	log := c.logger
	log.Info("starting the job-matcher", zap.String("version", version))

	reaper := queue.NewReaper(c.queue, c.config.Workers.ReapSchedule, log, c.metrics)
	if err := reaper.Start(ctx); err != nil {
		log.Fatal("starting the lease reaper", zap.Error(err))
	}

	srv := server.New(c.orchestrator, c.store, c.coordinator, c.metrics, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, c.config.Listen) })
	g.Go(func() error { return c.pool.Run(gctx) })

	err := g.Wait()
	reaper.Stop()

	if closeErr := c.Close(); closeErr != nil {
		log.Warn("closing components", zap.Error(closeErr))
	}
	if err != nil {
		log.Fatal("serving", zap.Error(err))
	}
	log.Info("bye")
}
