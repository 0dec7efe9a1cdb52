package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/queue"
	"github.com/spigell/job-matcher/internal/utils"
)

const pollInterval = 200 * time.Millisecond

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score every application of a job",
	Long: `Score every application of a job.

With a Redis queue the request is handed to the workers of a running "serve"
process. Without one the command runs the workers itself and waits for the job
to complete.`,
	Run: func(cmd *cobra.Command, _ []string) {
		score(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().String("job", "", "job id")
	scoreCmd.Flags().Bool("rescore", false, "score applications that were already scored again")
	scoreCmd.Flags().Bool("wait", false, "wait until the job is COMPLETE")
	scoreCmd.Flags().Duration("timeout", 10*time.Minute, "give up waiting after this long")
	scoreCmd.MarkFlagRequired("job")
}

func score(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobID, _ := cmd.Flags().GetString("job")
	rescore, _ := cmd.Flags().GetBool("rescore")
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c := bootstrap(ctx)
	defer c.Close()
	log := c.logger.With(zap.String(logger.FieldJobID, jobID))

	if _, err := c.orchestrator.RequestScoring(ctx, jobID, rescore); err != nil {
		log.Fatal("requesting scoring", zap.Error(err))
	}

	if c.shared && !wait {
		log.Info("scoring requested, workers of the serve command will pick it up")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !c.shared {
		go func() {
			if err := c.pool.Run(ctx); err != nil {
				log.Error("worker pool failed", zap.Error(err))
			}
		}()
	}

	agg, err := waitForCompletion(ctx, c, jobID)
	if err != nil {
		log.Fatal("waiting for the job to complete", zap.Error(err), zap.String("status", string(agg.Status)))
	}

	log.Info("job scored", zap.Int("scored", agg.Scored), zap.Int("failed", agg.Failed))
	if err := printJobStatus(ctx, cmd.OutOrStdout(), c, jobID); err != nil {
		log.Fatal("printing job status", zap.Error(err))
	}
}

func waitForCompletion(ctx context.Context, c *components, jobID string) (matching.JobAggregate, error) {
	for {
		agg, err := c.store.Aggregate(ctx, jobID)
		if err == nil && agg.Status == matching.StatusComplete && drained(c.queue) {
			return agg, nil
		}
		if err := utils.WaitFor(ctx, pollInterval); err != nil {
			return agg, err
		}
	}
}

// drained reports whether a local queue has no pending or leased work. A
// shared queue is never inspected.
func drained(q queue.Queue) bool {
	m, ok := q.(*queue.Memory)
	if !ok {
		return true
	}
	pending, leased := m.Len()
	return pending+leased == 0
}
