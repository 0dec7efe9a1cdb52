package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the scoring status of a job",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		jobID, _ := cmd.Flags().GetString("job")

		c := bootstrap(ctx)
		defer c.Close()

		if err := printJobStatus(ctx, cmd.OutOrStdout(), c, jobID); err != nil {
			c.logger.Fatal("printing job status", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("job", "", "job id")
	statusCmd.MarkFlagRequired("job")
}

func printJobStatus(ctx context.Context, out io.Writer, c *components, jobID string) error {
	agg, err := c.store.Aggregate(ctx, jobID)
	if err != nil {
		return err
	}

	completed := "-"
	if agg.CompletedAt != nil {
		completed = agg.CompletedAt.Format(time.RFC3339)
	}

	summary := tablewriter.NewWriter(out)
	summary.Header("Job", "Status", "Scored", "Failed", "Total", "Completed")
	if err := summary.Append([]string{
		agg.JobID,
		string(agg.Status),
		strconv.Itoa(agg.Scored),
		strconv.Itoa(agg.Failed),
		strconv.Itoa(agg.Total),
		completed,
	}); err != nil {
		return fmt.Errorf("append job %q: %w", agg.JobID, err)
	}
	if err := summary.Render(); err != nil {
		return err
	}

	apps, err := c.store.Applications(ctx, jobID)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Application", "Candidate", "State", "Score", "Failure")
	for _, app := range apps {
		scoreText := "-"
		if app.Score != nil {
			scoreText = strconv.Itoa(*app.Score)
		}
		if err := table.Append([]string{app.ID, app.CandidateID, string(app.State), scoreText, app.Failure}); err != nil {
			return fmt.Errorf("append application %q: %w", app.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render applications: %w", err)
	}
	return nil
}
