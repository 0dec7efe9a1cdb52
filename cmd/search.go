package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-matcher/internal/logger"
	"github.com/spigell/job-matcher/internal/matching"
	"github.com/spigell/job-matcher/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search active jobs for a candidate and stream the results",
	Run: func(cmd *cobra.Command, _ []string) {
		runSearch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringP("query", "q", "", "free-text query")
	searchCmd.Flags().StringP("candidate", "c", "", "candidate id (asked interactively when empty)")
}

func runSearch(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query, _ := cmd.Flags().GetString("query")
	candidateID, _ := cmd.Flags().GetString("candidate")

	c := bootstrap(ctx)
	defer c.Close()

	if candidateID == "" {
		var err error
		if candidateID, err = pickCandidate(ctx, c); err != nil {
			c.logger.Fatal("choosing a candidate", zap.Error(err))
		}
	}

	session, err := c.coordinator.Start(ctx, query, candidateID)
	if err != nil {
		c.logger.Fatal("starting the search", zap.Error(err))
	}
	log := c.logger.With(zap.String(logger.FieldSessionID, session.ID()))

	for ev := range session.Events() {
		switch ev.Type {
		case search.EventStatus:
			log.Info(ev.Message, zap.Intp("progress", ev.Progress))
		case search.EventBatchResults:
			jobs, _ := ev.Data.([]matching.ScoredJob)
			log.Info("found matching jobs", zap.Int("count", len(jobs)), zap.Intp("progress", ev.Progress))
		case search.EventError:
			log.Warn(ev.Message, zap.String("error", ev.Error))
		case search.EventFinalResults:
			final, _ := ev.Data.(search.FinalResults)
			if err := printResults(cmd.OutOrStdout(), final.Jobs); err != nil {
				log.Fatal("printing results", zap.Error(err))
			}
		}
	}

	if session.State() == search.StateCancelled {
		log.Info("search cancelled")
	}
}

func pickCandidate(ctx context.Context, c *components) (string, error) {
	candidates, err := c.store.Candidates(ctx)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no candidates found, use --candidate")
	}

	items := make([]string, len(candidates))
	for i, cand := range candidates {
		items[i] = fmt.Sprintf("%s %s / %d years / %s", cand.ID, cand.Name, cand.Experience, strings.Join(cand.Skills, ", "))
	}

	candidatePrompt := promptui.Select{
		Label: "Choose a candidate and press ENTER",
		Items: items,
	}
	idx, _, err := candidatePrompt.Run()
	if err != nil {
		return "", err
	}
	return candidates[idx].ID, nil
}

func printResults(out io.Writer, jobs []matching.ScoredJob) error {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No matching jobs found.")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("#", "Job", "Title", "Company", "Relevance", "Fit", "Query")
	for i, job := range jobs {
		fit := "-"
		if job.MatchAnalysis != nil {
			fit = strconv.Itoa(job.MatchAnalysis.Score)
		}
		if err := table.Append([]string{
			strconv.Itoa(i + 1),
			job.ID,
			job.Title,
			job.Company.Name,
			strconv.Itoa(job.RelevanceScore),
			fit,
			strconv.Itoa(job.QueryRelevance),
		}); err != nil {
			return fmt.Errorf("append job %q: %w", job.ID, err)
		}
	}
	return table.Render()
}
