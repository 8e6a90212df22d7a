package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/swing-coach/internal/client"
	"github.com/jonathan/swing-coach/internal/observability"
)

var (
	pollBaseURL     string
	pollToken       string
	pollInterval    time.Duration
	pollMaxAttempts int
)

var pollCmd = &cobra.Command{
	Use:   "poll <jobId>",
	Short: "Wait for an analysis result",
	Long: `Poll GET /api/video/results/{jobId} until the analysis completes, fails or
the attempt budget runs out, printing progress along the way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		token := pollToken
		if token == "" {
			token = os.Getenv("SWING_COACH_TOKEN")
		}
		c := client.New(pollBaseURL, client.WithToken(token))
		return pollJob(ctx, cmd.OutOrStdout(), c, args[0], client.PollOptions{
			MaxAttempts: pollMaxAttempts,
			Interval:    pollInterval,
		})
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollBaseURL, "base-url", "http://localhost:8080", "API base URL")
	pollCmd.Flags().StringVar(&pollToken, "token", "", "Bearer token (defaults to $SWING_COACH_TOKEN)")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", client.DefaultInterval, "Delay between attempts")
	pollCmd.Flags().IntVar(&pollMaxAttempts, "max-attempts", client.DefaultMaxAttempts, "Maximum number of attempts")
	rootCmd.AddCommand(pollCmd)
}

// pollJob runs the poller and writes progress lines and the final coaching text to out.
func pollJob(ctx context.Context, out io.Writer, fetcher client.ResultFetcher, jobID string, opts client.PollOptions) error {
	printer := observability.NewPrinter(out)
	opts.OnProgress = func(p client.Progress) {
		printer.PrintProgress(p.Attempt, p.MaxAttempts, p.Message, p.Elapsed, p.Err)
	}

	result, err := client.NewPoller(fetcher, opts).Wait(ctx, jobID)
	if err != nil {
		return fmt.Errorf("poll %s: %w", jobID, err)
	}
	printer.PrintAnalysis(result.Analysis, result.CoachingResponse)
	return nil
}
