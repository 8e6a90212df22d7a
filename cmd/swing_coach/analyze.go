package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/swing-coach/internal/config"
	"github.com/jonathan/swing-coach/internal/observability"
	"github.com/jonathan/swing-coach/internal/pipeline"
)

var (
	analyzeFrameBudget int
	analyzeJSON        bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <jobId>",
	Short: "Run the inference stage for one job",
	Long: `Run inference directly for a job whose frames are already extracted.
The same claim rules apply as for the worker, so running this against a job
that is being processed elsewhere is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeFrameBudget, "frame-budget", 0, "Frames to send to the model (clamped to 6..20)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the outcome as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

// analyzeSummary is printed when the run finishes.
type analyzeSummary struct {
	JobID            string `json:"jobId"`
	Status           string `json:"status"`
	Skipped          string `json:"skipped,omitempty"`
	Message          string `json:"message"`
	FramesAnalyzed   int    `json:"framesAnalyzed,omitempty"`
	FramesSkipped    int    `json:"framesSkipped,omitempty"`
	CoachingResponse string `json:"coaching_response,omitempty"`
}

func summarizeOutcome(jobID string, outcome *pipeline.Outcome) analyzeSummary {
	summary := analyzeSummary{JobID: jobID, Skipped: string(outcome.Skipped)}
	if rec := outcome.Record; rec != nil {
		summary.Status = string(rec.Status)
		summary.Message = rec.ProgressMessage
		if rec.Result != nil {
			summary.FramesAnalyzed = rec.Result.FramesAnalyzed
			summary.FramesSkipped = rec.Result.FramesSkipped
			summary.CoachingResponse = rec.Result.CoachingResponse
		}
	}
	return summary
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	if analyzeFrameBudget > 0 {
		rt.cfg.Pipeline.FrameBudget = config.ClampFrameBudget(analyzeFrameBudget)
	}

	store, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	objects, err := rt.openObjects(ctx)
	if err != nil {
		return err
	}
	model, err := rt.openModel(ctx, true)
	if err != nil {
		return err
	}

	jobID := args[0]
	outcome, err := rt.inferenceStage(store, objects, model).Run(ctx, jobID)
	if err != nil {
		return fmt.Errorf("analysis %s failed: %w", jobID, err)
	}

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summarizeOutcome(jobID, outcome))
	}
	if outcome.Skipped != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Nothing to do: %s\n", outcome.Skipped)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintRecord(outcome.Record)
	return nil
}
