package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/runner"
	"github.com/copyleftdev/gridtune/internal/storage"
)

var (
	replayFlags optimizerFlags

	replayCmd = &cobra.Command{
		Use:   "replay [tunables file]",
		Short: "Replay stored trials into a grid search and report its state",
		Args:  cobra.ExactArgs(1),
		RunE:  replayTrials,
	}
)

func init() {
	replayFlags.register(replayCmd)
}

// replayReport is what replay prints.
type replayReport struct {
	ExperimentID string             `json:"experiment_id"`
	Trials       int                `json:"trials"`
	Pending      int                `json:"pending"`
	Suggested    int                `json:"suggested"`
	NotConverged bool               `json:"not_converged"`
	BestScore    optimization.Score `json:"best_score,omitempty"`
	BestParams   map[string]any     `json:"best_params,omitempty"`
}

func replayTrials(cmd *cobra.Command, args []string) error {
	if replayFlags.storeDSN == "" {
		return errors.New("--store is required")
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	opt, err := replayFlags.newOptimizer(args[0], logger)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	store, err := storage.Open(ctx, replayFlags.storeDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.GetExperiment(ctx, replayFlags.experimentID); err != nil {
		return err
	}
	trials, err := store.LoadTrials(ctx, replayFlags.experimentID)
	if err != nil {
		return err
	}
	if _, err := opt.BulkRegister(runner.History(trials)); err != nil {
		return err
	}

	report := replayReport{
		ExperimentID: replayFlags.experimentID,
		Trials:       len(trials),
		Pending:      opt.PendingCount(),
		Suggested:    opt.SuggestedCount(),
		NotConverged: opt.NotConverged(),
	}
	if score, best := opt.GetBestObservation(); best != nil {
		report.BestScore = score
		report.BestParams = best.Values()
	}
	return writeJSON(cmd, report)
}
