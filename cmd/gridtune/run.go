package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/environment"
	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/optimization/grid"
	"github.com/copyleftdev/gridtune/internal/runner"
	"github.com/copyleftdev/gridtune/internal/storage"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

// optimizerFlags are shared by the commands that build an optimizer.
type optimizerFlags struct {
	maxSuggestions int
	targets        string
	noDefaults     bool
	storeDSN       string
	experimentID   string
}

func (f *optimizerFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxSuggestions, "max-suggestions", 100, "suggestion budget")
	cmd.Flags().StringVar(&f.targets, "targets", "score:min", `optimization targets, e.g. "latency:min,throughput:max"`)
	cmd.Flags().BoolVar(&f.noDefaults, "no-defaults", false, "do not suggest the default configuration first")
	cmd.Flags().StringVar(&f.storeDSN, "store", "", "SQLite trial store")
	cmd.Flags().StringVar(&f.experimentID, "experiment", "default", "experiment ID in the trial store")
}

func (f *optimizerFlags) newOptimizer(path string, logger *zap.Logger) (*grid.Optimizer, error) {
	space, err := tunables.Load(path)
	if err != nil {
		return nil, err
	}
	targets, err := optimization.ParseTargets(f.targets)
	if err != nil {
		return nil, err
	}
	return grid.New(space, optimization.Config{
		MaxSuggestions:    f.maxSuggestions,
		Targets:           targets,
		StartWithDefaults: !f.noDefaults,
	}, logger)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	runFlags    optimizerFlags
	runCommand  string
	runParallel int
	runDir      string

	runCmd = &cobra.Command{
		Use:   "run [tunables file]",
		Short: "Run a grid search, evaluating each configuration with a shell command",
		Long: `Run evaluates grid configurations with --command until the suggestion budget
is spent or the grid has nothing left to offer. Tunable values are passed to the
command as environment variables, and as JSON in GRIDTUNE_PARAMS. The last line
the command prints must be a JSON object of scores.`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}
)

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runCommand, "command", "", "shell command evaluating one configuration")
	runCmd.Flags().IntVar(&runParallel, "parallel", 1, "number of trials evaluated at once")
	runCmd.Flags().StringVar(&runDir, "dir", "", "working directory of the command")
	runCmd.MarkFlagRequired("command")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if runParallel < 1 {
		return fmt.Errorf("--parallel must be at least 1, got %d", runParallel)
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	opt, err := runFlags.newOptimizer(args[0], logger)
	if err != nil {
		return err
	}

	envs := make([]environment.Environment, runParallel)
	for i := range envs {
		env, err := environment.NewLocalEnv(fmt.Sprintf("local-%d", i+1), runCommand, runDir, logger)
		if err != nil {
			return err
		}
		envs[i] = env
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner.Runner{
		Optimizer:    opt,
		Environments: envs,
		ExperimentID: runFlags.experimentID,
		Logger:       logger,
	}
	if runFlags.storeDSN != "" {
		store, err := storage.Open(ctx, runFlags.storeDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		r.Store = store
	}

	summary, err := r.Run(ctx)
	if summary != nil {
		if werr := writeJSON(cmd, summary); werr != nil {
			return werr
		}
	}
	return err
}

// commandContext returns the command's context, or Background when the
// command runs without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
