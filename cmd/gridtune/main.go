// Command gridtune inspects tunable grids and runs grid searches locally.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/gridtune/internal/logging"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "gridtune",
		Short: "Grid search over tunable parameter spaces",
		Long: `gridtune enumerates the grid of a tunable space, runs trials against it
and replays stored trial history into a grid search optimizer.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(gridCmd, replayCmd, runCmd)
}

// newLogger logs to stderr so command output stays machine readable.
func newLogger() (*zap.Logger, error) {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return nil, err
	}
	return logger.Zap(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
