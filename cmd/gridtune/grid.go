package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/gridtune/internal/optimization"
	"github.com/copyleftdev/gridtune/internal/optimization/grid"
	"github.com/copyleftdev/gridtune/internal/tunables"
)

var (
	gridMaxConfigs int
	gridLimit      int

	gridCmd = &cobra.Command{
		Use:   "grid [tunables file]",
		Short: "Print the grid of a tunable space in suggestion order",
		Args:  cobra.ExactArgs(1),
		RunE:  printGrid,
	}
)

func init() {
	gridCmd.Flags().IntVar(&gridMaxConfigs, "max-configs", optimization.DefaultMaxConfigs, "warn when the grid is larger than this")
	gridCmd.Flags().IntVar(&gridLimit, "limit", 0, "print at most this many rows (0 prints all)")
}

func printGrid(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	space, err := tunables.Load(args[0])
	if err != nil {
		return err
	}

	gen := grid.NewGenerator(space, gridMaxConfigs, gridMaxConfigs, logger)
	if err := gen.SanityCheck(); err != nil {
		return err
	}
	g, err := gen.Generate()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d configurations\n", len(g.Rows))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\t"+strings.Join(g.Schema.Columns(), "\t"))
	for i, row := range g.Rows {
		if gridLimit > 0 && i >= gridLimit {
			break
		}
		cells := make([]string, 0, g.Schema.Len()+1)
		cells = append(cells, fmt.Sprint(i+1))
		for _, v := range row.Values() {
			cells = append(cells, fmt.Sprint(v))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}
