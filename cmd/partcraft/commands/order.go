package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newOrderCommand() *cobra.Command {
	var levels bool

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the build order of the project's parts",
		Long: `Print the parts in the order they are built. Every part comes after all
of its direct and transitive dependencies; ties keep declaration order.

With --levels the parts are grouped by depth instead: level 0 holds parts
without dependencies and parts on the same level can build in parallel.`,
		Example: `  # One part per line
  partcraft order

  # Parallel build levels
  partcraft order --levels`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			out := cmd.OutOrStdout()
			if levels {
				lv, err := ws.project.Graph.Levels()
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, lv)
				}
				for i, names := range lv {
					fmt.Fprintf(out, "%d: %s\n", i, strings.Join(names, " "))
				}
				return nil
			}

			order, err := ws.project.Graph.OrderNames()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd, order)
			}
			for _, name := range order {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&levels, "levels", false, "group parts by dependency depth")

	return cmd
}

func newGraphCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Write the part dependency graph in DOT format",
		Example: `  # Render with graphviz
  partcraft graph | dot -Tsvg > parts.svg

  # Write to a file
  partcraft graph --out parts.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			if err := ws.project.Graph.Finalize(); err != nil {
				return err
			}
			dot := ws.project.Graph.ToDOT()

			if out == "" || out == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(out, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write graph: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")

	return cmd
}
