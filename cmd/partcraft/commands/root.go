package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	projectDir    string
	manifestFile  string
	verbose       bool
	jsonOutput    bool
	metricsAddr   string
	traceExporter string
	traceEndpoint string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "partcraft",
		Short: "Partcraft - part dependency graph and build environment engine",
		Long: `Partcraft reads a snapcraft.yaml project, orders its parts by their
'after' dependencies and computes the environment each part's build step runs in.

Features:
  - Deterministic build order with cycle detection
  - Layered build environments (project, search paths, part, overrides)
  - Parallel builds bounded by --max-parallel
  - Manifest validation via CUE and lint policies via OPA/rego
  - Build journal in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&projectDir, "project-dir", "d", ".", "project directory")
	rootCmd.PersistentFlags().StringVarP(&manifestFile, "file", "f", "", "manifest path (default: located in the project directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	rootCmd.AddCommand(newOrderCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newLintCommand())
	rootCmd.AddCommand(newSessionsCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(cmd, map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": buildDate,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "partcraft %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
