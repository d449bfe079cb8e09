package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/partcraft/partcraft/pkg/config"
	"github.com/partcraft/partcraft/pkg/policy"
)

func newLintCommand() *cobra.Command {
	var (
		policyPaths []string
		disabled    []string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check the manifest against lint policies",
		Long: `Evaluate the manifest against the built-in policies and any rego or JSON
policies given with --policies.

Built-in policies:
  - part-naming: part names follow the naming rules and are not reserved
  - reserved-environment: build-environment does not redefine SNAPCRAFT_*
  - self-dependency: no part lists itself in after
  - devmode-grade: stable grade is not combined with devmode confinement

Findings with error severity fail the command; the rest are warnings.`,
		Example: `  # Built-in policies only
  partcraft lint

  # Add a directory of policies and re-run when they change
  partcraft lint --policies ./policies --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			eng, err := policy.NewEngine(ws.telemetry.Logger.Zerolog())
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := eng.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
			}
			for _, name := range disabled {
				if err := eng.DisablePolicy(name); err != nil {
					return err
				}
			}

			m := ws.project.Manifest
			lintErr := runLint(ctx, cmd, eng, m)
			if !watch {
				return lintErr
			}
			if len(policyPaths) == 0 {
				return errors.New("--watch requires --policies")
			}

			loader := policy.NewLoader(ws.telemetry.Logger.Zerolog())
			err = loader.Watch(ctx, policyPaths, func(policies []policy.Policy) error {
				if err := eng.ReloadPolicies(ctx); err != nil {
					return err
				}
				if err := eng.AddPolicies(ctx, policies); err != nil {
					return err
				}
				for _, name := range disabled {
					_ = eng.DisablePolicy(name)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "# ---")
				if err := runLint(ctx, cmd, eng, m); err != nil {
					log.Warn().Err(err).Msg("Lint failed")
				}
				return nil
			})
			if err != nil {
				return err
			}
			defer loader.StopWatching()

			log.Info().Strs("paths", policyPaths).Msg("Watching policies, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "policy files or directories")
	cmd.Flags().StringSliceVar(&disabled, "disable", nil, "policies to skip")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run when policy files change")

	return cmd
}

// runLint evaluates the manifest and prints the findings. It returns an
// error when a blocking finding was reported.
func runLint(ctx context.Context, cmd *cobra.Command, eng *policy.Engine, m *config.Manifest) error {
	result, err := eng.Evaluate(ctx, m)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(cmd, result); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		findings := append(append([]policy.Violation{}, result.Violations...), result.Warnings...)
		for _, v := range findings {
			loc := m.Path
			if v.Line > 0 {
				loc = fmt.Sprintf("%s:%d", m.Path, v.Line)
			}
			fmt.Fprintf(out, "%s: %s: %s (%s)\n", loc, v.Severity, v.Message, v.Policy)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(out, "%s: error: %s\n", m.Path, e)
		}
		if len(findings) == 0 && len(result.Errors) == 0 {
			fmt.Fprintf(out, "%s: %d policies passed\n", m.Path, len(result.EvaluatedPolicies))
		}
	}

	if !result.Allowed {
		return fmt.Errorf("%d lint violations", len(result.Violations))
	}
	return nil
}
