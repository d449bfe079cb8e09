package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/partcraft/partcraft/pkg/engine"
	"github.com/partcraft/partcraft/pkg/probe"
)

func newEnvCommand() *cobra.Command {
	var (
		resolve           []string
		watch             bool
		dependencyContext bool
		runtime           bool
		layers            bool
	)

	cmd := &cobra.Command{
		Use:   "env [part]",
		Short: "Print the build environment of a part",
		Long: `Print the environment exported before a part's build step, as a sequence of
export statements in the order they are applied.

The environment is composed of four layers:
  - project: SNAPCRAFT_* variables describing the project and its roots
  - search-paths: PATH, CFLAGS, LDFLAGS, LD_LIBRARY_PATH and friends
  - part: SNAPCRAFT_PART_* variables of the part itself
  - overrides: the part's build-environment entries

--dependency-context computes the environment a part contributes when it is
staged as a dependency of another part. --runtime prints the environment an
application sees when run from the prime directory instead.`,
		Example: `  # Export statements for a part
  partcraft env hello

  # Final values as the build step sees them
  partcraft env hello --resolve PATH --resolve CFLAGS

  # Reprint whenever the part's inputs change
  partcraft env hello --watch

  # Runtime environment of the primed tree
  partcraft env --runtime`,
		Args: func(cmd *cobra.Command, args []string) error {
			if runtime {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			builder := engine.NewEnvironmentBuilder(ws.project.Context, ws.project.Graph)
			if err := ws.project.Graph.Finalize(); err != nil {
				return err
			}

			part := ""
			if len(args) > 0 {
				part = args[0]
			}
			render := func() error {
				return printEnvironment(ctx, cmd, builder, envRequest{
					part:     part,
					rootPart: !dependencyContext,
					runtime:  runtime,
					layers:   layers,
					resolve:  resolve,
				})
			}

			if err := render(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			roots, err := watchRoots(builder, part, runtime)
			if err != nil {
				return err
			}
			watcher, err := probe.NewStageWatcher(ws.telemetry.Logger.Zerolog(), probe.DefaultDebounce, roots...)
			if err != nil {
				return err
			}
			defer watcher.Close()

			log.Info().
				Strs("roots", roots).
				Msg("Watching for changes, press Ctrl+C to stop")

			err = watcher.Run(ctx, func() {
				fmt.Fprintln(cmd.OutOrStdout(), "# ---")
				if err := render(); err != nil {
					log.Error().Err(err).Msg("Failed to recompute environment")
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&resolve, "resolve", nil, "print the final value of these variables")
	cmd.Flags().BoolVar(&watch, "watch", false, "reprint when an install directory, stage or prime changes")
	cmd.Flags().BoolVar(&dependencyContext, "dependency-context", false, "compute the environment the part contributes as a dependency")
	cmd.Flags().BoolVar(&runtime, "runtime", false, "print the runtime environment of the prime directory")
	cmd.Flags().BoolVar(&layers, "layers", false, "annotate each layer")

	return cmd
}

type envRequest struct {
	part     string
	rootPart bool
	runtime  bool
	layers   bool
	resolve  []string
}

func printEnvironment(ctx context.Context, cmd *cobra.Command, builder *engine.EnvironmentBuilder, req envRequest) error {
	out := cmd.OutOrStdout()

	if req.layers && !req.runtime {
		ls, err := builder.Layers(req.part, req.rootPart)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, ls)
		}
		for _, l := range ls {
			fmt.Fprintf(out, "# %s\n", l.Name)
			writeExports(out, l.Assignments)
		}
		return nil
	}

	var (
		env engine.ResolvedEnvironment
		err error
	)
	if req.runtime {
		env, err = builder.RuntimeEnvironment()
	} else {
		env, err = builder.BuildEnvironmentFor(req.part, req.rootPart)
	}
	if err != nil {
		return err
	}

	if len(req.resolve) > 0 {
		evaluator := &engine.ShellEvaluator{Dir: builder.Project().ProjectDir}
		values, err := evaluator.Resolve(ctx, env, req.resolve...)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, values)
		}
		for _, name := range req.resolve {
			fmt.Fprintf(out, "%s=%s\n", name, values[name])
		}
		return nil
	}

	if jsonOutput {
		return printJSON(cmd, env)
	}
	_, err = fmt.Fprint(out, engine.RenderScript(env))
	return err
}

// watchRoots returns the directories an environment is computed from. The
// runtime environment only depends on prime.
func watchRoots(builder *engine.EnvironmentBuilder, part string, runtime bool) ([]string, error) {
	prime := builder.Project().PrimeDir
	if runtime {
		return []string{prime}, nil
	}
	roots, err := builder.SearchRoots(part)
	if err != nil {
		return nil, err
	}
	return append(roots, prime), nil
}

func writeExports(out io.Writer, assignments []engine.Assignment) {
	for _, a := range assignments {
		fmt.Fprintf(out, "export %s\n", a)
	}
}
