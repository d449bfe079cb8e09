package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/partcraft/partcraft/pkg/engine"
	"github.com/partcraft/partcraft/pkg/stores"
)

func newBuildCommand() *cobra.Command {
	var (
		maxParallel int
		noJournal   bool
	)

	cmd := &cobra.Command{
		Use:   "build [part...]",
		Short: "Run the build steps of the project's parts",
		Long: `Run each part's build step in dependency order. A part starts once all of
its dependencies have completed; up to --max-parallel parts build at once.

Parts with an override-build script run it through /bin/sh in the part's build
directory with the part's environment exported. Parts using the nil plugin
without a script have nothing to build. Other plugins are not handled and fail
the part.

The first failure stops new parts from starting. Parts already running finish
and the remaining parts are reported as skipped. Each session is recorded in
the build journal unless --no-journal is given.`,
		Example: `  # Build every part
  partcraft build

  # Build hello and the parts it depends on, four at a time
  partcraft build hello --max-parallel 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer ws.close(ctx)

			if !cmd.Flags().Changed("max-parallel") && ws.settings.MaxParallel > 0 {
				maxParallel = ws.settings.MaxParallel
			}

			opts := []engine.SchedulerOption{
				engine.WithMaxParallel(maxParallel),
				engine.WithTelemetry(ws.telemetry),
				engine.WithTargets(args...),
			}
			if !noJournal {
				journal, err := stores.Open(ctx, ws.settings.JournalFor(ws.project.Context.ProjectDir))
				if err != nil {
					return fmt.Errorf("failed to open build journal: %w", err)
				}
				defer journal.Close()
				opts = append(opts, engine.WithRecorder(journal))
			}

			builder := engine.NewEnvironmentBuilder(ws.project.Context, ws.project.Graph)
			step := &engine.ScriptStep{
				Stdout: cmd.ErrOrStderr(),
				Stderr: cmd.ErrOrStderr(),
			}
			session, runErr := engine.NewBuildScheduler(builder, step, opts...).Run(ctx, ws.project.Graph)
			if session == nil {
				return runErr
			}

			if jsonOutput {
				if err := printJSON(cmd, session); err != nil {
					return err
				}
			} else {
				printSession(cmd, session)
			}

			if runErr != nil {
				if code := engine.ErrorCode(runErr); code != "" {
					log.Debug().Str("code", code).Msg("Build failed")
				}
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxParallel, "max-parallel", "j", 1, "maximum number of parts built at once")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "do not record the session in the build journal")

	return cmd
}

func printSession(cmd *cobra.Command, session *engine.Session) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s: %s\n", session.ID, session.Status)
	for _, r := range session.Results {
		line := fmt.Sprintf("  %-24s %-10s", r.Part, r.Status)
		if r.Duration > 0 {
			line += " " + r.Duration.Round(time.Millisecond).String()
		}
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(out, line)
	}
}
