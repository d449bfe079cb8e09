package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/partcraft/partcraft/pkg/config"
	"github.com/partcraft/partcraft/pkg/engine"
	"github.com/partcraft/partcraft/pkg/stores"
)

func newSessionsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the build journal",
		Long: `List and inspect recorded build sessions.

The journal lives in .partcraft/journal.db below the project directory unless
PARTCRAFT_DB points elsewhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")

	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsShowCommand())

	return cmd
}

func newSessionsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent build sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")

	return cmd
}

func newSessionsShowCommand() *cobra.Command {
	var (
		events bool
		envFor string
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a build session",
		Long: `Show the part results of a build session. The ID may be abbreviated to
any unique prefix.`,
		Example: `  # Part results
  partcraft sessions show 5d2c1f7e

  # Include the event log
  partcraft sessions show 5d2c1f7e --events

  # Environment a part was built with
  partcraft sessions show 5d2c1f7e --env hello`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			journal, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer journal.Close()

			session, err := journal.GetSession(ctx, args[0])
			if err != nil {
				return err
			}

			if envFor != "" {
				rec, err := journal.GetEnvironment(ctx, session.ID, envFor)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd, rec)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# sha256 %s\n", rec.SHA256)
				writeExports(cmd.OutOrStdout(), rec.Assignments)
				return nil
			}

			var eventLog []*stores.Event
			if events {
				if eventLog, err = journal.GetEvents(ctx, session.ID, 0); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(cmd, struct {
					*engine.Session
					Events []*stores.Event `json:"events,omitempty"`
				}{session, eventLog})
			}

			printSession(cmd, session)
			out := cmd.OutOrStdout()
			for _, e := range eventLog {
				fmt.Fprintf(out, "  %s %-5s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "include the event log")
	cmd.Flags().StringVar(&envFor, "env", "", "print the environment recorded for a part")

	return cmd
}

func openJournal(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	settings, err := config.LoadSettings(nil)
	if err != nil {
		return nil, err
	}
	path, err := journalPath(settings)
	if err != nil {
		return nil, err
	}
	return stores.Open(cmd.Context(), path)
}

func listSessions(cmd *cobra.Command, limit int) error {
	ctx := cmd.Context()
	journal, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer journal.Close()

	sessions, err := journal.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, sessions)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No build sessions recorded")
		return nil
	}
	for _, s := range sessions {
		took := "-"
		if s.CompletedAt != nil {
			took = s.CompletedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(out, "%s  %-10s %s  %3d parts  %s\n",
			s.ID, s.Status, s.StartedAt.Local().Format(time.DateTime), len(s.Order), took)
	}
	return nil
}
