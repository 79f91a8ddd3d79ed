package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ctoth/spindle/internal/history"
)

// newHistoryCommand creates the history command
func newHistoryCommand() *cobra.Command {
	var limit int
	var since string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently played sources",
		Long: `Show recently played sources, newest first.

Examples:
  spindle history                     # last 20 playbacks
  spindle history --limit 5
  spindle history --since today
  spindle history --since 2h
  spindle history --since "3 days ago"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, limit, since)
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show (0 = all)")
	historyCmd.Flags().StringVar(&since, "since", "", "Only show playbacks since (today, yesterday, week, month, a duration, or natural language)")

	return historyCmd
}

// runHistory executes the history command
func runHistory(cmd *cobra.Command, limit int, since string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	logCloser := setupLogging(cfg, cli.configManager, cmd.ErrOrStderr())
	defer logCloser.Close()

	if cfg.History == nil || !cfg.History.Enabled {
		return errors.New("playback history is disabled in the configuration")
	}

	path := cli.configManager.ResolveHistoryPath(cfg.History.DatabasePath)
	slog.Debug("running history command", "path", path, "limit", limit, "since", since)

	rec, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer rec.Close()

	now := cli.now()
	var entries []history.Entry
	if since != "" {
		from, err := history.ParseSince(since, now)
		if err != nil {
			return err
		}
		entries, err = rec.Since(from, limit)
		if err != nil {
			return err
		}
	} else {
		entries, err = rec.Recent(limit)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No playback history.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tRESULT\tPOSITION\tSOURCE")
	for _, e := range entries {
		result := e.Reason
		if e.Error != "" {
			result += " (" + e.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			humanize.RelTime(e.EndedAt, now, "ago", "from now"),
			result,
			formatClock(e.Position),
			e.Source)
	}
	return w.Flush()
}
