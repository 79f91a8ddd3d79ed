package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ctoth/spindle/internal/audio"
)

// newProbeCommand creates the probe command
func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe FILE|URL",
		Short: "Show the format, duration and tags of an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0])
		},
	}
}

// runProbe executes the probe command
func runProbe(cmd *cobra.Command, target string) error {
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

	slog.Debug("running probe command", "target", target)

	info, err := cli.registry.Probe(cmd.Context(), cli.sourceFor(target))
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", target, err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Source:\t%s\n", target)
	fmt.Fprintf(w, "Format:\t%s\n", info.FormatName)
	fmt.Fprintf(w, "Audio:\t%s\n", info.Format.String())
	if info.Length > 0 {
		fmt.Fprintf(w, "Duration:\t%s (%s frames)\n",
			formatClock(info.Length), humanize.Comma(info.Format.Frames(info.Length)))
		fmt.Fprintf(w, "Decoded size:\t%s\n", humanize.IBytes(uint64(info.Format.Bytes(info.Length))))
	} else {
		fmt.Fprintf(w, "Duration:\tunknown\n")
	}
	fmt.Fprintf(w, "Seekable:\t%s\n", yesNo(info.Seekable))

	if !audio.IsURL(target) && target != stdinTarget {
		tags, err := audio.ReadTags(cli.fs, target)
		if tags.Size > 0 {
			fmt.Fprintf(w, "File size:\t%s\n", humanize.IBytes(uint64(tags.Size)))
		}
		switch {
		case err == nil:
			printTag(w, "Title", tags.Title)
			printTag(w, "Artist", tags.Artist)
			printTag(w, "Album", tags.Album)
			printTag(w, "Genre", tags.Genre)
			if tags.Year > 0 {
				fmt.Fprintf(w, "Year:\t%d\n", tags.Year)
			}
			if tags.Track > 0 {
				fmt.Fprintf(w, "Track:\t%d\n", tags.Track)
			}
		case errors.Is(err, audio.ErrNoTags):
			fmt.Fprintf(w, "Tags:\tnone\n")
		default:
			slog.Warn("failed to read tags", "path", target, "error", err)
		}
	}

	return w.Flush()
}

func printTag(w *tabwriter.Writer, name, value string) {
	if value != "" {
		fmt.Fprintf(w, "%s:\t%s\n", name, value)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
