package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ctoth/spindle/internal/audio"
)

// newBackendsCommand creates the backends command
func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List audio backends and what auto selects here",
		Args:  cobra.NoArgs,
		RunE:  runBackends,
	}
}

// runBackends executes the backends command
func runBackends(cmd *cobra.Command, args []string) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}
	factory := cli.sinkFactory

	detected := factory.DetectedBackend()
	if detected == "" {
		detected = "none available"
	}
	command := factory.PreferredCommand()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, kind := range factory.GetSupportedBackends() {
		var note string
		switch kind {
		case audio.SinkAuto:
			note = "selects " + detected
		case audio.SinkMalgo, audio.SinkOto:
			if factory.DeviceSinksAvailable() {
				note = "audio device"
			} else {
				note = "unavailable (built without cgo)"
			}
		case audio.SinkPipe:
			if command != "" {
				note = "system player: " + command
			} else {
				note = "unavailable (no pacat, aplay or ffplay found)"
			}
		case audio.SinkFile:
			note = "WAV file, needs --output"
		case audio.SinkNull:
			note = "discards audio in real time"
		}
		fmt.Fprintf(w, "%s\t%s\n", kind, note)
	}
	return w.Flush()
}
