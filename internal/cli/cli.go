package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ctoth/spindle/internal/audio"
	"github.com/ctoth/spindle/internal/config"
	"github.com/ctoth/spindle/internal/history"
)

const Version = "0.4.0"

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	fs               afero.Fs
	configManager    *config.ConfigManager
	sinkFactory      *audio.SinkFactory
	registry         *audio.DecoderRegistry
	terminalDetector TerminalDetector
	stdin            io.Reader
	now              func() time.Time
}

// NewCLI creates a CLI on the OS filesystem with real platform detection
func NewCLI() *CLI {
	fs := afero.NewOsFs()
	return NewCLIWithDependencies(fs, config.NewConfigManagerWithFilesystem(fs), audio.NewSinkFactory(), &DefaultTerminalDetector{})
}

// NewCLIWithDependencies creates a CLI with injected collaborators for testing
func NewCLIWithDependencies(fs afero.Fs, cm *config.ConfigManager, factory *audio.SinkFactory, detector TerminalDetector) *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:   "spindle",
		Short: "Streaming audio player",
		Long: `Spindle decodes WAV, MP3, AIFF, Ogg Vorbis and FLAC files or HTTP streams
and plays them through a device, a system player command or a WAV file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate("spindle version {{.Version}}\n")

	rootCmd.PersistentFlags().String("config", "", "Path to config file (.json or .toml)")
	rootCmd.PersistentFlags().String("volume", "", "Set volume (0.0 to 1.0)")
	rootCmd.PersistentFlags().String("backend", "", "Audio backend (auto, malgo, oto, pipe, file, null)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newBackendsCommand())

	return &CLI{
		rootCmd:          rootCmd,
		fs:               fs,
		configManager:    cm,
		sinkFactory:      factory,
		registry:         audio.NewDefaultRegistry(),
		terminalDetector: detector,
		now:              time.Now,
	}
}

type cliContextKey struct{}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(ctx context.Context, cli *CLI) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) (*CLI, error) {
	if cli, ok := ctx.Value(cliContextKey{}).(*CLI); ok {
		return cli, nil
	}
	slog.Error("CLI instance not found in context")
	return nil, errors.New("CLI instance not found in context")
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return c.RunContext(context.Background(), args, stdin, stdout, stderr)
}

// RunContext is Run with a parent context; cancelling it stops playback.
func (c *CLI) RunContext(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	if len(args) > 0 {
		args = args[1:] // program name
	}
	c.stdin = stdin
	c.rootCmd.SetArgs(args)
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)

	if err := c.rootCmd.ExecuteContext(contextWithCLI(ctx, c)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		slog.Debug("command failed", "error", err)
		return 1
	}
	return 0
}

// loadAndValidateConfig loads configuration from files, applies environment
// and flag overrides, and validates the result. Command specific overrides
// run after the global flags.
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI, overrides ...func(*config.Config)) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	volumeStr, _ := cmd.Flags().GetString("volume")
	backend, _ := cmd.Flags().GetString("backend")
	logLevel, _ := cmd.Flags().GetString("log-level")

	var volume float64
	if volumeStr != "" {
		v, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			slog.Error("invalid volume value", "value", volumeStr, "error", err)
			return nil, fmt.Errorf("invalid volume value '%s': %w", volumeStr, err)
		}
		if v < 0.0 || v > 1.0 {
			slog.Error("volume out of range", "value", v)
			return nil, fmt.Errorf("volume must be between 0.0 and 1.0, got %g", v)
		}
		volume = v
	}

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	if volumeStr != "" {
		cfg.Volume = volume
		slog.Debug("volume override applied", "value", volume)
	}
	if backend != "" {
		cfg.AudioBackend = backend
		slog.Debug("backend override applied", "value", backend)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	for _, override := range overrides {
		override(cfg)
	}

	if err := cli.configManager.ValidateConfig(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// openHistory opens the playback history database when it is enabled. A
// database that cannot be opened yields nil so playback continues.
func (c *CLI) openHistory(cfg *config.Config) *history.Recorder {
	if cfg.History == nil || !cfg.History.Enabled {
		slog.Debug("playback history disabled")
		return nil
	}
	path := c.configManager.ResolveHistoryPath(cfg.History.DatabasePath)
	rec, err := history.Open(path)
	if err != nil {
		slog.Warn("failed to open history database, continuing without history", "path", path, "error", err)
		return nil
	}
	return rec
}
