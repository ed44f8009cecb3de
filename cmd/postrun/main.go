package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/postrun/internal/config"
)

const (
	appName = "postrun"
	version = "v0.4.0"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Adaptive posting decision engine",
		Version: version,
		Long: `postrun decides when and what to post, generates content within a daily
generation budget, gates it on quality, publishes, and learns from engagement.

Use 'postrun run' for the scheduler loop with the status server, or the
subcommands for one-off operations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}

	bindGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newTickCmd(),
		newRunCmd(),
		newFeedbackCmd(),
		newBudgetCmd(),
		newScoreCmd(),
		newArmsCmd(),
		newDoctorCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults plus environment when empty)")
	fs.StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
}

// setupLogging uses a console writer on a terminal and JSON lines otherwise
func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

// loadConfig reads .env files, then the config file with environment overrides
func loadConfig() (*config.Config, error) {
	config.LoadEnv()
	return config.Load(configPath)
}

// withApp loads config, wires the engine, and closes it after fn
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
