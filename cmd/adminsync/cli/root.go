package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tkingovr/adminsync/internal/config"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adminsync",
	Short: "AdminSync: live admin lists over a REST backend",
	Long: `AdminSync keeps paginated admin resource lists in sync with a REST
backend. It polls summary counters, highlights new activity, and runs
create, update, and delete calls pessimistically: a list only changes
after a fresh read confirms the write.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile == "" {
			cfgFile = os.Getenv("ADMINSYNC_CONFIG")
		}
		logger = newLogger(os.Stderr, "")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML, or $ADMINSYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(w io.Writer, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// loadConfig reads the config file, or the defaults when none is given.
// The logger is rebuilt to honour settings.log_format.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.LogFormat != "" {
		logger = newLogger(os.Stderr, cfg.LogFormat)
	}
	return cfg, nil
}

// requireConfig is loadConfig for commands that need configured
// resources.
func requireConfig(cmd string) (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("--config/-c is required for %s command", cmd)
	}
	return loadConfig()
}
