package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tkingovr/adminsync/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <resource>",
	Short: "Watch a live resource list in the terminal",
	Long: `Render one resource list in the terminal, refreshed as the backend
changes. Counters that increased stay highlighted for the resource's
dwell time. Logs go to watch.log in the log directory when --verbose
is set.`,
	Example: `  adminsync watch orders -c adminsync.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig("watch")
	if err != nil {
		return err
	}

	// The terminal belongs to the program while it runs.
	var logOut io.Writer = io.Discard
	if verbose {
		if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, "watch.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening watch log: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger = newLogger(logOut, cfg.LogFormat)

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.view(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	v.Open(ctx)

	model := tui.NewModel(ctx, v, a.notices)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running watch view: %w", err)
	}
	return nil
}
