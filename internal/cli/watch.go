package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/events"
	"github.com/psgate/psgate/internal/rpc"
	"github.com/psgate/psgate/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of gateway activity",
	Long: `Subscribes to the running gateway's event stream and renders a
rolling table of executions and attempts. Requires an interactive terminal;
pipe-friendly output is available via 'psgate watch --json'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		client := rpc.NewClient(socketPath(cfg.General.DataDir))
		defer client.Close()

		// Non-interactive: print each event through the CLI output writer.
		if flagJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
			return client.Subscribe(cmd.Context(), func(ev events.Event) {
				_ = newWriter().Write(ev)
			})
		}

		model := tui.New()
		program := tea.NewProgram(model, tea.WithAltScreen())

		go func() {
			err := client.Subscribe(cmd.Context(), func(ev events.Event) {
				program.Send(tui.EventMsg(ev))
			})
			program.Send(tui.DisconnectedMsg{Err: err})
		}()

		if _, err := program.Run(); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
