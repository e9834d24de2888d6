package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/timerhsenso/sentinela/cmd/server"
)

var sentinelaCmd = &cobra.Command{
	Use:   "sentinela",
	Short: "Sentinela is the row-scoped action security core of the RhSenso admin backend",
	Long: `Sentinela protects row-level actions on admin screens. Every edit or
delete link carries an opaque, expiring token bound to one row, one action
and one identity; permission grants are aggregated at login for fast checks;
and active-flag toggles are serialized per row against bursts of UI events.`,
}

func Execute() {
	if err := sentinelaCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	sentinelaCmd.AddCommand(server.ServerCmd)
}
