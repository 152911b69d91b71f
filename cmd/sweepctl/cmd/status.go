package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current job progress",
	Long: `Fetches the log tail and the status snapshot once, reconciles them and
prints the resulting view: progress and ETA while a run is active, the last
run summary otherwise.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	m, err := rt.engine.Refresh(cmd.Context())
	if err != nil {
		return err
	}
	return printModel(m)
}
