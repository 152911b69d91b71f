package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/sweepwatch/internal/logtail"
	"github.com/psantana5/sweepwatch/pkg/logging"
)

var (
	logsTail   int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the server log tail",
	Example: `  sweepctl logs
  sweepctl logs -n 50
  sweepctl logs --follow`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 0, "only print the last N lines (0 = all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep polling and print new lines")
}

func runLogs(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	lines, err := rt.engine.RefreshLogs(ctx)
	if err != nil {
		return err
	}

	if !logsFollow {
		if done, err := printValue(cmd.OutOrStdout(), map[string]interface{}{"logs": lastN(lines, logsTail)}); done {
			return err
		}
		printLines(lastN(lines, logsTail))
		return nil
	}

	// Follow mode prints only what each poll appended; a rewritten tail is
	// printed in full after a marker.
	window := logtail.NewWindow(viper.GetInt("log_capacity"))
	printLines(lastN(window.Sync(lines).Lines, logsTail))

	interval := viper.GetDuration("poll.log_fast")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		lines, err := rt.engine.RefreshLogs(ctx)
		if err != nil {
			rt.logger.Warn("log refresh failed", logging.Fields{"error": err.Error()})
			continue
		}
		u := window.Sync(lines)
		switch {
		case u.Incremental:
			printLines(u.Delta)
		case u.Replaced:
			fmt.Println("--- log rewritten ---")
			printLines(u.Lines)
		}
	}
}

func lastN(lines []string, n int) []string {
	if n <= 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

func printLines(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}
