package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/sweepwatch/internal/progress"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Trigger a check run and wait until the server reports it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), "start", func(ctx context.Context, rt *runtime) error {
			return rt.engine.TriggerCheck(ctx)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Force-close the running check and wait until it stops",
	Long: `Asks the server to stop the running check. Stopping is best-effort:
the command polls the status until the server reports it is no longer
checking, or the confirm timeout elapses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), "stop", func(ctx context.Context, rt *runtime) error {
			return rt.engine.ForceClose(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func runAction(ctx context.Context, name string, fn func(context.Context, *runtime) error) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	var last progress.Action
	rt.engine.OnRender(func(m progress.RenderModel) {
		if m.Action != last && m.Action != progress.ActionNone && outputFormat == "table" {
			fmt.Fprintln(os.Stderr, m.StatusText)
		}
		last = m.Action
	})

	if err := fn(ctx, rt); err != nil {
		return err
	}

	m, err := rt.engine.Refresh(ctx)
	if err != nil {
		return err
	}
	if outputFormat == "table" {
		fmt.Printf("%s confirmed\n", name)
	}
	return printModel(m)
}
