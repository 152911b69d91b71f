package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the client and server versions",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	v, res := rt.client.Version(cmd.Context())
	if !res.OK {
		return fmt.Errorf("failed to fetch server version: %s (status %d)", res.Kind, res.Status)
	}

	info := map[string]string{
		"client":        version,
		"server":        v.Version,
		"server_latest": v.LatestVersion,
	}
	if done, err := printValue(os.Stdout, info); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Component", "Version")
	table.Append([]string{"sweepctl", version})
	table.Append([]string{"server", v.Version})
	if v.LatestVersion != "" && v.LatestVersion != v.Version {
		table.Append([]string{"server (latest)", v.LatestVersion})
	}
	return table.Render()
}
