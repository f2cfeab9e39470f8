package cmd

import (
	"fmt"

	"github.com/encodeous/dvpn/core"
	"github.com/encodeous/dvpn/state"
	"github.com/spf13/cobra"
)

var socketPath string

var inspectCmd = &cobra.Command{
	Use:       "inspect [status|rib|peers|trace]",
	Aliases:   []string{"i"},
	Short:     "Inspects the current state of dvpn",
	ValidArgs: []string{"status", "rib", "peers", "trace"},
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		what := "status"
		if len(args) == 1 {
			what = args[0]
		}
		if what == "trace" {
			return core.InspectTrace(socketPath, cmd.OutOrStdout())
		}
		result, err := core.InspectGet(socketPath, what)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
		return nil
	},
	GroupID: "dv",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVarP(&socketPath, "socket", "s", state.DefaultSocketPath, "inspect socket of the running node")
}
