package cmd

import (
	"log/slog"

	"github.com/encodeous/dvpn/core"
	"github.com/encodeous/dvpn/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run dvpn",
	Long:  `This will run dvpn on the current host. Ensure it has enough permissions to create tunnel interfaces.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.ReadConfig(configPath)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		return core.Start(*cfg, core.Options{
			Context:    cmd.Context(),
			LogLevel:   level,
			ConfigPath: configPath,
		})
	},
	GroupID: "dv",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}
