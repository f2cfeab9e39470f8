package cmd

import (
	"fmt"

	"github.com/encodeous/dvpn/state"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checks the node config and its key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.ReadConfig(configPath)
		if err != nil {
			return err
		}
		if err := state.ValidateConfig(cfg); err != nil {
			return err
		}
		id, err := state.LoadIdentity(cfg.Key)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config is valid: %d connect, %d listen\n", len(cfg.Connect), len(cfg.Listen))
		fmt.Fprintf(out, "Fingerprint: %s\n", state.FingerprintOf(id.ID))
		return nil
	},
	GroupID: "dv",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
