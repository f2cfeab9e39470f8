package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/encodeous/dvpn/state"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a node configuration and key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := state.NameValidator(name); err != nil {
			return err
		}
		keyPath, err := filepath.Abs(cmd.Flag("key").Value.String())
		if err != nil {
			return err
		}

		key, err := state.GenerateKey()
		if err != nil {
			return err
		}
		pem, err := state.EncodeKey(key)
		if err != nil {
			return err
		}
		if err := writeKeyFile(keyPath, pem); err != nil {
			return err
		}
		id, err := state.NewIdentity(key)
		if err != nil {
			return err
		}

		nodeCfg := state.LocalCfg{Name: name, Key: keyPath}
		ncfg, err := nodeCfg.Marshal()
		if err != nil {
			return err
		}
		outPath := cmd.Flag("output").Value.String()
		if err := state.PathValidator(outPath); err != nil {
			return err
		}
		if err := os.WriteFile(outPath, ncfg, 0600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s, fingerprint %s\n", outPath, state.FingerprintOf(id.ID))
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringP("output", "o", "config.yaml", "Path to write the node config to")
	newCmd.Flags().StringP("key", "k", "key.pem", "Path to write the node key to")
}
