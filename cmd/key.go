package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/encodeous/dvpn/state"
	"github.com/spf13/cobra"
)

var (
	genKey     bool
	keyOutPath string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Generates a new dvpn key. Outputs the private key to stdout, its fingerprint to stderr.",
	Long: `Generates a new Ed25519 key in PEM form. With --gen=false, a PEM key is read from stdin
instead and only its id and fingerprint are printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var id *state.Identity
		if genKey {
			key, err := state.GenerateKey()
			if err != nil {
				return err
			}
			pem, err := state.EncodeKey(key)
			if err != nil {
				return err
			}
			if keyOutPath != "" {
				if err := writeKeyFile(keyOutPath, pem); err != nil {
					return err
				}
			} else {
				_, _ = cmd.OutOrStdout().Write(pem)
			}
			id, err = state.NewIdentity(key)
			if err != nil {
				return err
			}
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			id, err = state.ParseKey(data)
			if err != nil {
				return err
			}
		}

		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "Id=%s\n", id.ID)
		fmt.Fprintf(errOut, "Fingerprint=%s\n", state.FingerprintOf(id.ID))
		return nil
	},
	GroupID: "init",
}

func writeKeyFile(path string, pem []byte) error {
	if err := state.PathValidator(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	_, err = f.Write(pem)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.Flags().BoolVarP(&genKey, "gen", "g", true, "generate a new key")
	keyCmd.Flags().StringVarP(&keyOutPath, "output", "o", "", "write the generated key to this file instead of stdout")
}
