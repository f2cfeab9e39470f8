package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const DefaultConfigPath = "/etc/dvpn/config.yaml"

var configPath = DefaultConfigPath

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dvpn",
	Short: "dvpn peer-to-peer overlay CLI",
	Long: `dvpn connects nodes over mutually authenticated TLS sessions, each session carrying
the traffic of one tunnel interface, and keeps a link-state view of the overlay.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize dvpn",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "dv",
		Title: "dvpn Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "node config")
}
