// Package main is atlasctl, a command-line client for the Atlas research API.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "atlasctl",
	Short: "Query the Atlas ocean research orchestrator",
	Long: `atlasctl sends research questions about Argo floats to a running Atlas
orchestrator and prints the JSON response.

The server address comes from --server or ATLAS_SERVER.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "orchestrator base URL")
	rootCmd.PersistentFlags().Duration("timeout", 2*time.Minute, "request timeout")
	rootCmd.PersistentFlags().Bool("pretty", true, "indent JSON output")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.SetEnvPrefix("ATLAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
