package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION...",
	Short: "Ask a research question and print the cited answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		return newClient().post(ctx, "/api/v1/query", req, cmd.OutOrStdout())
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify QUESTION...",
	Short: "Show how a question would be routed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		return newClient().post(ctx, "/api/v1/classify", req, cmd.OutOrStdout())
	},
}

var dryRunCmd = &cobra.Command{
	Use:   "dry-run QUESTION...",
	Short: "Generate and validate a store query without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		if agent != "profiles" && agent != "metadata" {
			return fmt.Errorf("--agent must be profiles or metadata, got %q", agent)
		}
		req, err := requestFromFlags(cmd, args)
		if err != nil {
			return err
		}
		req.Agent = agent

		ctx, cancel := withTimeout(cmd)
		defer cancel()
		return newClient().post(ctx, "/api/v1/query/dry-run", req, cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of atlasctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "atlasctl %s\n", version)
	},
}

func init() {
	addQueryFlags(askCmd)
	addQueryFlags(classifyCmd)
	addQueryFlags(dryRunCmd)
	dryRunCmd.Flags().String("agent", "profiles", "structured agent: profiles or metadata")

	rootCmd.AddCommand(askCmd, classifyCmd, dryRunCmd, versionCmd)
}
