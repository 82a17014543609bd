package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "webhook-guard",
	Short:         "Operator tools for the webhook reliability layer",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(genSecretCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(verifyCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
