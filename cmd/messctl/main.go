package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "messctl",
		Short:         "Operator tool for the mess attendance gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(decodeCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(countCmd())
	rootCmd.AddCommand(migrateCmd())

	return rootCmd
}
