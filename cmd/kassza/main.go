package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kassza",
		Short: "Kassza - shift and till ledger for a bookshop and gift counter",
		Long: `Kassza records the sales, extra income and expenses of a shop till,
opens and closes cashier shifts and reconciles the counted cash against
the expected balance.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reportCmd())
	return rootCmd
}
