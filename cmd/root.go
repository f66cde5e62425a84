// Package cmd defines the command line interface for the scraper
// service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nfce-scraper",
		Short: "Scraping service for Brazilian consumer receipts (NFC-e).",
		Long: `nfce-scraper accepts receipt lookup URLs over HTTP, queues them
for asynchronous scraping through a shared headless browser, and
delivers the extracted data via webhook callbacks.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables are used when omitted)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
