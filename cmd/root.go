package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pdfcrawler/internal/app"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfcrawler",
		Short: "Crawls websites and downloads the PDF documents they link to.",
		Long: `pdfcrawler crawls from a set of seed pages, follows links within the
allowed domains and downloads every linked PDF document into an output
directory, recording one metadata row per document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfcrawler: %v\n", err)
	}
	return app.ExitCode(err)
}
