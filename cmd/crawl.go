package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfcrawler/internal/app"
	"github.com/JakeFAU/pdfcrawler/internal/config"
	"github.com/JakeFAU/pdfcrawler/internal/coordinator"
	"github.com/JakeFAU/pdfcrawler/internal/id/uuid"
	"github.com/JakeFAU/pdfcrawler/internal/logging"
)

// Runner executes one crawl run.
type Runner interface {
	Run(ctx context.Context) (coordinator.Summary, error)
	Close()
}

// newRunner is the run factory. It's a variable so tests can replace it.
var newRunner = func(ctx context.Context, cfg config.Config, rc coordinator.RunContext, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, rc, logger)
}

type crawlOptions struct {
	seeds     []string
	outputDir string
	logLevel  string
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl",
		Long: `Crawls from the configured start URLs, downloading linked documents
into <output_dir>/documents and appending their metadata to
<output_dir>/metadata.csv.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringArrayVar(&opts.seeds, "seed", nil, "start URL (repeatable); replaces start_urls")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "output directory; overrides output_dir")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error; overrides log_level")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cmd.Flags(), opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	rc := coordinator.NewRunContext(runID, cfg.OutputDir, cfg.StartURLs)

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.LogLevel,
		File:        rc.LogFile(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logger = logger.With(zap.String("run_id", runID))

	runner, err := newRunner(cmd.Context(), cfg, rc, logger)
	if err != nil {
		return fmt.Errorf("init run: %w", err)
	}
	defer runner.Close()

	summary, runErr := runner.Run(cmd.Context())
	if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
		logger.Warn("print summary", zap.Error(err))
	}
	return runErr
}

// applyOverrides copies only the flags the user set, so unset flags never
// clobber file or environment values.
func applyOverrides(flags *pflag.FlagSet, opts *crawlOptions, cfg *config.Config) {
	if flags.Changed("seed") {
		cfg.StartURLs = opts.seeds
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = opts.outputDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
}

func printSummary(w io.Writer, summary coordinator.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
