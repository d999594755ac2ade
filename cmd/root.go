// Package cmd defines the sitemapcrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/app"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests swap in a fake
// through newApp.
type App interface {
	Crawl(ctx context.Context, req app.CrawlRequest) (crawler.RunSummary, error)
	ListURLs(ctx context.Context, sitemapURL string) []string
	ServeStatus(ctx context.Context) error
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

type rootOptions struct {
	configPath  string
	concurrency int
	engine      string
}

// session owns what PersistentPreRunE builds. Cobra skips post-run hooks when
// RunE fails, so Execute releases it instead.
type session struct {
	app    App
	logger *zap.Logger
}

func (s *session) close(ctx context.Context) {
	if s.app != nil {
		if err := s.app.Close(ctx); err != nil && s.logger != nil {
			s.logger.Warn("failed to close application services", zap.Error(err))
		}
		s.app = nil
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func newRootCmd(sess *session) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sitemapcrawler",
		Short: "Crawl every page a sitemap declares into a document store",
		Long: `sitemapcrawler reads a sitemap, fetches each page in fixed-size concurrent
batches through a headless browser (or plain HTTP), converts the page to text, and
stores the result with the given category and title labels.`,
		SilenceErrors: true,

		// Runs after argument validation, so usage errors never build services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			sess.logger, err = logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(sess.logger)

			appInstance, err := newApp(cmd.Context(), cfg, sess.logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			sess.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().IntVar(&opts.concurrency, "concurrency", 0, "batch size; overrides crawler.concurrency")
	cmd.PersistentFlags().StringVar(&opts.engine, "engine", "", "fetch engine: headless, http or auto")

	cmd.AddCommand(newCrawlCmd(), newURLsCmd())
	return cmd
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Crawler.Concurrency = opts.concurrency
	}
	if flags.Changed("engine") {
		cfg.Crawler.Engine = opts.engine
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	sess := &session{}
	err := newRootCmd(sess).ExecuteContext(ctx)
	sess.close(context.WithoutCancel(ctx))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
