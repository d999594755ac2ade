package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/app"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <sitemap_url> <category> <title>",
		Short: "Crawl every URL in a sitemap and store the page text",
		Long: `Fetches the sitemap, crawls its URLs in batches of crawler.concurrency, and
hands each page's text to the document sink tagged with category and title.
Pages that fail are counted; the command still exits 0 once the run completes.`,
		Args: cobra.ExactArgs(3),
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := appInstance.ServeStatus(serverCtx); err != nil {
			zap.L().Warn("status server stopped", zap.Error(err))
		}
	}()
	defer func() {
		stopServer()
		<-serverDone
	}()

	summary, err := appInstance.Crawl(ctx, app.CrawlRequest{
		SitemapURL: args[0],
		Category:   args[1],
		Title:      args[2],
	})
	if err != nil {
		return fmt.Errorf("crawl %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d succeeded, %d failed, peak memory %.2f MB\n",
		summary.ID, summary.Succeeded, summary.Failed, logging.MB(summary.PeakMemory))
	return nil
}

func newURLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "urls <sitemap_url>",
		Short: "List the URLs a sitemap declares without crawling them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range appInstance.ListURLs(cmd.Context(), args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
}
