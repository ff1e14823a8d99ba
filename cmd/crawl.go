package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fund-crawler/internal/crawl"
	"github.com/sells-group/fund-crawler/internal/model"
)

var crawlMaxPages int

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl now",
	Long:  "Fetches listing pages until the first empty page, scrapes detail charts and reconciles every fund into the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if crawlMaxPages > 0 {
			cfg.Listing.MaxPages = crawlMaxPages
		}
		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		env, err := buildCrawler(cfg, st, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Orchestrator.Run(ctx, model.CrawlTriggerCLI)
		if run != nil {
			fmt.Fprintln(os.Stderr, crawl.Summary(run))
		}
		if err != nil {
			return eris.Wrap(err, "crawl")
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "stop after this many pages (default from config, 0 = until empty page)")
	rootCmd.AddCommand(crawlCmd)
}
