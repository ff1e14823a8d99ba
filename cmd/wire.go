package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fund-crawler/internal/config"
	"github.com/sells-group/fund-crawler/internal/crawl"
	"github.com/sells-group/fund-crawler/internal/detail"
	"github.com/sells-group/fund-crawler/internal/fetcher"
	"github.com/sells-group/fund-crawler/internal/listing"
	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/reconcile"
	"github.com/sells-group/fund-crawler/internal/render"
	"github.com/sells-group/fund-crawler/internal/store"
)

// crawlEnv holds a wired orchestrator and the resources it owns.
type crawlEnv struct {
	Orchestrator *crawl.Orchestrator
	closers      []func()
}

// Close releases the renderer resources.
func (e *crawlEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// buildRenderer returns the detail renderer for c and a cleanup func.
// "chrome" renders in headless Chrome and falls back to plain HTTP.
func buildRenderer(c config.DetailConfig) (render.Renderer, func(), error) {
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	httpR := render.NewHTTPRenderer(c.UserAgent, timeout)

	switch c.Renderer {
	case "http":
		return render.NewLimited(httpR, c.RatePerSec), func() {}, nil
	case "chrome":
		chrome := render.NewChromeRenderer(render.ChromeOptions{
			ExecPath:  c.ChromePath,
			UserAgent: c.UserAgent,
			Headless:  c.Headless,
		})
		chain := render.NewChain(chrome, httpR)
		return render.NewLimited(chain, c.RatePerSec), chrome.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported renderer: %s", c.Renderer)
	}
}

// buildCrawler wires the listing client, detail scraper and reconciler
// around st. onComplete runs after every finished crawl.
func buildCrawler(c *config.Config, st store.Store, onComplete func(*model.CrawlRun)) (*crawlEnv, error) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   c.Listing.UserAgent,
		Timeout:     time.Duration(c.Listing.TimeoutSecs) * time.Second,
		MaxAttempts: c.Listing.MaxAttempts,
		RatePerSec:  c.Listing.RatePerSec,
		Headers:     map[string]string{"Accept": "application/json"},
	})

	r, closeRenderer, err := buildRenderer(c.Detail)
	if err != nil {
		return nil, err
	}

	orch := crawl.New(
		listing.New(f, c.Listing),
		detail.New(r, c.Detail),
		reconcile.New(st),
		st,
		crawl.Options{
			DetailConcurrency: c.Crawl.DetailConcurrency,
			MaxPages:          c.Listing.MaxPages,
			OnComplete:        onComplete,
		},
	)
	return &crawlEnv{Orchestrator: orch, closers: []func(){closeRenderer}}, nil
}
