// Package crawl drives one crawl-and-reconcile run: listing pages in order,
// detail scrapes per record and sequential reconciliation into the store.
package crawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fund-crawler/internal/detail"
	"github.com/sells-group/fund-crawler/internal/listing"
	"github.com/sells-group/fund-crawler/internal/model"
)

// ErrAlreadyRunning is returned by Run when another run is in flight.
var ErrAlreadyRunning = eris.New("crawl: run already in progress")

// FundReconciler stores one listing record with its charts.
type FundReconciler interface {
	Reconcile(ctx context.Context, fund *model.Fund, embedded, detail []model.ChartPoint) (int64, error)
}

// RunLog records crawl runs.
type RunLog interface {
	CreateCrawlRun(ctx context.Context, run *model.CrawlRun) error
	CompleteCrawlRun(ctx context.Context, run *model.CrawlRun) error
}

// Options tunes an Orchestrator.
type Options struct {
	// DetailConcurrency bounds parallel detail scrapes within a page.
	// Values below 1 mean sequential.
	DetailConcurrency int
	// MaxPages stops pagination early. 0 means until the first empty page.
	MaxPages int
	// OnComplete is called after every finished run, failed or not.
	OnComplete func(run *model.CrawlRun)
}

// Orchestrator runs crawls. At most one run is active at a time.
type Orchestrator struct {
	pager   listing.Pager
	scraper detail.ChartScraper
	rec     FundReconciler
	runs    RunLog
	opts    Options

	running atomic.Bool
	bg      sync.WaitGroup
	nowFunc func() time.Time
}

// New creates an Orchestrator.
func New(pager listing.Pager, scraper detail.ChartScraper, rec FundReconciler, runs RunLog, opts Options) *Orchestrator {
	if opts.DetailConcurrency < 1 {
		opts.DetailConcurrency = 1
	}
	return &Orchestrator{
		pager:   pager,
		scraper: scraper,
		rec:     rec,
		runs:    runs,
		opts:    opts,
		nowFunc: time.Now,
	}
}

// Running reports whether a run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run executes one crawl. It returns ErrAlreadyRunning without doing
// anything if another run holds the slot. Per-record failures are logged
// and counted; a listing page failure ends the run with an error.
func (o *Orchestrator) Run(ctx context.Context, trigger model.CrawlTrigger) (*model.CrawlRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)
	return o.run(ctx, trigger)
}

// Start claims the run slot and runs the crawl in a new goroutine. It
// returns ErrAlreadyRunning at once if the slot is taken. done, if set,
// receives the outcome when the run ends.
func (o *Orchestrator) Start(ctx context.Context, trigger model.CrawlTrigger, done func(*model.CrawlRun, error)) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.running.Store(false)
		run, err := o.run(ctx, trigger)
		if done != nil {
			done(run, err)
		}
	}()
	return nil
}

// Wait blocks until every run launched by Start has returned.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, trigger model.CrawlTrigger) (*model.CrawlRun, error) {
	run := &model.CrawlRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    model.CrawlStatusRunning,
		StartedAt: o.nowFunc().UTC(),
	}
	log := zap.L().With(
		zap.String("component", "crawl"),
		zap.String("run_id", run.ID),
		zap.String("trigger", string(trigger)),
	)

	if err := o.runs.CreateCrawlRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "crawl: create run")
	}
	log.Info("crawl: run started")

	runErr := o.paginate(ctx, run, log)
	o.finish(ctx, run, runErr, log)
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

func (o *Orchestrator) paginate(ctx context.Context, run *model.CrawlRun, log *zap.Logger) error {
	for page := 1; o.opts.MaxPages <= 0 || page <= o.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "crawl: stopped before page %d", page)
		}

		funds, err := o.pager.FetchPage(ctx, page)
		if err != nil {
			return eris.Wrapf(err, "crawl: page %d", page)
		}
		if len(funds) == 0 {
			log.Info("crawl: empty page, done", zap.Int("page", page))
			return nil
		}
		run.PagesFetched++

		o.processPage(ctx, page, funds, run, log)
	}
	log.Info("crawl: page cap reached", zap.Int("max_pages", o.opts.MaxPages))
	return nil
}

// processPage scrapes details with bounded parallelism, then reconciles
// records one at a time in page order.
func (o *Orchestrator) processPage(ctx context.Context, page int, funds []model.Fund, run *model.CrawlRun, log *zap.Logger) {
	log = log.With(zap.Int("page", page))
	details := make([][]model.ChartPoint, len(funds))

	var g errgroup.Group
	g.SetLimit(o.opts.DetailConcurrency)
	for i := range funds {
		code := funds[i].Code
		if code == "" {
			continue
		}
		g.Go(func() error {
			details[i] = o.scrapeDetail(ctx, code, log)
			return nil
		})
	}
	_ = g.Wait()

	for i := range funds {
		n, err := o.processRecord(ctx, &funds[i], details[i])
		if err != nil {
			run.RecordsFailed++
			log.Error("crawl: record failed",
				zap.String("fund_code", funds[i].Code),
				zap.Error(err),
			)
			continue
		}
		run.RecordsProcessed++
		run.ChartsStored += n
	}
	log.Info("crawl: page processed",
		zap.Int("records", len(funds)),
		zap.Int("processed_total", run.RecordsProcessed),
		zap.Int("failed_total", run.RecordsFailed),
	)
}

func (o *Orchestrator) scrapeDetail(ctx context.Context, code string, log *zap.Logger) (points []model.ChartPoint) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("crawl: detail scrape panicked, no detail charts",
				zap.String("fund_code", code),
				zap.Any("panic", r),
			)
			points = nil
		}
	}()
	return o.scraper.Scrape(ctx, code)
}

// processRecord reconciles one fund and returns the number of chart rows
// written. A panic is turned into an error so the page continues.
func (o *Orchestrator) processRecord(ctx context.Context, fund *model.Fund, detailCharts []model.ChartPoint) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("crawl: panic: %v", r)
		}
	}()

	if fund.Code == "" {
		return 0, eris.New("crawl: record has no fund code")
	}
	if _, err := o.rec.Reconcile(ctx, fund, fund.Charts, detailCharts); err != nil {
		return 0, err
	}
	return len(fund.Charts) + len(detailCharts), nil
}

func (o *Orchestrator) finish(ctx context.Context, run *model.CrawlRun, runErr error, log *zap.Logger) {
	now := o.nowFunc().UTC()
	run.CompletedAt = &now
	run.Status = model.CrawlStatusComplete
	if runErr != nil {
		run.Status = model.CrawlStatusFailed
		run.Error = runErr.Error()
	}

	// The run log is written even when ctx was cancelled mid-run.
	if err := o.runs.CompleteCrawlRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("crawl: complete run", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("pages", run.PagesFetched),
		zap.Int("processed", run.RecordsProcessed),
		zap.Int("failed", run.RecordsFailed),
		zap.Int("charts", run.ChartsStored),
		zap.Duration("elapsed", now.Sub(run.StartedAt)),
	}
	if runErr != nil {
		log.Error("crawl: run failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("crawl: run complete", fields...)
	}

	if o.opts.OnComplete != nil {
		o.opts.OnComplete(run)
	}
}

// Summary renders the counters of run on one line.
func Summary(run *model.CrawlRun) string {
	return fmt.Sprintf("run %s %s: pages=%d processed=%d failed=%d charts=%d",
		run.ID, run.Status, run.PagesFetched, run.RecordsProcessed, run.RecordsFailed, run.ChartsStored)
}
