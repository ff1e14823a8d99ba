// Package schedule fires crawl runs on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fund-crawler/internal/crawl"
	"github.com/sells-group/fund-crawler/internal/model"
)

// DefaultSpec fires once an hour.
const DefaultSpec = "@every 1h"

// Runner starts one crawl run.
type Runner interface {
	Run(ctx context.Context, trigger model.CrawlTrigger) (*model.CrawlRun, error)
}

// Scheduler triggers Runner on a cron spec. Errors and panics from a run
// are logged and never reach the cron goroutine.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	spec   string

	// mu orders fire's wg.Add against Stop's Wait.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New validates spec and registers the crawl job. An empty spec uses
// DefaultSpec.
func New(runner Runner, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	s := &Scheduler{cron: cron.New(), runner: runner, spec: spec}
	if err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, eris.Wrapf(err, "schedule: invalid spec %q", spec)
	}
	return s, nil
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("schedule: started", zap.String("spec", s.spec), zap.Time("next", s.Next()))
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cron.Stop()
	s.wg.Wait()
	zap.L().Info("schedule: stopped")
}

// Next returns the next fire time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	for _, e := range s.cron.Entries() {
		return e.Next
	}
	return time.Time{}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	log := zap.L().With(zap.String("component", "schedule"))
	defer func() {
		if r := recover(); r != nil {
			log.Error("schedule: crawl panicked", zap.Any("panic", r))
		}
	}()

	// Scheduled runs are not tied to the process context: Stop lets them
	// reach their natural end.
	run, err := s.runner.Run(context.Background(), model.CrawlTriggerSchedule)
	switch {
	case errors.Is(err, crawl.ErrAlreadyRunning):
		log.Info("schedule: crawl already running, skipping")
	case err != nil:
		log.Error("schedule: crawl failed", zap.Error(err))
	default:
		log.Info("schedule: " + crawl.Summary(run))
	}
}
