package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fund-crawler/internal/model"
)

// collectLimit bounds how many recent runs one snapshot reads.
const collectLimit = 1000

// MetricsSnapshot holds a point-in-time view of crawl health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Record counters summed over those runs.
	RecordsProcessed int     `json:"records_processed"`
	RecordsFailed    int     `json:"records_failed"`
	RecordFailRate   float64 `json:"record_fail_rate"`
	ChartsStored     int     `json:"charts_stored"`

	// LastSuccessAt is the completion time of the newest complete run,
	// regardless of the window. Nil if there has never been one.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister reads recent crawl runs, newest first.
type RunLister interface {
	ListCrawlRuns(ctx context.Context, limit int) ([]model.CrawlRun, error)
}

// Collector gathers metrics from the crawl run log.
type Collector struct {
	runs    RunLister
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListCrawlRuns(ctx, collectLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list crawl runs")
	}

	for _, r := range runs {
		if r.Status == model.CrawlStatusComplete && r.CompletedAt != nil {
			if snap.LastSuccessAt == nil || r.CompletedAt.After(*snap.LastSuccessAt) {
				t := *r.CompletedAt
				snap.LastSuccessAt = &t
			}
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		switch r.Status {
		case model.CrawlStatusComplete:
			snap.RunsComplete++
		case model.CrawlStatusFailed:
			snap.RunsFailed++
		case model.CrawlStatusRunning:
			snap.RunsRunning++
		}
		snap.RecordsProcessed += r.RecordsProcessed
		snap.RecordsFailed += r.RecordsFailed
		snap.ChartsStored += r.ChartsStored
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if attempted := snap.RecordsProcessed + snap.RecordsFailed; attempted > 0 {
		snap.RecordFailRate = float64(snap.RecordsFailed) / float64(attempted)
	}

	return snap, nil
}
