package model

import "time"

// CrawlStatus represents the state of a crawl run.
type CrawlStatus string

const (
	CrawlStatusRunning  CrawlStatus = "running"
	CrawlStatusComplete CrawlStatus = "complete"
	CrawlStatusFailed   CrawlStatus = "failed"
)

// CrawlTrigger describes what started a crawl run.
type CrawlTrigger string

const (
	CrawlTriggerSchedule CrawlTrigger = "schedule"
	CrawlTriggerManual   CrawlTrigger = "manual" // HTTP on-demand
	CrawlTriggerCLI      CrawlTrigger = "cli"
)

// CrawlRun is one execution of the crawl-and-reconcile pipeline.
type CrawlRun struct {
	ID               string       `json:"id"`
	Trigger          CrawlTrigger `json:"trigger"`
	Status           CrawlStatus  `json:"status"`
	PagesFetched     int          `json:"pages_fetched"`
	RecordsProcessed int          `json:"records_processed"`
	RecordsFailed    int          `json:"records_failed"`
	ChartsStored     int          `json:"charts_stored"`
	Error            string       `json:"error,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}
