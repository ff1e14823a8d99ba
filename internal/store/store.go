// Package store persists funds, their chart rows and the crawl run log.
package store

import (
	"context"
	"strings"

	"github.com/sells-group/fund-crawler/internal/model"
)

// FundTx is the set of fund operations available inside one transaction.
type FundTx interface {
	// FindFundByCode returns the stored fund with the given code, or nil if
	// none exists.
	FindFundByCode(ctx context.Context, code string) (*model.Fund, error)
	// InsertFund inserts the fund and returns its storage-assigned id.
	InsertFund(ctx context.Context, f *model.Fund) (int64, error)
	UpdateFund(ctx context.Context, f *model.Fund) error
	DeleteChartsByFundID(ctx context.Context, fundID int64) (int64, error)
	// InsertCharts stores points in order. Every point must carry a FundID.
	InsertCharts(ctx context.Context, charts []model.ChartPoint) (int64, error)
}

// Store defines the persistence interface for the fund crawler.
type Store interface {
	// WithTx runs fn in a single transaction. fn's error rolls it back.
	WithTx(ctx context.Context, fn func(tx FundTx) error) error

	// Reads
	ListFunds(ctx context.Context) ([]model.Fund, error)
	SearchFunds(ctx context.Context, keyword string) ([]model.Fund, error)
	ListCharts(ctx context.Context, fundCode string) ([]model.ChartPoint, error)

	// Crawl run log
	CreateCrawlRun(ctx context.Context, run *model.CrawlRun) error
	CompleteCrawlRun(ctx context.Context, run *model.CrawlRun) error
	ListCrawlRuns(ctx context.Context, limit int) ([]model.CrawlRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// chartColumns is the column order used for chart inserts.
var chartColumns = []string{
	"fund_id", "gijun_ymd", "category", "evaluation_amount", "weight", "return_rate", "source", "seq",
}

const defaultRunLimit = 50

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes keyword match literally inside a LIKE pattern that
// declares ESCAPE '\'.
func escapeLike(keyword string) string {
	return likeEscaper.Replace(keyword)
}
