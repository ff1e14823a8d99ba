// Package detail scrapes the asset-allocation table from a fund's detail
// page.
package detail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/fund-crawler/internal/config"
	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/normalize"
	"github.com/sells-group/fund-crawler/internal/render"
)

const (
	// WaitSelector is the element whose appearance means the table has loaded.
	WaitSelector = "div.assets-weight__table"
	dateSelector = "div.assets-weight__table .noti"
	rowSelector  = "div.assets-weight__table tbody tr"
)

const defaultTimeout = 10 * time.Second

// ChartScraper returns the detail chart points for a fund code.
type ChartScraper interface {
	Scrape(ctx context.Context, code string) []model.ChartPoint
}

// Scraper renders detail pages and extracts their chart rows.
type Scraper struct {
	renderer    render.Renderer
	urlTemplate string
	timeout     time.Duration
}

// New creates a Scraper. cfg.URLTemplate must contain one %s for the code.
func New(r render.Renderer, cfg config.DetailConfig) *Scraper {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Scraper{renderer: r, urlTemplate: cfg.URLTemplate, timeout: timeout}
}

// URL returns the detail page URL for code.
func (s *Scraper) URL(code string) string {
	return fmt.Sprintf(s.urlTemplate, url.QueryEscape(code))
}

// Scrape renders the detail page for code and parses its asset table. It
// never fails: a timeout, render error or missing as-of date all yield an
// empty result. FundID is left nil on every point.
func (s *Scraper) Scrape(ctx context.Context, code string) []model.ChartPoint {
	log := zap.L().With(zap.String("fund_code", code))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pageURL := s.URL(code)
	html, err := s.renderer.Render(ctx, pageURL, WaitSelector)
	if err != nil {
		log.Warn("detail: render failed, no detail charts",
			zap.String("url", pageURL),
			zap.Duration("timeout", s.timeout),
			zap.Error(err),
		)
		return nil
	}

	points := parseDetail(html, log)
	log.Debug("detail: parsed", zap.Int("points", len(points)))
	return points
}

// ParseDetail extracts chart points from a rendered detail page.
func ParseDetail(html string) []model.ChartPoint {
	return parseDetail(html, zap.L())
}

func parseDetail(html string, log *zap.Logger) []model.ChartPoint {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Warn("detail: parse html", zap.Error(err))
		return nil
	}

	rawDate := strings.TrimSpace(doc.Find(dateSelector).Text())
	var asOf *time.Time
	date, err := normalize.ParseShortDate(rawDate)
	switch {
	case errors.Is(err, normalize.ErrDateNotFound):
		// Without a date notice the page is not the table we expect.
		log.Warn("detail: no as-of date, discarding table", zap.String("raw", rawDate))
		return nil
	case err != nil:
		log.Warn("detail: invalid as-of date, keeping rows without date",
			zap.String("raw", rawDate),
			zap.Error(err),
		)
	default:
		asOf = &date
	}

	rows := doc.Find(rowSelector)
	if rows.Length() == 0 {
		log.Warn("detail: no table rows")
		return nil
	}

	var points []model.ChartPoint
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		category := normalize.Label(cells.Eq(0).Text())
		amountText := cells.Eq(1).Text()
		weightText := cells.Eq(2).Text()

		amount, ak := normalize.ParseNumber(amountText)
		weight, wk := normalize.ParseFraction(weightText)
		warnKind(log, "evaluation_amount", category, amountText, ak)
		warnKind(log, "weight", category, weightText, wk)

		var d *time.Time
		if asOf != nil {
			v := *asOf
			d = &v
		}
		points = append(points, model.ChartPoint{
			AsOfDate:         d,
			Category:         category,
			EvaluationAmount: amount,
			Weight:           weight,
			Source:           model.ChartSourceDetail,
		})
	})
	return points
}

// warnKind logs cells that parsed to 0 without holding a real zero.
func warnKind(log *zap.Logger, field, category, raw string, k normalize.Kind) {
	if k == normalize.KindNumber {
		return
	}
	log.Warn("detail: non-numeric cell, using 0",
		zap.String("field", field),
		zap.String("category", category),
		zap.String("raw", raw),
		zap.Stringer("kind", k),
	)
}
