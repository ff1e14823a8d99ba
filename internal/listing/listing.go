// Package listing fetches pages of the fund listing API and attaches each
// fund's embedded return series.
package listing

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/fund-crawler/internal/config"
	"github.com/sells-group/fund-crawler/internal/fetcher"
	"github.com/sells-group/fund-crawler/internal/model"
)

// Pager returns one page of the listing. An empty page ends pagination.
type Pager interface {
	FetchPage(ctx context.Context, pageNo int) ([]model.Fund, error)
}

// Client fetches listing pages through a Fetcher.
type Client struct {
	fetcher   fetcher.Fetcher
	baseURL   string
	graphTerm string
}

// New creates a listing Client.
func New(f fetcher.Fetcher, cfg config.ListingConfig) *Client {
	graphTerm := cfg.GraphTerm
	if graphTerm == "" {
		graphTerm = "1"
	}
	return &Client{fetcher: f, baseURL: cfg.URL, graphTerm: graphTerm}
}

// PageURL builds the request URL for pageNo, keeping any query parameters
// already present on the base URL.
func (c *Client) PageURL(pageNo int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", eris.Wrapf(err, "listing: parse url %q", c.baseURL)
	}
	q := u.Query()
	q.Set("graphTerm", c.graphTerm)
	q.Set("orderBy", "DESC")
	q.Set("orderByType", "SUIK_RT3")
	q.Set("pageNo", strconv.Itoa(pageNo))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchPage downloads and decodes one page. Any transport or decode failure
// is returned; the page is never partially delivered.
func (c *Client) FetchPage(ctx context.Context, pageNo int) ([]model.Fund, error) {
	pageURL, err := c.PageURL(pageNo)
	if err != nil {
		return nil, err
	}

	body, err := c.fetcher.Download(ctx, pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "listing: fetch page %d", pageNo)
	}
	defer body.Close() //nolint:errcheck

	data, err := fetcher.ReadJSON(body)
	if err != nil {
		return nil, eris.Wrapf(err, "listing: read page %d", pageNo)
	}

	funds, err := Decode(data)
	if err != nil {
		return nil, eris.Wrapf(err, "listing: decode page %d", pageNo)
	}

	zap.L().Debug("listing: page fetched",
		zap.Int("page", pageNo),
		zap.Int("records", len(funds)),
	)
	return funds, nil
}

// Decode turns a listing response body into funds, in response order, with
// their embedded chart series attached.
func Decode(data []byte) ([]model.Fund, error) {
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, eris.New("listing: response is not a JSON array")
	}

	var wire []wireFund
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, eris.Wrap(err, "listing: decode records")
	}

	// Index the raw tree by fund code once per page. The first node with a
	// given code wins.
	nodes := make(map[string]gjson.Result, len(wire))
	root.ForEach(func(_, node gjson.Result) bool {
		code := node.Get("fundCd").String()
		if code == "" {
			return true
		}
		if _, seen := nodes[code]; !seen {
			nodes[code] = node
		}
		return true
	})

	funds := make([]model.Fund, 0, len(wire))
	for _, w := range wire {
		f := w.toModel()
		if !f.HasID() && f.Code != "" {
			if node, ok := nodes[f.Code]; ok {
				if err := enrich(&f, node); err != nil {
					return nil, eris.Wrapf(err, "listing: fund %s", f.Code)
				}
			}
		}
		funds = append(funds, f)
	}
	return funds, nil
}

// enrich copies the tree-only fields of node onto f.
func enrich(f *model.Fund, node gjson.Result) error {
	f.ExternalID = node.Get("fId").String()

	charts := node.Get("suikChart")
	if !charts.IsArray() {
		return nil
	}
	elems := charts.Array()
	if len(elems) == 0 {
		return nil
	}

	points := make([]model.ChartPoint, 0, len(elems))
	for i, elem := range elems {
		p, err := chartFromNode(elem)
		if err != nil {
			return eris.Wrapf(err, "suikChart[%d]", i)
		}
		points = append(points, p)
	}
	f.Charts = points
	return nil
}
