package render

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const maxPageBytes = 4 << 20

// HTTPRenderer fetches HTML with a plain GET. It cannot run scripts, so it
// only succeeds when the server already includes the waited-for element.
type HTTPRenderer struct {
	client    *http.Client
	userAgent string
}

// NewHTTPRenderer creates an HTTPRenderer. A zero timeout defers entirely to
// the request context.
func NewHTTPRenderer(userAgent string, timeout time.Duration) *HTTPRenderer {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; fund-crawler/1.0)"
	}
	return &HTTPRenderer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

func (h *HTTPRenderer) Name() string { return "http" }

// Render fetches targetURL and checks that waitSelector is present.
func (h *HTTPRenderer) Render(ctx context.Context, targetURL, waitSelector string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "http: create request")
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", eris.Wrap(err, "http: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return "", eris.Errorf("http: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return "", eris.Errorf("http: status %d", resp.StatusCode)
	}

	if waitSelector != "" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return "", eris.Wrap(err, "http: parse html")
		}
		if doc.Find(waitSelector).Length() == 0 {
			return "", eris.Wrapf(ErrSelectorMissing, "http: %s", waitSelector)
		}
	}
	return string(body), nil
}
