package render

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	ExecPath  string // empty: let chromedp find Chrome
	UserAgent string
	Headless  bool
}

// ChromeRenderer renders pages in a shared headless Chrome. Each Render gets
// its own tab. The browser starts on first use.
type ChromeRenderer struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	once     sync.Once
	startErr error
}

// NewChromeRenderer prepares a browser allocator. Call Close to stop Chrome.
func NewChromeRenderer(opts ChromeOptions) *ChromeRenderer {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(zap.S().Debugf),
		chromedp.WithErrorf(zap.S().Debugf),
	)
	return &ChromeRenderer{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}
}

// start launches the browser once. Tabs opened afterwards share it.
func (c *ChromeRenderer) start() error {
	c.once.Do(func() {
		if err := chromedp.Run(c.browserCtx); err != nil {
			c.startErr = eris.Wrap(err, "chrome: start browser")
		}
	})
	return c.startErr
}

func (c *ChromeRenderer) Name() string { return "chrome" }

// Render opens targetURL in a new tab, waits for waitSelector to become
// visible and returns the document's outer HTML. The tab is closed when ctx
// ends, so a deadline on ctx bounds the whole render.
func (c *ChromeRenderer) Render(ctx context.Context, targetURL, waitSelector string) (string, error) {
	if err := c.start(); err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	actions := []chromedp.Action{chromedp.Navigate(targetURL)}
	if waitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrapf(ctx.Err(), "chrome: render %s", targetURL)
		}
		return "", eris.Wrapf(err, "chrome: render %s", targetURL)
	}
	return html, nil
}

// Close stops the browser.
func (c *ChromeRenderer) Close() {
	c.cancelBrowser()
	c.cancelAlloc()
}
