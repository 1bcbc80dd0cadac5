package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/geniass/price-tracker/pkg/logging"
)

// DefaultPendingJobsExpr counts work the page still has in flight: an
// unfinished document plus outstanding jQuery requests where jQuery is loaded.
const DefaultPendingJobsExpr = `(document.readyState === "complete" ? 0 : 1) + (window.jQuery ? window.jQuery.active : 0)`

type BrowserOptions struct {
	// ExecPath is the Chrome binary; empty means chromedp's lookup.
	ExecPath  string
	UserAgent string
	// PendingJobsExpr is evaluated in the page and must return a number.
	PendingJobsExpr string
	PollInterval    time.Duration
	SettleBudget    time.Duration
	Log             *logrus.Entry
}

// BrowserFetcher loads pages in headless Chrome so listings rendered by
// JavaScript are present in the returned HTML.
type BrowserFetcher struct {
	opts  BrowserOptions
	log   *logrus.Entry
	alloc context.Context
	stop  context.CancelFunc
}

// NewBrowserFetcher starts a browser allocator. Close releases it.
func NewBrowserFetcher(opts BrowserOptions) *BrowserFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PendingJobsExpr == "" {
		opts.PendingJobsExpr = DefaultPendingJobsExpr
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.SettleBudget <= 0 {
		opts.SettleBudget = 15 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(opts.UserAgent),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	alloc, stop := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &BrowserFetcher{opts: opts, log: log, alloc: alloc, stop: stop}
}

func (f *BrowserFetcher) Close() error {
	f.stop()
	return nil
}

// Fetch opens url in a new tab, waits for the page to settle and returns its HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	tab, cancel := chromedp.NewContext(f.alloc)
	defer cancel()
	// the tab lives under the allocator, so tie it to the caller's context by hand
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	log := f.log.WithField("url", url)
	if err := chromedp.Run(tab, chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", url, err)
	}

	pending, err := waitForPendingJobs(tab, func(ctx context.Context) (int, error) {
		var n int
		err := chromedp.Run(ctx, chromedp.Evaluate(f.opts.PendingJobsExpr, &n))
		return n, err
	}, f.opts.PollInterval, f.opts.SettleBudget)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s to settle: %w", url, err)
	}
	if pending > 0 {
		log.WithField("pending", pending).Warn("page still busy after settle budget, using what has rendered")
	}

	var html string
	if err := chromedp.Run(tab, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return []byte(html), nil
}

// waitForPendingJobs polls pending every interval until it reports nothing
// pending or budget runs out, and returns the last count seen.
func waitForPendingJobs(ctx context.Context, pending func(context.Context) (int, error), interval, budget time.Duration) (int, error) {
	deadline := time.Now().Add(budget)
	for {
		n, err := pending(ctx)
		if err != nil {
			return 0, err
		}
		if n <= 0 || !time.Now().Add(interval).Before(deadline) {
			return n, nil
		}
		if err := wait(ctx, interval); err != nil {
			return n, err
		}
	}
}
