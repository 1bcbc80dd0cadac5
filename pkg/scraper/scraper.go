package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/geniass/price-tracker/pkg/catalog"
	"github.com/geniass/price-tracker/pkg/dates"
	"github.com/geniass/price-tracker/pkg/logging"
	"github.com/geniass/price-tracker/pkg/pricing"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
)

// Scraper walks the listing pages of one site and records every listing it
// finds in a catalog.
type Scraper struct {
	site      Site
	fetcher   Fetcher
	extractor Extractor
	catalog   *catalog.Catalog

	log         *logrus.Entry
	progress    io.Writer
	progressMu  *sync.Mutex
	maxAttempts int
	retryDelay  time.Duration
	concurrency int
	today       func() dates.Date
}

type Option func(*Scraper)

func WithLogger(log *logrus.Entry) Option {
	return func(s *Scraper) { s.log = log }
}

// WithProgressWriter sets where progress lines go when progress reporting is on.
func WithProgressWriter(w io.Writer) Option {
	return func(s *Scraper) { s.progress = w }
}

// WithMaxAttempts bounds how many times one page is fetched when its extraction
// keeps failing transiently.
func WithMaxAttempts(n int) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Scraper) { s.retryDelay = d }
}

// WithConcurrency limits the number of pages fetched at once in concurrent
// mode. Zero means one task per page.
func WithConcurrency(n int) Option {
	return func(s *Scraper) { s.concurrency = n }
}

// WithClock sets the day observations are dated with.
func WithClock(today func() dates.Date) Option {
	return func(s *Scraper) { s.today = today }
}

// NewScraper returns a scraper that records into cat. cat may already hold
// data from earlier runs; new observations are merged into it.
func NewScraper(site Site, fetcher Fetcher, extractor Extractor, cat *catalog.Catalog, opts ...Option) *Scraper {
	if cat == nil {
		cat = catalog.New(site.Title)
	}
	s := &Scraper{
		site:        site,
		fetcher:     fetcher,
		extractor:   extractor,
		catalog:     cat,
		log:         logging.Discard(),
		progress:    os.Stdout,
		progressMu:  &sync.Mutex{},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		today:       dates.Today,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("site", site.Title)
	return s
}

// Catalog returns a snapshot of the scraper's catalog.
func (s *Scraper) Catalog() *catalog.Catalog {
	return s.catalog.Snapshot()
}

// CrawlAll crawls every listing page and reports whether all of them succeeded.
// Results from pages that did succeed are kept either way.
func (s *Scraper) CrawlAll(ctx context.Context, mode Mode, reportProgress bool) bool {
	_, err := s.Run(ctx, mode, reportProgress)
	return err == nil
}

// Run crawls every listing page. The error joins every failed page's *PageError
// (or the reason the crawl could not start); the catalog keeps whatever was
// applied before and around the failures.
func (s *Scraper) Run(ctx context.Context, mode Mode, reportProgress bool) (*Report, error) {
	report := &Report{
		RunID:   uuid.New(),
		Mode:    mode,
		Started: time.Now(),
	}
	log := s.log.WithFields(logrus.Fields{"run_id": report.RunID, "mode": mode})
	log.Info("crawl starting")

	switch mode {
	case Sequential:
		s.crawlSequential(ctx, log, report, reportProgress)
	case Concurrent:
		s.crawlConcurrent(ctx, log, report, reportProgress)
	default:
		report.fail(fmt.Errorf("unknown crawl mode %v", mode))
	}

	report.Finished = time.Now()
	s.progressf(reportProgress, "Finished %s crawl: %d pages, %d listings, %d failed",
		mode, report.PagesVisited, report.Listings, report.PagesFailed)
	log.WithFields(logrus.Fields{
		"pages":    report.PagesVisited,
		"listings": report.Listings,
		"failed":   report.PagesFailed,
		"duration": report.Finished.Sub(report.Started),
	}).Info("crawl finished")

	return report, report.Err()
}

func (s *Scraper) crawlSequential(ctx context.Context, log *logrus.Entry, report *Report, reportProgress bool) {
	visited := make(map[string]bool)
	url := s.site.StartURL
	for url != "" {
		if err := ctx.Err(); err != nil {
			report.fail(&PageError{URL: url, Err: err})
			return
		}
		if visited[url] {
			log.WithField("url", url).Warn("next page link points to a page already visited, stopping")
			return
		}
		visited[url] = true

		page, err := s.visitPage(ctx, log, url, reportProgress)
		if err != nil {
			// without this page there is no next link to follow
			report.fail(err)
			return
		}
		report.PagesVisited++
		report.Listings += s.apply(page, reportProgress)

		if page.NextURL != "" {
			log.WithFields(logrus.Fields{"url": page.NextURL, "state": stateFollowing}).Debug("following next page")
		}
		url = page.NextURL
	}
	log.WithField("state", stateDone).Debug("no next page")
}

func (s *Scraper) crawlConcurrent(ctx context.Context, log *logrus.Entry, report *Report, reportProgress bool) {
	n, err := s.EstimatePageCount(ctx)
	if err != nil {
		report.fail(err)
		return
	}
	if s.site.PageURLFormat == "" {
		report.fail(errors.New("concurrent crawl needs a page URL format"))
		return
	}
	log.WithField("pages", n).Info("fanning out page fetches")

	// One goroutine applies every finished page, so page tasks never contend
	// on the catalog.
	pages := make(chan Page)
	applied := make(chan struct{})
	go func() {
		defer close(applied)
		for page := range pages {
			report.PagesVisited++
			report.Listings += s.apply(page, reportProgress)
		}
	}()

	g := errgroup.Group{}
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	pageErrs := make([]error, n)
	for i := 1; i <= n; i++ {
		i := i
		g.Go(func() error {
			page, err := s.visitPage(ctx, log.WithField("page", i), s.site.PageURL(i), reportProgress)
			if err != nil && i == n && errors.Is(err, ErrPageNotFound) {
				// the spare page past the estimate may simply not exist
				log.WithField("page", i).Debug("spare page does not exist")
				return nil
			}
			if err != nil {
				pageErrs[i-1] = err
				return nil
			}
			pages <- page
			return nil
		})
	}
	_ = g.Wait()
	close(pages)
	<-applied

	for _, err := range pageErrs {
		if err != nil {
			report.fail(err)
		}
	}
}

// EstimatePageCount reads the first listing page and works out how many pages
// to fan out over, plus one spare page in case the site's numbers are off by one.
func (s *Scraper) EstimatePageCount(ctx context.Context) (int, error) {
	first, err := s.visitPage(ctx, s.log, s.site.StartURL, false)
	if err != nil {
		return 0, err
	}
	return estimatePages(first, s.site.PageSize)
}

func estimatePages(first Page, pageSize int) (int, error) {
	if first.PageCount > 0 {
		return first.PageCount + 1, nil
	}
	if first.TotalItems > 0 {
		if pageSize <= 0 {
			pageSize = len(first.Listings)
		}
		if pageSize <= 0 {
			return 0, fmt.Errorf("%w: first page has no listings to size pages by", ErrNoPageCount)
		}
		return (first.TotalItems+pageSize-1)/pageSize + 1, nil
	}
	return 0, ErrNoPageCount
}

// visitPage fetches and extracts one page, fetching it again when extraction
// fails transiently. Fetch errors are not retried here.
func (s *Scraper) visitPage(ctx context.Context, log *logrus.Entry, url string, reportProgress bool) (Page, error) {
	log = log.WithField("url", url)
	for attempt := 1; ; attempt++ {
		log := log.WithField("attempt", attempt)
		s.progressf(reportProgress, "Visiting %s", url)

		fetchCtx := ctx
		if attempt > 1 {
			fetchCtx = WithRefetch(ctx)
		}
		log.WithField("state", stateFetching).Debug("fetching page")
		body, err := s.fetcher.Fetch(fetchCtx, url)
		if err != nil {
			log.WithField("state", stateFailed).WithError(err).Warn("page fetch failed")
			return Page{}, &PageError{URL: url, Attempts: attempt, Err: err}
		}

		log.WithField("state", stateExtracting).Debug("extracting page")
		page, err := s.extractor.Extract(url, body)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, ErrTransientExtraction) || attempt >= s.maxAttempts {
			log.WithField("state", stateFailed).WithError(err).Warn("page extraction failed")
			return Page{}, &PageError{URL: url, Attempts: attempt, Err: fmt.Errorf("%w: %w", ErrExtractionFailed, err)}
		}

		log.WithField("state", stateRetrying).WithError(err).Info("page extraction glitch, fetching the page again")
		if err := sleep(ctx, s.retryDelay); err != nil {
			return Page{}, &PageError{URL: url, Attempts: attempt, Err: err}
		}
	}
}

// apply records one page's listings, all under one catalog lock, and returns
// how many were recorded.
func (s *Scraper) apply(page Page, reportProgress bool) int {
	day := s.today()
	items := make([]*catalog.Item, 0, len(page.Listings))
	for _, l := range page.Listings {
		o, err := pricing.SingleDay(day, l.Price)
		if err != nil {
			s.log.WithError(err).WithField("product", l.Name).Warn("skipping listing")
			continue
		}
		s.progressf(reportProgress, "Found product: %s %s %s", l.Name, o.FormattedPrice(""), l.URL)
		items = append(items, catalog.NewItem(l.Name, l.URL, o))
	}
	s.log.WithFields(logrus.Fields{"state": stateUpdating, "listings": len(items)}).Debug("updating catalog")
	s.catalog.AddItems(items)
	return len(items)
}

func (s *Scraper) progressf(enabled bool, format string, args ...interface{}) {
	if !enabled || s.progress == nil {
		return
	}
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	fmt.Fprintf(s.progress, format+"\n", args...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
