// Package fetch downloads listing pages, over plain HTTP or through a headless
// browser for sites that only render their listings with JavaScript.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/geniass/price-tracker/pkg/logging"
	"github.com/geniass/price-tracker/pkg/scraper"
)

var (
	ErrRedirectToErrorPage = errors.New("redirected to error page")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
)

const (
	defaultUserAgent  = "Mozilla/5.0 (Windows NT x.y; Win64; x64; rv:10.0) Gecko/20100101 Firefox/10.0"
	defaultMaxRetries = 5
	defaultTimeout    = 30 * time.Second
)

type HTTPOptions struct {
	UserAgent string
	// CacheDir can be empty to disable caching. Cached pages never expire, so
	// callers scope it to one crawl day. Refetches (see scraper.WithRefetch)
	// skip the cache.
	CacheDir       string
	AllowedDomains []string
	Timeout        time.Duration
	// MaxRetries is how many times a 5xx, 429 or network failure is retried.
	MaxRetries  int
	BaseBackoff time.Duration
	// ErrorPagePattern is a path fragment of the page the site redirects to when
	// something is wrong, e.g. "globalExceptionPage.jsp".
	ErrorPagePattern string
	Log              *logrus.Entry
}

// HTTPFetcher fetches pages with a colly collector. Each Fetch runs on a clone
// of the base collector, so concurrent fetches never share callbacks.
type HTTPFetcher struct {
	opts      HTTPOptions
	collector *colly.Collector
	log       *logrus.Entry
}

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}

	options := []colly.CollectorOption{
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	}
	if opts.CacheDir != "" {
		options = append(options, colly.CacheDir(opts.CacheDir))
	}
	if len(opts.AllowedDomains) > 0 {
		options = append(options, colly.AllowedDomains(opts.AllowedDomains...))
	}

	c := colly.NewCollector(options...)
	// somehow cookies are causing weird concurrency issues where the wrong response body gets used
	c.DisableCookies()
	c.SetRequestTimeout(opts.Timeout)

	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if opts.ErrorPagePattern != "" && strings.Contains(req.URL.String(), opts.ErrorPagePattern) {
			return fmt.Errorf("not following redirect %q: %w", req.URL.String(), ErrRedirectToErrorPage)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		log.WithFields(logrus.Fields{"from": via[0].URL.String(), "to": req.URL.String()}).Debug("following redirect")
		return nil
	})

	return &HTTPFetcher{opts: opts, collector: c, log: log}
}

// Fetch GETs url, retrying server errors, rate limiting and network failures
// with exponential backoff.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	log := f.log.WithField("url", url)
	useCache := !scraper.IsRefetch(ctx)
	var lastErr error
	for retry := 0; retry <= f.opts.MaxRetries; retry++ {
		if retry > 0 {
			duration := time.Duration(math.Pow(2, float64(retry))) * f.opts.BaseBackoff
			log.WithFields(logrus.Fields{"retry": retry, "backoff": duration}).WithError(lastErr).Warn("request failed, retrying")
			if err := wait(ctx, duration); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, status, err := f.get(url, useCache)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrRedirectToErrorPage) {
			// the error page means the page itself is broken, retrying won't help
			return nil, err
		}
		if !retryable(status, err) {
			return nil, fmt.Errorf("GET %s: %w", url, err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w (%d) for URL %q: %w", ErrMaxRetriesExceeded, f.opts.MaxRetries, url, lastErr)
}

func (f *HTTPFetcher) get(url string, useCache bool) ([]byte, int, error) {
	c := f.collector.Clone()
	if !useCache {
		c.CacheDir = ""
	}

	var body []byte
	var status int
	var reqErr error
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
	})
	c.OnError(func(r *colly.Response, err error) {
		status = r.StatusCode
		reqErr = err
	})

	err := c.Visit(url)
	if reqErr != nil {
		err = reqErr
	}
	if err != nil {
		return nil, status, &StatusError{StatusCode: status, Err: err}
	}
	return body, status, nil
}

// StatusError is a failed request. StatusCode is zero when no response arrived.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("[%d] %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Is lets 404 and 410 responses match scraper.ErrPageNotFound.
func (e *StatusError) Is(target error) bool {
	return target == scraper.ErrPageNotFound &&
		(e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone)
}

func retryable(status int, err error) bool {
	switch {
	case errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrNoURLFiltersMatch),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, context.Canceled):
		return false
	case status == 0:
		// no response at all: network failure or timeout
		return true
	case status == http.StatusTooManyRequests, status >= 500:
		return true
	}
	return false
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
