package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrTransientExtraction marks a page that was fetched but could not be read
	// completely, e.g. a price that had not rendered yet. The page is fetched again.
	ErrTransientExtraction = errors.New("transient extraction failure")

	// ErrExtractionFailed is returned once a page has used up its attempts.
	ErrExtractionFailed = errors.New("extraction failed")

	ErrNoPageCount = errors.New("listing page has no page count or item count")

	// ErrPageNotFound is matched by fetch errors for pages the site says do
	// not exist.
	ErrPageNotFound = errors.New("page not found")
)

type refetchKey struct{}

// WithRefetch marks ctx as fetching a page again because its last copy could
// not be read. Fetchers that cache pages must go to the network for it.
func WithRefetch(ctx context.Context) context.Context {
	return context.WithValue(ctx, refetchKey{}, true)
}

func IsRefetch(ctx context.Context) bool {
	refetch, _ := ctx.Value(refetchKey{}).(bool)
	return refetch
}

// Fetcher returns the markup at url. It may be a plain HTTP GET or a headless browser.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor reads one listing page. It returns an error wrapping
// ErrTransientExtraction when a product on an otherwise good page could not be read.
type Extractor interface {
	Extract(pageURL string, body []byte) (Page, error)
}

// Listing is one product row on a listing page.
type Listing struct {
	Name  string
	URL   string
	Price decimal.Decimal
}

type Page struct {
	Listings []Listing
	// NextURL is empty on the last page.
	NextURL string
	// TotalItems and PageCount are zero when the page does not say.
	TotalItems int
	PageCount  int
}

// Site is a paginated listing to crawl.
type Site struct {
	Title    string
	StartURL string
	// PageURLFormat builds the URL of page n with fmt.Sprintf, e.g. "https://shop.example/collections/all?page=%d".
	PageURLFormat string
	// PageSize is the number of listings per page; when zero the first page's count is used.
	PageSize int
}

func (s Site) PageURL(n int) string {
	if s.PageURLFormat == "" {
		return ""
	}
	return fmt.Sprintf(s.PageURLFormat, n)
}

type Mode int

const (
	Sequential Mode = iota
	Concurrent
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Concurrent:
		return "concurrent"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "sequential", "seq":
		return Sequential, nil
	case "concurrent", "async":
		return Concurrent, nil
	}
	return 0, fmt.Errorf("unknown crawl mode %q (want sequential or concurrent)", s)
}

// PageError is a page that ultimately failed. Its listings are absent from the catalog.
type PageError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %q failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Report describes one crawl run.
type Report struct {
	RunID        uuid.UUID
	Mode         Mode
	Started      time.Time
	Finished     time.Time
	PagesVisited int
	PagesFailed  int
	Listings     int
	Errors       []error
}

// OK is true when every page succeeded.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

func (r *Report) fail(err error) {
	r.PagesFailed++
	r.Errors = append(r.Errors, err)
}

type pageState string

const (
	stateFetching   pageState = "fetching"
	stateExtracting pageState = "extracting"
	stateRetrying   pageState = "retrying"
	stateUpdating   pageState = "updating"
	stateFollowing  pageState = "following"
	stateDone       pageState = "done"
	stateFailed     pageState = "failed"
)
