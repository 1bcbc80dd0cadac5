// Package extract reads listing pages into scraper.Page values, with either CSS
// selectors or XPath expressions.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/geniass/price-tracker/pkg/scraper"
)

var ErrInvalidPrice = errors.New("invalid price")

var (
	priceRegex  = regexp.MustCompile(`-?\s*\d[\d,]*(?:\.\d+)?`)
	numberRegex = regexp.MustCompile(`\d[\d,]*`)
)

// ParsePrice reads the first number in s, e.g. "$1,299.99" or "R 49.00".
func ParsePrice(s string) (decimal.Decimal, error) {
	m := priceRegex.FindString(s)
	if m == "" {
		return decimal.Zero, fmt.Errorf("%w: no number in %q", ErrInvalidPrice, s)
	}
	m = strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, m)
	if strings.HasPrefix(m, "-") {
		return decimal.Zero, fmt.Errorf("%w: negative price %q", ErrInvalidPrice, s)
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %w", ErrInvalidPrice, s, err)
	}
	return d, nil
}

// largestInt returns the biggest integer found in any of texts, or 0.
func largestInt(texts ...string) int {
	max := 0
	for _, text := range texts {
		for _, m := range numberRegex.FindAllString(text, -1) {
			n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
			if err == nil && n > max {
				max = n
			}
		}
	}
	return max
}

// rawListing is what an extractor pulled off the page before validation.
type rawListing struct {
	name     string
	price    string
	href     string
	variants []rawVariant
}

// rawVariant is one purchasable edition of a listing, e.g. its DVD or Blu-ray.
type rawVariant struct {
	name  string
	price string
}

// units says which prices on a page are printed in cents.
type units struct {
	listing bool
	variant bool
}

// buildListings turns a listing into one scraper.Listing per variant, or a
// single one when it has no variants. The variant name is only appended to the
// listing name when there is more than one variant to tell apart.
func buildListings(base *url.URL, raw rawListing, u units) ([]scraper.Listing, error) {
	name := collapse(raw.name)
	if name == "" {
		return nil, fmt.Errorf("%w: listing without a name", scraper.ErrTransientExtraction)
	}
	link := resolve(base, raw.href)

	if len(raw.variants) == 0 {
		price, err := parseListingPrice(name, raw.price, u.listing)
		if err != nil {
			return nil, err
		}
		return []scraper.Listing{{Name: name, URL: link, Price: price}}, nil
	}

	listings := make([]scraper.Listing, 0, len(raw.variants))
	for _, v := range raw.variants {
		full := name
		if len(raw.variants) > 1 {
			variant := collapse(v.name)
			if variant == "" {
				return nil, fmt.Errorf("%w: %s: variant without a name", scraper.ErrTransientExtraction, name)
			}
			full = name + " " + variant
		}
		price, err := parseListingPrice(full, v.price, u.variant)
		if err != nil {
			return nil, err
		}
		listings = append(listings, scraper.Listing{Name: full, URL: link, Price: price})
	}
	return listings, nil
}

func parseListingPrice(name, s string, minorUnits bool) (decimal.Decimal, error) {
	price, err := ParsePrice(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", scraper.ErrTransientExtraction, name, err)
	}
	if minorUnits {
		price = price.Shift(-2)
	}
	return price, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || base == nil {
		return href
	}
	u, err := base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}

func matchesText(text, want string) bool {
	return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(want))
}
