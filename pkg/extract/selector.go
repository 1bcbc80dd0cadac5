package extract

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/geniass/price-tracker/pkg/scraper"
)

// Selectors describes a listing page with CSS selectors. Name, Price and Link
// are evaluated inside each Listing element; an empty Name or Link means the
// listing element itself.
type Selectors struct {
	Listing  string `json:"listing"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Link     string `json:"link"`
	LinkAttr string `json:"linkAttr,omitempty"`
	// NextPage selects the "next" link. When NextPageText is set only the
	// candidate with that text counts.
	NextPage     string `json:"nextPage,omitempty"`
	NextPageText string `json:"nextPageText,omitempty"`
	// TotalItems selects an element whose text contains the item count.
	TotalItems string `json:"totalItems,omitempty"`
	// PageCount selects the pagination links; the largest number among them is the last page.
	PageCount string `json:"pageCount,omitempty"`
	// PriceInMinorUnits is set for sites that print prices in cents.
	PriceInMinorUnits bool `json:"priceInMinorUnits,omitempty"`

	// Variant selects the editions of a listing (one per format, say). When a
	// listing has any, each becomes its own item and Price is not used for it.
	// VariantName and VariantPrice are evaluated inside each variant; empty
	// means the variant element itself. VariantPriceAttr reads the price from
	// an attribute instead of the text.
	Variant                  string `json:"variant,omitempty"`
	VariantName              string `json:"variantName,omitempty"`
	VariantPrice             string `json:"variantPrice,omitempty"`
	VariantPriceAttr         string `json:"variantPriceAttr,omitempty"`
	VariantPriceInMinorUnits bool   `json:"variantPriceInMinorUnits,omitempty"`
}

type SelectorExtractor struct {
	sel        Selectors
	listing    cascadia.Selector
	name       cascadia.Selector
	price      cascadia.Selector
	link       cascadia.Selector
	nextPage   cascadia.Selector
	totalItems cascadia.Selector
	pageCount  cascadia.Selector

	variant      cascadia.Selector
	variantName  cascadia.Selector
	variantPrice cascadia.Selector
}

// NewSelectorExtractor compiles every selector up front so a typo in a site
// definition fails before any page is fetched.
func NewSelectorExtractor(sel Selectors) (*SelectorExtractor, error) {
	if sel.Listing == "" || (sel.Price == "" && sel.Variant == "") {
		return nil, fmt.Errorf("listing and price (or variant) selectors are required")
	}
	if sel.LinkAttr == "" {
		sel.LinkAttr = "href"
	}

	e := &SelectorExtractor{sel: sel}
	for _, c := range []struct {
		dst *cascadia.Selector
		src string
	}{
		{&e.listing, sel.Listing},
		{&e.name, sel.Name},
		{&e.price, sel.Price},
		{&e.link, sel.Link},
		{&e.nextPage, sel.NextPage},
		{&e.totalItems, sel.TotalItems},
		{&e.pageCount, sel.PageCount},
		{&e.variant, sel.Variant},
		{&e.variantName, sel.VariantName},
		{&e.variantPrice, sel.VariantPrice},
	} {
		if c.src == "" {
			continue
		}
		compiled, err := cascadia.Compile(c.src)
		if err != nil {
			return nil, fmt.Errorf("compiling selector %q: %w", c.src, err)
		}
		*c.dst = compiled
	}
	return e, nil
}

func (e *SelectorExtractor) Extract(pageURL string, body []byte) (scraper.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return scraper.Page{}, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	base, _ := url.Parse(pageURL)

	var page scraper.Page
	var extractErr error
	doc.FindMatcher(e.listing).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := rawListing{name: e.within(s, e.name).Text()}
		if e.price != nil {
			raw.price = s.FindMatcher(e.price).First().Text()
		}
		raw.href, _ = e.within(s, e.link).Attr(e.sel.LinkAttr)
		if e.variant != nil {
			s.FindMatcher(e.variant).Each(func(_ int, v *goquery.Selection) {
				raw.variants = append(raw.variants, e.variantOf(v))
			})
		}

		ls, err := buildListings(base, raw, units{listing: e.sel.PriceInMinorUnits, variant: e.sel.VariantPriceInMinorUnits})
		if err != nil {
			extractErr = err
			return false
		}
		page.Listings = append(page.Listings, ls...)
		return true
	})
	if extractErr != nil {
		return scraper.Page{}, extractErr
	}

	if e.nextPage != nil {
		doc.FindMatcher(e.nextPage).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if e.sel.NextPageText != "" && !matchesText(s.Text(), e.sel.NextPageText) {
				return true
			}
			if href, ok := s.Attr("href"); ok && href != "" {
				page.NextURL = resolve(base, href)
				return false
			}
			return true
		})
	}
	if e.totalItems != nil {
		page.TotalItems = largestInt(doc.FindMatcher(e.totalItems).First().Text())
	}
	if e.pageCount != nil {
		page.PageCount = largestInt(doc.FindMatcher(e.pageCount).Map(func(_ int, s *goquery.Selection) string {
			return s.Text()
		})...)
	}
	return page, nil
}

func (e *SelectorExtractor) within(s *goquery.Selection, sel cascadia.Selector) *goquery.Selection {
	if sel == nil {
		return s
	}
	return s.FindMatcher(sel).First()
}

func (e *SelectorExtractor) variantOf(v *goquery.Selection) rawVariant {
	rv := rawVariant{name: e.within(v, e.variantName).Text()}
	p := e.within(v, e.variantPrice)
	if e.sel.VariantPriceAttr != "" {
		rv.price, _ = p.Attr(e.sel.VariantPriceAttr)
	} else {
		rv.price = p.Text()
	}
	return rv
}
