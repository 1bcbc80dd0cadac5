package extract

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/geniass/price-tracker/pkg/scraper"
)

// XPaths describes a listing page with XPath expressions. Name, Price and Link
// are evaluated relative to each Listing node, e.g. ".//h3".
type XPaths struct {
	Listing           string `json:"listing"`
	Name              string `json:"name"`
	Price             string `json:"price"`
	Link              string `json:"link"`
	LinkAttr          string `json:"linkAttr,omitempty"`
	NextPage          string `json:"nextPage,omitempty"`
	NextPageText      string `json:"nextPageText,omitempty"`
	TotalItems        string `json:"totalItems,omitempty"`
	PageCount         string `json:"pageCount,omitempty"`
	PriceInMinorUnits bool   `json:"priceInMinorUnits,omitempty"`

	// Variant, VariantName and VariantPrice work like their Selectors
	// counterparts; read an attribute price with a step such as "./@data-price".
	Variant                  string `json:"variant,omitempty"`
	VariantName              string `json:"variantName,omitempty"`
	VariantPrice             string `json:"variantPrice,omitempty"`
	VariantPriceInMinorUnits bool   `json:"variantPriceInMinorUnits,omitempty"`
}

type XPathExtractor struct {
	paths      XPaths
	listing    *xpath.Expr
	name       *xpath.Expr
	price      *xpath.Expr
	link       *xpath.Expr
	nextPage   *xpath.Expr
	totalItems *xpath.Expr
	pageCount  *xpath.Expr

	variant      *xpath.Expr
	variantName  *xpath.Expr
	variantPrice *xpath.Expr
}

func NewXPathExtractor(paths XPaths) (*XPathExtractor, error) {
	if paths.Listing == "" || (paths.Price == "" && paths.Variant == "") {
		return nil, fmt.Errorf("listing and price (or variant) expressions are required")
	}
	if paths.LinkAttr == "" {
		paths.LinkAttr = "href"
	}

	e := &XPathExtractor{paths: paths}
	for _, c := range []struct {
		dst **xpath.Expr
		src string
	}{
		{&e.listing, paths.Listing},
		{&e.name, paths.Name},
		{&e.price, paths.Price},
		{&e.link, paths.Link},
		{&e.nextPage, paths.NextPage},
		{&e.totalItems, paths.TotalItems},
		{&e.pageCount, paths.PageCount},
		{&e.variant, paths.Variant},
		{&e.variantName, paths.VariantName},
		{&e.variantPrice, paths.VariantPrice},
	} {
		if c.src == "" {
			continue
		}
		expr, err := xpath.Compile(c.src)
		if err != nil {
			return nil, fmt.Errorf("compiling xpath %q: %w", c.src, err)
		}
		*c.dst = expr
	}
	return e, nil
}

func (e *XPathExtractor) Extract(pageURL string, body []byte) (scraper.Page, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return scraper.Page{}, fmt.Errorf("parsing %s: %w", pageURL, err)
	}
	base, _ := url.Parse(pageURL)

	var page scraper.Page
	for _, n := range htmlquery.QuerySelectorAll(doc, e.listing) {
		raw := rawListing{
			name: text(e.within(n, e.name)),
			href: e.linkOf(e.within(n, e.link)),
		}
		if e.price != nil {
			raw.price = text(htmlquery.QuerySelector(n, e.price))
		}
		if e.variant != nil {
			for _, v := range htmlquery.QuerySelectorAll(n, e.variant) {
				raw.variants = append(raw.variants, rawVariant{
					name:  text(e.within(v, e.variantName)),
					price: text(e.within(v, e.variantPrice)),
				})
			}
		}
		ls, err := buildListings(base, raw, units{listing: e.paths.PriceInMinorUnits, variant: e.paths.VariantPriceInMinorUnits})
		if err != nil {
			return scraper.Page{}, err
		}
		page.Listings = append(page.Listings, ls...)
	}

	if e.nextPage != nil {
		for _, n := range htmlquery.QuerySelectorAll(doc, e.nextPage) {
			if e.paths.NextPageText != "" && !matchesText(htmlquery.InnerText(n), e.paths.NextPageText) {
				continue
			}
			if href := e.linkOf(n); href != "" {
				page.NextURL = resolve(base, href)
				break
			}
		}
	}
	if e.totalItems != nil {
		page.TotalItems = largestInt(text(htmlquery.QuerySelector(doc, e.totalItems)))
	}
	if e.pageCount != nil {
		var texts []string
		for _, n := range htmlquery.QuerySelectorAll(doc, e.pageCount) {
			texts = append(texts, htmlquery.InnerText(n))
		}
		page.PageCount = largestInt(texts...)
	}
	return page, nil
}

func (e *XPathExtractor) within(n *html.Node, expr *xpath.Expr) *html.Node {
	if expr == nil {
		return n
	}
	return htmlquery.QuerySelector(n, expr)
}

// linkOf reads the link attribute of an element, or the text of a node
// selected with an attribute step such as "@href".
func (e *XPathExtractor) linkOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Data == e.paths.LinkAttr && n.Attr == nil {
		return htmlquery.InnerText(n)
	}
	return htmlquery.SelectAttr(n, e.paths.LinkAttr)
}

func text(n *html.Node) string {
	if n == nil {
		return ""
	}
	return htmlquery.InnerText(n)
}
