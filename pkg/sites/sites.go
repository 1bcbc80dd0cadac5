// Package sites holds the definitions of the shops that can be crawled.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/geniass/price-tracker/pkg/extract"
	"github.com/geniass/price-tracker/pkg/scraper"
)

const (
	EngineCSS   = "css"
	EngineXPath = "xpath"
)

// Definition describes one shop: where its listing pages are and how to read them.
type Definition struct {
	Key           string `json:"key"`
	Title         string `json:"title"`
	StartURL      string `json:"startUrl"`
	PageURLFormat string `json:"pageUrlFormat,omitempty"`
	PageSize      int    `json:"pageSize,omitempty"`
	// JavaScript is set for shops that render their listings client side.
	JavaScript bool              `json:"javascript,omitempty"`
	Engine     string            `json:"engine,omitempty"`
	Selectors  extract.Selectors `json:"selectors,omitempty"`
	XPaths     extract.XPaths    `json:"xpaths,omitempty"`
}

func (d Definition) Site() scraper.Site {
	return scraper.Site{
		Title:         d.Title,
		StartURL:      d.StartURL,
		PageURLFormat: d.PageURLFormat,
		PageSize:      d.PageSize,
	}
}

// Extractor builds the page extractor for the definition's engine.
func (d Definition) Extractor() (scraper.Extractor, error) {
	switch d.Engine {
	case "", EngineCSS:
		e, err := extract.NewSelectorExtractor(d.Selectors)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", d.Key, err)
		}
		return e, nil
	case EngineXPath:
		e, err := extract.NewXPathExtractor(d.XPaths)
		if err != nil {
			return nil, fmt.Errorf("site %q: %w", d.Key, err)
		}
		return e, nil
	}
	return nil, fmt.Errorf("site %q: unknown engine %q", d.Key, d.Engine)
}

func (d Definition) validate() error {
	if d.Key == "" {
		return fmt.Errorf("site definition without a key")
	}
	if d.StartURL == "" {
		return fmt.Errorf("site %q: missing start URL", d.Key)
	}
	if d.PageURLFormat != "" && strings.Count(d.PageURLFormat, "%d") != 1 {
		return fmt.Errorf("site %q: page URL format %q must contain exactly one %%d", d.Key, d.PageURLFormat)
	}
	_, err := d.Extractor()
	return err
}

func Builtin() []Definition {
	return []Definition{
		{
			Key:           "sentai",
			Title:         "Sentai Filmworks Crawl Data",
			StartURL:      "https://shop.sentaifilmworks.com/collections/shows?page=1",
			PageURLFormat: "https://shop.sentaifilmworks.com/collections/shows?page=%d",
			Engine:        EngineCSS,
			Selectors: extract.Selectors{
				Listing:      "#product-loop .home-featured-products",
				Name:         ".prod-title",
				Price:        ".prod-price",
				Link:         "a",
				NextPage:     "#pagination ul > li > a",
				NextPageText: ">",
				PageCount:    "#pagination ul > li > a",
				// one item per format, priced in cents on the option
				Variant:                  "form select[name=id] option",
				VariantPriceAttr:         "data-price",
				VariantPriceInMinorUnits: true,
			},
		},
		{
			Key:           "rightstuf",
			Title:         "Right Stuf Crawl Data",
			StartURL:      "https://www.rightstufanime.com/category/Blu~ray,DVD?page=1&show=96",
			PageURLFormat: "https://www.rightstufanime.com/category/Blu~ray,DVD?page=%d&show=96",
			PageSize:      96,
			JavaScript:    true,
			Engine:        EngineXPath,
			XPaths: extract.XPaths{
				Listing:    `//div[contains(@class, "facets-item-cell-grid")]`,
				Name:       `.//a[contains(@class, "facets-item-cell-grid-title")]`,
				Price:      `.//span[contains(@class, "product-views-price-lead")]`,
				Link:       `.//a[contains(@class, "facets-item-cell-grid-title")]/@href`,
				NextPage:   `//li[contains(@class, "global-views-pagination-next")]/a`,
				TotalItems: `//*[contains(@class, "facets-facet-browse-title")]`,
			},
		},
	}
}

// LoadFile reads a JSON list of definitions.
func LoadFile(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var defs []Definition
	if err := json.NewDecoder(f).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	seen := make(map[string]bool)
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if seen[d.Key] {
			return nil, fmt.Errorf("%s: duplicate site key %q", path, d.Key)
		}
		seen[d.Key] = true
	}
	return defs, nil
}

// Merge returns base with every definition of extra added, replacing any with the same key.
func Merge(base, extra []Definition) []Definition {
	byKey := make(map[string]Definition, len(base)+len(extra))
	for _, d := range base {
		byKey[d.Key] = d
	}
	for _, d := range extra {
		byKey[d.Key] = d
	}
	out := make([]Definition, 0, len(byKey))
	for _, d := range byKey {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func Find(defs []Definition, key string) (Definition, bool) {
	for _, d := range defs {
		if strings.EqualFold(d.Key, key) {
			return d, true
		}
	}
	return Definition{}, false
}

func Keys(defs []Definition) []string {
	keys := make([]string, 0, len(defs))
	for _, d := range defs {
		keys = append(keys, d.Key)
	}
	return keys
}
