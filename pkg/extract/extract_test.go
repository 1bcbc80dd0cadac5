package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geniass/price-tracker/pkg/scraper"
)

const listingPage = `<!DOCTYPE html>
<html lang="en">
	<body>
		<div class="collection-count">Showing 1 - 2 of 1,234 products</div>
		<div class="grid">
			<div class="product-card">
				<a class="product-link" href="/products/made-in-abyss">
					<h3 class="product-title">  Made in
						Abyss </h3>
				</a>
				<span class="price">$1,299.99</span>
			</div>
			<div class="product-card">
				<a class="product-link" href="https://cdn.example/products/akira">
					<h3 class="product-title">Akira</h3>
				</a>
				<span class="price">R 49.00</span>
			</div>
		</div>
		<ul class="pagination">
			<li><a href="/collections/all?page=1">Previous</a></li>
			<li><a href="/collections/all?page=1">1</a></li>
			<li><a href="/collections/all?page=3">3</a></li>
			<li><a href="/collections/all?page=52">52</a></li>
			<li><a href="/collections/all?page=3">Next</a></li>
		</ul>
	</body>
</html>`

const pageURL = "https://shop.example/collections/all?page=2"

func assertListingPage(t *testing.T, page scraper.Page) {
	t.Helper()
	require.Len(t, page.Listings, 2)
	assert.Equal(t, "Made in Abyss", page.Listings[0].Name)
	assert.Equal(t, "https://shop.example/products/made-in-abyss", page.Listings[0].URL)
	assert.True(t, page.Listings[0].Price.Equal(decimal.RequireFromString("1299.99")))
	assert.Equal(t, "Akira", page.Listings[1].Name)
	assert.Equal(t, "https://cdn.example/products/akira", page.Listings[1].URL)
	assert.True(t, page.Listings[1].Price.Equal(decimal.NewFromInt(49)))

	assert.Equal(t, "https://shop.example/collections/all?page=3", page.NextURL)
	assert.Equal(t, 1234, page.TotalItems)
	assert.Equal(t, 52, page.PageCount)
}

func TestSelectorExtractor(t *testing.T) {
	e, err := NewSelectorExtractor(Selectors{
		Listing:      ".product-card",
		Name:         ".product-title",
		Price:        ".price",
		Link:         "a.product-link",
		NextPage:     ".pagination a",
		NextPageText: "next",
		TotalItems:   ".collection-count",
		PageCount:    ".pagination a",
	})
	require.NoError(t, err)

	page, err := e.Extract(pageURL, []byte(listingPage))
	require.NoError(t, err)
	assertListingPage(t, page)
}

func TestXPathExtractor(t *testing.T) {
	e, err := NewXPathExtractor(XPaths{
		Listing:      `//div[@class="product-card"]`,
		Name:         `.//h3`,
		Price:        `.//span[@class="price"]`,
		Link:         `.//a/@href`,
		NextPage:     `//ul[@class="pagination"]//a`,
		NextPageText: "Next",
		TotalItems:   `//div[@class="collection-count"]`,
		PageCount:    `//ul[@class="pagination"]//a`,
	})
	require.NoError(t, err)

	page, err := e.Extract(pageURL, []byte(listingPage))
	require.NoError(t, err)
	assertListingPage(t, page)
}

func TestLastPageHasNoNextURL(t *testing.T) {
	body := `<html><body>
		<div class="item"><a href="/p/1">One</a><b>10</b></div>
		<a class="prev" href="?page=1">Previous</a>
	</body></html>`

	css, err := NewSelectorExtractor(Selectors{Listing: ".item", Name: "a", Price: "b", Link: "a", NextPage: "a.next"})
	require.NoError(t, err)
	page, err := css.Extract("https://shop.example/c?page=2", []byte(body))
	require.NoError(t, err)
	assert.Empty(t, page.NextURL)
	assert.Zero(t, page.TotalItems)
	assert.Zero(t, page.PageCount)
	require.Len(t, page.Listings, 1)
	assert.Equal(t, "https://shop.example/p/1", page.Listings[0].URL)

	xp, err := NewXPathExtractor(XPaths{Listing: `//div[@class="item"]`, Name: ".//a", Price: ".//b", Link: ".//a", NextPage: `//a[@class="next"]`})
	require.NoError(t, err)
	page, err = xp.Extract("https://shop.example/c?page=2", []byte(body))
	require.NoError(t, err)
	assert.Empty(t, page.NextURL)
	require.Len(t, page.Listings, 1)
	assert.Equal(t, "https://shop.example/p/1", page.Listings[0].URL)
}

func TestUnreadableListingIsTransient(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing price", `<div class="item"><a href="/p/1">One</a><b></b></div>`},
		{"missing name", `<div class="item"><a href="/p/1"> </a><b>10</b></div>`},
		{"placeholder price", `<div class="item"><a href="/p/1">One</a><b>Loading...</b></div>`},
	}
	css, err := NewSelectorExtractor(Selectors{Listing: ".item", Name: "a", Price: "b", Link: "a"})
	require.NoError(t, err)
	xp, err := NewXPathExtractor(XPaths{Listing: `//div[@class="item"]`, Name: ".//a", Price: ".//b", Link: ".//a"})
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := css.Extract("https://shop.example/", []byte(tt.body))
			assert.ErrorIs(t, err, scraper.ErrTransientExtraction)

			_, err = xp.Extract("https://shop.example/", []byte(tt.body))
			assert.ErrorIs(t, err, scraper.ErrTransientExtraction)
		})
	}
}

func TestPriceInMinorUnits(t *testing.T) {
	body := `<div class="item" data-url="/p/1"><span>One</span><b>1999</b></div>`
	e, err := NewSelectorExtractor(Selectors{Listing: ".item", Name: "span", Price: "b", LinkAttr: "data-url", PriceInMinorUnits: true})
	require.NoError(t, err)

	page, err := e.Extract("https://shop.example/", []byte(body))
	require.NoError(t, err)
	require.Len(t, page.Listings, 1)
	assert.Equal(t, "19.99", page.Listings[0].Price.StringFixed(2))
	assert.Equal(t, "https://shop.example/p/1", page.Listings[0].URL)
}

const variantPage = `<html><body>
	<div id="product-loop">
		<div class="product">
			<a href="/products/made-in-abyss"><p class="title">Made in Abyss</p></a>
			<form><select name="id">
				<option value="1" data-price="5999">Blu-ray</option>
				<option value="2" data-price="4999"> DVD </option>
			</select></form>
			<span class="price">From $49.99</span>
		</div>
		<div class="product">
			<a href="/products/akira"><p class="title">Akira</p></a>
			<form><select name="id"><option value="3" data-price="2999">Blu-ray</option></select></form>
		</div>
		<div class="product">
			<a href="/products/planetes"><p class="title">Planetes</p></a>
			<span class="price">$19.98</span>
		</div>
	</div>
</body></html>`

func assertVariantPage(t *testing.T, page scraper.Page) {
	t.Helper()
	require.Len(t, page.Listings, 4)
	want := []struct{ name, price, url string }{
		{"Made in Abyss Blu-ray", "59.99", "https://shop.example/products/made-in-abyss"},
		{"Made in Abyss DVD", "49.99", "https://shop.example/products/made-in-abyss"},
		{"Akira", "29.99", "https://shop.example/products/akira"},
		{"Planetes", "19.98", "https://shop.example/products/planetes"},
	}
	for i, w := range want {
		assert.Equal(t, w.name, page.Listings[i].Name)
		assert.Equal(t, w.price, page.Listings[i].Price.StringFixed(2), w.name)
		assert.Equal(t, w.url, page.Listings[i].URL)
	}
}

func TestVariantsBecomeSeparateListings(t *testing.T) {
	css, err := NewSelectorExtractor(Selectors{
		Listing:                  ".product",
		Name:                     ".title",
		Price:                    ".price",
		Link:                     "a",
		Variant:                  "select[name=id] option",
		VariantPriceAttr:         "data-price",
		VariantPriceInMinorUnits: true,
	})
	require.NoError(t, err)
	page, err := css.Extract("https://shop.example/collections/shows", []byte(variantPage))
	require.NoError(t, err)
	assertVariantPage(t, page)

	xp, err := NewXPathExtractor(XPaths{
		Listing:                  `//div[@class="product"]`,
		Name:                     `.//p[@class="title"]`,
		Price:                    `.//span[@class="price"]`,
		Link:                     `.//a/@href`,
		Variant:                  `.//select[@name="id"]/option`,
		VariantPrice:             `./@data-price`,
		VariantPriceInMinorUnits: true,
	})
	require.NoError(t, err)
	page, err = xp.Extract("https://shop.example/collections/shows", []byte(variantPage))
	require.NoError(t, err)
	assertVariantPage(t, page)
}

func TestUnreadableVariantIsTransient(t *testing.T) {
	e, err := NewSelectorExtractor(Selectors{Listing: ".item", Name: "a", Link: "a", Variant: "option", VariantPriceAttr: "data-price"})
	require.NoError(t, err)

	_, err = e.Extract("https://shop.example/", []byte(`<div class="item"><a href="/p/1">One</a>
		<option data-price="10">DVD</option><option data-price="12"> </option></div>`))
	assert.ErrorIs(t, err, scraper.ErrTransientExtraction)

	_, err = e.Extract("https://shop.example/", []byte(`<div class="item"><a href="/p/1">One</a>
		<option>DVD</option></div>`))
	assert.ErrorIs(t, err, scraper.ErrTransientExtraction)
}

func TestInvalidExpressionsFailUpFront(t *testing.T) {
	_, err := NewSelectorExtractor(Selectors{Listing: "div[", Price: "b"})
	assert.Error(t, err)
	_, err = NewSelectorExtractor(Selectors{Listing: "div"})
	assert.Error(t, err)

	_, err = NewXPathExtractor(XPaths{Listing: "//div[", Price: ".//b"})
	assert.Error(t, err)
	_, err = NewXPathExtractor(XPaths{Price: ".//b"})
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		expected string
		err      bool
	}{
		{in: "$19.99", expected: "19.99"},
		{in: "R 1,299.00", expected: "1299"},
		{in: "  49 ", expected: "49"},
		{in: "USD 0.50 each", expected: "0.5"},
		{in: "Now 15.00 was 20.00", expected: "15"},
		{in: "- 5.00", err: true},
		{in: "-5", err: true},
		{in: "Sold out", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidPrice)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)), "got %s", got)
		})
	}
}

func TestLargestInt(t *testing.T) {
	assert.Equal(t, 1234, largestInt("Showing 1 - 24 of 1,234 products"))
	assert.Equal(t, 52, largestInt("1", "2", "52", "Next"))
	assert.Equal(t, 0, largestInt("no numbers here"))
}
