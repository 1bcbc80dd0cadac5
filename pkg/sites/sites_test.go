package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinDefinitionsAreValid(t *testing.T) {
	for _, d := range Builtin() {
		t.Run(d.Key, func(t *testing.T) {
			require.NoError(t, d.validate())
			site := d.Site()
			assert.Equal(t, d.Title, site.Title)
			assert.NotEmpty(t, site.PageURL(2))
		})
	}
}

func TestFind(t *testing.T) {
	d, ok := Find(Builtin(), "RightStuf")
	require.True(t, ok)
	assert.True(t, d.JavaScript)
	assert.Equal(t, 96, d.PageSize)
	assert.Equal(t, "https://www.rightstufanime.com/category/Blu~ray,DVD?page=3&show=96", d.Site().PageURL(3))

	_, ok = Find(Builtin(), "crunchyroll")
	assert.False(t, ok)
}

func TestSentaiListsEachFormat(t *testing.T) {
	d, ok := Find(Builtin(), "sentai")
	require.True(t, ok)
	e, err := d.Extractor()
	require.NoError(t, err)

	body := `<html><body><div id="product-loop">
		<div class="home-featured-products">
			<a href="/products/made-in-abyss"><h3 class="prod-title">Made in Abyss</h3></a>
			<form action="/cart/add"><div><ul><li><div id="made-in-abyss">
				<select name="id">
					<option value="101" data-price="5999">Blu-ray</option>
					<option value="102" data-price="4999">DVD</option>
				</select>
			</div></li></ul></div></form>
			<span class="prod-price">From $49.99</span>
		</div>
		<div class="home-featured-products">
			<a href="/products/akira"><h3 class="prod-title">Akira</h3></a>
			<span class="prod-price">$29.99</span>
		</div>
	</div></body></html>`

	page, err := e.Extract("https://shop.sentaifilmworks.com/collections/shows?page=1", []byte(body))
	require.NoError(t, err)
	require.Len(t, page.Listings, 3)
	assert.Equal(t, "Made in Abyss Blu-ray", page.Listings[0].Name)
	assert.Equal(t, "59.99", page.Listings[0].Price.StringFixed(2))
	assert.Equal(t, "Made in Abyss DVD", page.Listings[1].Name)
	assert.Equal(t, "49.99", page.Listings[1].Price.StringFixed(2))
	assert.Equal(t, "https://shop.sentaifilmworks.com/products/made-in-abyss", page.Listings[1].URL)
	assert.Equal(t, "Akira", page.Listings[2].Name)
	assert.Equal(t, "29.99", page.Listings[2].Price.StringFixed(2))
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `[
		{
			"key": "example",
			"title": "Example Shop",
			"startUrl": "https://shop.example/all?page=1",
			"pageUrlFormat": "https://shop.example/all?page=%d",
			"selectors": {"listing": ".product", "name": "h3", "price": ".price", "link": "a", "nextPage": "a.next"}
		},
		{
			"key": "sentai",
			"title": "Sentai (mirror)",
			"startUrl": "https://mirror.example/shows",
			"engine": "xpath",
			"xpaths": {"listing": "//li", "name": ".//h3", "price": ".//b"}
		}
	]`)

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	_, err = defs[0].Extractor()
	require.NoError(t, err)

	merged := Merge(Builtin(), defs)
	assert.Equal(t, []string{"example", "rightstuf", "sentai"}, Keys(merged))
	sentai, _ := Find(merged, "sentai")
	assert.Equal(t, "Sentai (mirror)", sentai.Title)
}

func TestLoadFileRejectsBadDefinitions(t *testing.T) {
	tests := map[string]string{
		"not json":       `{`,
		"missing key":    `[{"startUrl": "https://x", "selectors": {"listing": "li", "price": "b"}}]`,
		"missing start":  `[{"key": "x", "selectors": {"listing": "li", "price": "b"}}]`,
		"bad format":     `[{"key": "x", "startUrl": "https://x", "pageUrlFormat": "https://x?page=", "selectors": {"listing": "li", "price": "b"}}]`,
		"bad selector":   `[{"key": "x", "startUrl": "https://x", "selectors": {"listing": "li[", "price": "b"}}]`,
		"unknown engine": `[{"key": "x", "startUrl": "https://x", "engine": "regex"}]`,
		"duplicate key": `[{"key": "x", "startUrl": "https://x", "selectors": {"listing": "li", "price": "b"}},
			{"key": "x", "startUrl": "https://y", "selectors": {"listing": "li", "price": "b"}}]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
