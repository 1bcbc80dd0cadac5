package io

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geniass/price-tracker/pkg/catalog"
	"github.com/geniass/price-tracker/pkg/pricing"
)

func obs(start, end, price string) pricing.Observation {
	return pricing.MustParseObservation(start, end, price)
}

func sampleCatalog() *catalog.Catalog {
	c := catalog.New("Sentai Filmworks Crawl Data")
	c.AddItem(catalog.NewItem("Made in Abyss", "https://shop.example/abyss",
		obs("2017-08-01", "2017-08-03", "29.99"),
		obs("2017-08-04", "2017-08-06", "19.98"),
		obs("2017-08-07", "2017-08-07", "24.50"),
	))
	c.AddItem(catalog.NewItem("Akira, Special Edition", "https://shop.example/akira",
		obs("2017-08-07", "2017-08-07", "9.99"),
	))
	return c
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "sentai-filmworks-crawl-data", Slug("Sentai Filmworks Crawl Data"))
	assert.Equal(t, "right-stuf-crawl-data", Slug("Right Stuf Crawl Data"))
	assert.Equal(t, "catalog", Slug("///"))
	assert.Equal(t, filepath.Join("data", "crawl-data.json"), SnapshotPath("data", catalog.DefaultTitle))
}

func TestSaveAndLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	c := sampleCatalog()
	path := SnapshotPath(dir, c.Title())

	require.NoError(t, SaveCatalog(path, c))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, "sentai-filmworks-crawl-data.json", entries[0].Name())

	loaded, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, c.Title(), loaded.Title())
	require.Equal(t, c.Len(), loaded.Len())

	item, ok := loaded.Lookup("made in abyss")
	require.True(t, ok)
	want, _ := c.Lookup("made in abyss")
	we, ge := want.History.Entries(), item.History.Entries()
	require.Len(t, ge, len(we))
	for i := range we {
		assert.True(t, we[i].Equal(ge[i]))
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "snap.json")

	require.NoError(t, SaveCatalog(path, sampleCatalog()))
	empty := catalog.New("Sentai Filmworks Crawl Data")
	require.NoError(t, SaveCatalog(path, empty))

	loaded, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestLoadCatalogOrEmpty(t *testing.T) {
	dir := t.TempDir()

	c, err := LoadCatalogOrEmpty(filepath.Join(dir, "missing.json"), "Right Stuf Crawl Data")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	require.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "Right Stuf Crawl Data", c.Title())

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"title": "x", "items": [{"name": "a", "history": [{"start": "2017-13-01"`), 0644))
	c, err = LoadCatalogOrEmpty(corrupt, "Fallback")
	assert.Error(t, err)
	assert.Equal(t, "Fallback", c.Title())
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveCatalog(SnapshotPath(dir, "Right Stuf Crawl Data"), catalog.New("Right Stuf Crawl Data")))
	bad := filepath.Join(dir, "sentai-filmworks-crawl-data.json")
	content := []byte(`{"title": "Sentai Filmworks Crawl Data", "items": [`)
	require.NoError(t, os.WriteFile(bad, content, 0644))

	moved, err := Quarantine(bad, time.Date(2017, 8, 7, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, bad+".corrupt-20170807T103000Z", moved)
	_, err = os.Stat(bad)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	kept, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, content, kept)

	cs, err := LoadFromDir(dir)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "Right Stuf Crawl Data", cs[0].Title())

	_, err = Quarantine(bad, time.Now())
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveCatalog(SnapshotPath(dir, "Right Stuf Crawl Data"), catalog.New("Right Stuf Crawl Data")))
	require.NoError(t, SaveCatalog(SnapshotPath(dir, "Sentai Filmworks Crawl Data"), sampleCatalog()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	cs, err := LoadFromDir(dir)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "Right Stuf Crawl Data", cs[0].Title())
	assert.Equal(t, 2, cs[1].Len())

	found, err := FindBySlug(dir, "sentai-filmworks-crawl-data")
	require.NoError(t, err)
	assert.Equal(t, cs[1].Path, found.Path)

	_, err = FindBySlug(dir, "nope")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = LoadFromDir(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteCSV(t *testing.T) {
	c := sampleCatalog()
	c.AddItem(catalog.NewItem("Planetes", "https://shop.example/planetes"))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, c))

	expected := "Name,Current Price,Lowest Price,Lowest From,Lowest To,URL\n" +
		"\"Akira, Special Edition\",9.99,9.99,2017-08-07,2017-08-07,https://shop.example/akira\n" +
		"Made in Abyss,24.50,19.98,2017-08-04,2017-08-06,https://shop.example/abyss\n" +
		"Planetes,,,,,https://shop.example/planetes\n"
	assert.Equal(t, expected, buf.String())
}
