// Package io persists catalogs as JSON snapshots and exports them as CSV.
package io

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"

	"github.com/geniass/price-tracker/pkg/catalog"
)

// Slug turns a catalog title into the name used for its files and URLs.
func Slug(title string) string {
	s := strings.ToLower(sanitize.BaseName(title))
	s = strings.Trim(s, "-")
	if s == "" {
		return "catalog"
	}
	return s
}

func SnapshotPath(dir, title string) string {
	return filepath.Join(dir, Slug(title)+".json")
}

// SaveCatalog writes c to path through a temporary file in the same directory,
// so an interrupted save leaves the previous snapshot intact.
func SaveCatalog(path string, c *catalog.Catalog) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModeDir|0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadCatalog(path string) (*catalog.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := catalog.New("")
	if err := json.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return c, nil
}

// LoadCatalogOrEmpty loads the snapshot at path. When it is missing or
// unreadable it returns an empty catalog titled title along with the error,
// so a crawl can still start from nothing.
func LoadCatalogOrEmpty(path, title string) (*catalog.Catalog, error) {
	c, err := LoadCatalog(path)
	if err != nil {
		return catalog.New(title), err
	}
	return c, nil
}

// Quarantine moves an unreadable snapshot out of the way so the next save
// cannot overwrite it, and returns where it went. LoadFromDir ignores the
// moved file.
func Quarantine(path string, now time.Time) (string, error) {
	moved := path + ".corrupt-" + now.UTC().Format("20060102T150405Z")
	if err := os.Rename(path, moved); err != nil {
		return "", err
	}
	return moved, nil
}

type CatalogWithPath struct {
	*catalog.Catalog
	Path string
}

// LoadFromDir loads every .json snapshot under dir, sorted by title.
func LoadFromDir(dir string) ([]CatalogWithPath, error) {
	var cs []CatalogWithPath
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || filepath.Ext(path) != ".json" || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		c, err := LoadCatalog(path)
		if err != nil {
			return err
		}
		cs = append(cs, CatalogWithPath{Catalog: c, Path: path})
		return nil
	})

	sort.Slice(cs, func(i, j int) bool { return cs[i].Title() < cs[j].Title() })
	if err != nil {
		return cs, err
	}
	return cs, nil
}

// FindBySlug loads the snapshots under dir and returns the one whose title
// has the given slug.
func FindBySlug(dir, slug string) (CatalogWithPath, error) {
	cs, err := LoadFromDir(dir)
	if err != nil {
		return CatalogWithPath{}, err
	}
	for _, c := range cs {
		if Slug(c.Title()) == slug {
			return c, nil
		}
	}
	return CatalogWithPath{}, fmt.Errorf("catalog %q: %w", slug, fs.ErrNotExist)
}
