package web

import (
	"embed"
	"html/template"
	"io"
	"time"

	"github.com/geniass/price-tracker/pkg/catalog"
	dataio "github.com/geniass/price-tracker/pkg/io"
)

//go:embed templates
var templatesFs embed.FS

type BaseContext struct {
	PathPrefix string
}

// CatalogLink is one entry of the home page's catalog list.
type CatalogLink struct {
	Title string
	Slug  string
	Items int
}

type HomeContext struct {
	BaseContext
	Catalogs []CatalogLink
}

func NewHomeContext(base BaseContext, cs []*catalog.Catalog) HomeContext {
	c := HomeContext{BaseContext: base}
	for _, cat := range cs {
		c.Catalogs = append(c.Catalogs, CatalogLink{
			Title: cat.Title(),
			Slug:  dataio.Slug(cat.Title()),
			Items: cat.Len(),
		})
	}
	return c
}

type CatalogContext struct {
	BaseContext
	Title       string
	Slug        string
	LastUpdated time.Time
	Rows        []catalog.Summary
}

func NewCatalogContext(base BaseContext, c *catalog.Catalog, lastUpdated time.Time) CatalogContext {
	ctx := CatalogContext{
		BaseContext: base,
		Title:       c.Title(),
		Slug:        dataio.Slug(c.Title()),
		LastUpdated: lastUpdated,
	}
	for _, item := range c.Items() {
		ctx.Rows = append(ctx.Rows, item.Summary())
	}
	return ctx
}

func (c CatalogContext) FormattedLastUpdated() string {
	if c.LastUpdated.IsZero() {
		return "never"
	}
	return c.LastUpdated.UTC().Format("2006-01-02T15:04:05 MST")
}

func RenderCatalog(w io.Writer, c CatalogContext) error {
	return render(w, "templates/catalog.html.tpl", c)
}

func RenderHome(w io.Writer, c HomeContext) error {
	return render(w, "templates/index.html.tpl", c)
}

func render(w io.Writer, page string, data interface{}) error {
	t, err := template.ParseFS(templatesFs, page)
	if err != nil {
		return err
	}
	t, err = t.ParseFS(templatesFs, "templates/common/*")
	if err != nil {
		return err
	}

	return t.Execute(w, data)
}
