package web

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/geniass/price-tracker/pkg/catalog"
	dataio "github.com/geniass/price-tracker/pkg/io"
	"github.com/geniass/price-tracker/pkg/logging"
)

// NewRouter serves the snapshots under dataDir. Snapshots are read on every
// request, so a crawl finishing in the background shows up without a restart.
func NewRouter(dataDir, pathPrefix string, log *logrus.Entry) *gin.Engine {
	if log == nil {
		log = logging.Discard()
	}
	h := &handler{dataDir: dataDir, base: BaseContext{PathPrefix: pathPrefix}, log: log}

	r := gin.New()
	r.Use(gin.Recovery())

	g := r.Group(pathPrefix + "/")
	g.GET("/", h.home)
	g.GET("/catalogs/:file", h.catalogPage)
	g.GET("/api/catalogs", h.listCatalogs)
	g.GET("/api/catalogs/:slug", h.getCatalog)
	g.GET("/api/catalogs/:slug/items/:name", h.getItem)
	return r
}

type handler struct {
	dataDir string
	base    BaseContext
	log     *logrus.Entry
}

func (h *handler) home(c *gin.Context) {
	cs, err := dataio.LoadFromDir(h.dataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := RenderHome(&buf, NewHomeContext(h.base, catalogs(cs))); err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// catalogPage serves /catalogs/<slug>.html and /catalogs/<slug>.csv, the same
// paths the static site generator writes.
func (h *handler) catalogPage(c *gin.Context) {
	file := c.Param("file")
	slug := strings.TrimSuffix(strings.TrimSuffix(file, ".html"), ".csv")

	cat, ok := h.find(c, slug)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if strings.HasSuffix(file, ".csv") {
		if err := dataio.WriteCSV(&buf, cat.Catalog); err != nil {
			h.fail(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="`+slug+`.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
		return
	}

	if err := RenderCatalog(&buf, NewCatalogContext(h.base, cat.Catalog, LastModified(cat.Path))); err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *handler) listCatalogs(c *gin.Context) {
	cs, err := dataio.LoadFromDir(h.dataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewHomeContext(h.base, catalogs(cs)).Catalogs)
}

func (h *handler) getCatalog(c *gin.Context) {
	cat, ok := h.find(c, c.Param("slug"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cat.Catalog)
}

func (h *handler) getItem(c *gin.Context) {
	cat, ok := h.find(c, c.Param("slug"))
	if !ok {
		return
	}
	item, found := cat.Lookup(c.Param("name"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}

	resp := gin.H{"name": item.Name, "url": item.URL, "history": item.History}
	s := item.Summary()
	if s.HasHistory {
		resp["current"] = s.Current
		resp["lowest"] = s.Lowest
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) find(c *gin.Context, slug string) (dataio.CatalogWithPath, bool) {
	cat, err := dataio.FindBySlug(h.dataDir, slug)
	if errors.Is(err, fs.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": "catalog not found"})
		return cat, false
	}
	if err != nil {
		h.fail(c, err)
		return cat, false
	}
	return cat, true
}

func (h *handler) fail(c *gin.Context, err error) {
	h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func catalogs(cs []dataio.CatalogWithPath) []*catalog.Catalog {
	out := make([]*catalog.Catalog, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Catalog)
	}
	return out
}

// LastModified is the snapshot's modification time, zero if it can't be read.
func LastModified(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
