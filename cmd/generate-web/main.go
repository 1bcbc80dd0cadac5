package main

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/geniass/price-tracker/pkg/catalog"
	dataio "github.com/geniass/price-tracker/pkg/io"
	"github.com/geniass/price-tracker/pkg/logging"
	"github.com/geniass/price-tracker/pkg/web"
)

func main() {
	_ = godotenv.Load()

	app := cli.App("generate-web", "Render the crawled catalogs as a static site")
	dataDirArg := app.String(cli.StringOpt{
		Name:   "data-dir",
		Value:  "./data",
		Desc:   "directory that contains catalog snapshots",
		EnvVar: "DATA_DIR",
	})
	outputDirArg := app.StringOpt("output-dir", "docs", "directory to write rendered HTML content to")
	pathPrefixArg := app.String(cli.StringOpt{
		Name:   "path-prefix",
		Desc:   "prefix page link URLs (in case pages are hosted at a subpath); should start with '/'",
		EnvVar: "PATH_PREFIX",
	})
	verbose := app.BoolOpt("v verbose", false, "debug logging")

	app.Action = func() {
		log := logging.New(*verbose)
		if err := generate(*dataDirArg, *outputDirArg, web.BaseContext{PathPrefix: *pathPrefixArg}, log.WithField("output", *outputDirArg)); err != nil {
			log.Fatal(err)
		}
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func generate(dataDir, outputDir string, base web.BaseContext, log *logrus.Entry) error {
	catalogDir := filepath.Join(outputDir, "catalogs")
	if err := os.MkdirAll(catalogDir, os.ModeDir|0775); err != nil {
		return err
	}

	cs, err := dataio.LoadFromDir(dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warnf("data dir %q does not exist, assuming nothing has been crawled", dataDir)
	} else if err != nil {
		return err
	}

	all := make([]*catalog.Catalog, 0, len(cs))
	for _, c := range cs {
		all = append(all, c.Catalog)
		slug := dataio.Slug(c.Title())

		updated := web.LastModified(c.Path)
		err := renderToFile(catalogDir, slug+".html", func(w io.Writer) error {
			return web.RenderCatalog(w, web.NewCatalogContext(base, c.Catalog, updated))
		})
		if err != nil {
			return err
		}
		err = renderToFile(catalogDir, slug+".csv", func(w io.Writer) error {
			return dataio.WriteCSV(w, c.Catalog)
		})
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"catalog": c.Title(), "items": c.Len()}).Info("rendered catalog")
	}

	return renderToFile(outputDir, "index.html", func(w io.Writer) error {
		return web.RenderHome(w, web.NewHomeContext(base, all))
	})
}

func renderToFile(dir string, filename string, renderFunc func(w io.Writer) error) error {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	defer f.Close()

	if err := renderFunc(f); err != nil {
		return err
	}
	return nil
}
