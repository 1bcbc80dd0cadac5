package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/geniass/price-tracker/pkg/catalog"
	"github.com/geniass/price-tracker/pkg/dates"
	"github.com/geniass/price-tracker/pkg/fetch"
	dataio "github.com/geniass/price-tracker/pkg/io"
	"github.com/geniass/price-tracker/pkg/logging"
	"github.com/geniass/price-tracker/pkg/scraper"
	"github.com/geniass/price-tracker/pkg/sites"
	"github.com/geniass/price-tracker/pkg/store"
)

func main() {
	// a missing .env is fine, the environment and flags still apply
	_ = godotenv.Load()

	app := cli.App("scraper", "Crawl shop listings and keep a price history per item")

	dataDir := app.String(cli.StringOpt{
		Name:   "d data-dir",
		Value:  "./data",
		Desc:   "directory holding one JSON snapshot per site",
		EnvVar: "DATA_DIR",
	})
	sitesFile := app.String(cli.StringOpt{
		Name:   "sites",
		Desc:   "JSON file with extra site definitions (overrides built-ins with the same key)",
		EnvVar: "SITES_FILE",
	})
	pgDSN := app.String(cli.StringOpt{
		Name:   "pg-dsn",
		Desc:   "Postgres database that mirrors snapshots and crawl runs",
		EnvVar: "PG_DSN",
	})
	verbose := app.BoolOpt("v verbose", false, "debug logging")

	var log *logrus.Logger
	app.Before = func() {
		log = logging.New(*verbose)
	}

	loadSites := func() []sites.Definition {
		defs := sites.Builtin()
		if *sitesFile == "" {
			return defs
		}
		extra, err := sites.LoadFile(*sitesFile)
		if err != nil {
			log.WithError(err).Fatal("could not load site definitions")
		}
		return sites.Merge(defs, extra)
	}

	// openStore connects to the mirror, or returns nil when none is configured
	// and required is false.
	openStore := func(ctx context.Context, required bool) *store.Store {
		if *pgDSN == "" {
			if required {
				log.Fatal("no Postgres database configured, set --pg-dsn or PG_DSN")
			}
			return nil
		}
		db, err := store.Open(ctx, *pgDSN)
		if err != nil {
			log.WithError(err).Fatal("could not connect to postgres")
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			log.WithError(err).Fatal("could not migrate postgres schema")
		}
		return db
	}

	findSite := func(defs []sites.Definition, key string) sites.Definition {
		def, ok := sites.Find(defs, key)
		if !ok {
			log.Fatalf("unknown site %q (known: %s)", key, strings.Join(sites.Keys(defs), ", "))
		}
		return def
	}

	app.Command("crawl", "crawl one or more sites and merge the results into their snapshots", func(cmd *cli.Cmd) {
		cmd.Spec = "[OPTIONS] SITE..."
		siteKeys := cmd.StringsArg("SITE", nil, "site keys to crawl, see the sites command")
		modeArg := cmd.StringOpt("m mode", "sequential", "sequential (follow next links) or concurrent (one task per page)")
		progress := cmd.BoolOpt("p progress", true, "print each page and product as it is found")
		concurrency := cmd.IntOpt("c concurrency", 0, "max pages fetched at once in concurrent mode; 0 means no limit")
		maxAttempts := cmd.IntOpt("attempts", 3, "fetches per page when its listings can't be read")
		dateArg := cmd.StringOpt("date", "", "date observations are recorded under (YYYY-MM-DD); defaults to today")
		writeCSV := cmd.BoolOpt("csv", false, "also write <data-dir>/<site>.csv")
		cacheDir := cmd.String(cli.StringOpt{
			Name:   "cache",
			Desc:   "HTTP cache directory; pages are cached per site and crawl day",
			EnvVar: "SCRAPER_CACHE_DIR",
		})

		cmd.Action = func() {
			mode, err := scraper.ParseMode(*modeArg)
			if err != nil {
				log.Fatal(err)
			}
			today := dates.Today
			if *dateArg != "" {
				d, err := dates.Parse(*dateArg)
				if err != nil {
					log.Fatal(err)
				}
				today = func() dates.Date { return d }
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			db := openStore(ctx, false)
			if db != nil {
				defer db.Close()
			}

			defs := loadSites()
			failed := false
			for _, key := range *siteKeys {
				def := findSite(defs, key)
				c := crawler{
					def:         def,
					dataDir:     *dataDir,
					cacheDir:    *cacheDir,
					mode:        mode,
					progress:    *progress,
					concurrency: *concurrency,
					maxAttempts: *maxAttempts,
					today:       today,
					writeCSV:    *writeCSV,
					db:          db,
					log:         log.WithField("site", def.Key),
				}
				if err := c.run(ctx); err != nil {
					c.log.WithError(err).Error("crawl incomplete")
					failed = true
				}
			}
			if failed {
				cli.Exit(1)
			}
		}
	})

	app.Command("export", "write a site's snapshot as CSV", func(cmd *cli.Cmd) {
		cmd.Spec = "[-o] SITE"
		siteKey := cmd.StringArg("SITE", "", "site key")
		output := cmd.StringOpt("o output", "-", "output file, - for stdout")

		cmd.Action = func() {
			def := findSite(loadSites(), *siteKey)
			c, err := dataio.LoadCatalog(dataio.SnapshotPath(*dataDir, def.Title))
			if err != nil {
				log.WithError(err).Fatal("could not load snapshot")
			}

			var w io.Writer = os.Stdout
			if *output != "-" {
				f, err := os.Create(*output)
				if err != nil {
					log.Fatal(err)
				}
				defer f.Close()
				w = f
			}
			if err := dataio.WriteCSV(w, c); err != nil {
				log.Fatal(err)
			}
		}
	})

	app.Command("show", "print the price history of items as markdown", func(cmd *cli.Cmd) {
		cmd.Spec = "SITE NAME..."
		siteKey := cmd.StringArg("SITE", "", "site key")
		names := cmd.StringsArg("NAME", nil, "item names (case is ignored)")

		cmd.Action = func() {
			def := findSite(loadSites(), *siteKey)
			c, err := dataio.LoadCatalog(dataio.SnapshotPath(*dataDir, def.Title))
			if err != nil {
				log.WithError(err).Fatal("could not load snapshot")
			}
			missing := false
			for _, name := range *names {
				item, ok := c.Lookup(name)
				if !ok {
					log.WithField("name", name).Warn("no such item")
					missing = true
					continue
				}
				if err := printItem(os.Stdout, c.Title(), item); err != nil {
					log.Fatal(err)
				}
			}
			if missing {
				cli.Exit(1)
			}
		}
	})

	app.Command("runs", "list the latest crawl runs of a site recorded in Postgres", func(cmd *cli.Cmd) {
		cmd.Spec = "[-n] SITE"
		siteKey := cmd.StringArg("SITE", "", "site key")
		limit := cmd.IntOpt("n limit", 10, "number of runs to show")

		cmd.Action = func() {
			def := findSite(loadSites(), *siteKey)
			ctx := context.Background()
			db := openStore(ctx, true)
			defer db.Close()

			runs, err := db.RecentRuns(ctx, def.Title, *limit)
			if err != nil {
				log.WithError(err).Fatal("could not read crawl runs")
			}
			printRuns(os.Stdout, runs)
		}
	})

	app.Command("restore", "rebuild a site's snapshot from its Postgres mirror", func(cmd *cli.Cmd) {
		cmd.Spec = "[-f] SITE"
		siteKey := cmd.StringArg("SITE", "", "site key")
		force := cmd.BoolOpt("f force", false, "replace an existing snapshot")

		cmd.Action = func() {
			def := findSite(loadSites(), *siteKey)
			ctx := context.Background()
			db := openStore(ctx, true)
			defer db.Close()

			path := dataio.SnapshotPath(*dataDir, def.Title)
			if err := restore(ctx, db, def.Title, path, *force); err != nil {
				log.WithError(err).Error("restore failed")
				cli.Exit(1)
			}
			log.WithField("path", path).Info("snapshot restored")
		}
	})

	app.Command("sites", "list the sites that can be crawled", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tTITLE\tENGINE\tJAVASCRIPT\tSTART URL")
			for _, d := range loadSites() {
				engine := d.Engine
				if engine == "" {
					engine = sites.EngineCSS
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", d.Key, d.Title, engine, d.JavaScript, d.StartURL)
			}
			w.Flush()
		}
	})

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printItem(w io.Writer, title string, item *catalog.Item) error {
	return markdownTemplate.Execute(w, struct {
		Catalog string
		Item    *catalog.Item
		Summary catalog.Summary
	}{title, item, item.Summary()})
}

func printRuns(w io.Writer, runs []store.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tMODE\tDURATION\tPAGES\tFAILED\tLISTINGS\tRUN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Started.Local().Format(time.DateTime), r.Mode, r.Finished.Sub(r.Started).Round(time.Second),
			r.PagesVisited, r.PagesFailed, r.Listings, r.ID)
	}
	tw.Flush()
}

// catalogSource is the part of the Postgres mirror restore reads from.
type catalogSource interface {
	LoadCatalog(ctx context.Context, title string) (*catalog.Catalog, error)
}

// restore writes the mirrored copy of a catalog to path. An existing snapshot
// is only replaced when force is set.
func restore(ctx context.Context, db catalogSource, title, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("snapshot %s already exists", path)
	}
	c, err := db.LoadCatalog(ctx, title)
	if err != nil {
		return err
	}
	return dataio.SaveCatalog(path, c)
}

type crawler struct {
	def         sites.Definition
	dataDir     string
	cacheDir    string
	mode        scraper.Mode
	progress    bool
	concurrency int
	maxAttempts int
	today       func() dates.Date
	writeCSV    bool
	db          *store.Store
	log         *logrus.Entry
}

// run crawls one site. The snapshot is saved even when some pages failed,
// since everything that was read is still valid. An unreadable snapshot is
// moved aside rather than overwritten, and reported in the returned error.
func (c crawler) run(ctx context.Context) error {
	path := dataio.SnapshotPath(c.dataDir, c.def.Title)
	var problems []error
	cat, err := dataio.LoadCatalogOrEmpty(path, c.def.Title)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.log.WithField("path", path).Info("no snapshot yet, starting a new one")
	case err != nil:
		// keep the unreadable history for inspection instead of saving over it
		moved, qerr := dataio.Quarantine(path, time.Now())
		if qerr != nil {
			return fmt.Errorf("snapshot %s is unreadable and could not be moved aside: %w", path, errors.Join(err, qerr))
		}
		c.log.WithError(err).WithFields(logrus.Fields{"path": path, "moved_to": moved}).Error("snapshot unreadable, moved aside and starting a new one")
		problems = append(problems, fmt.Errorf("snapshot %s was unreadable and moved to %s: %w", path, moved, err))
	}

	extractor, err := c.def.Extractor()
	if err != nil {
		return err
	}

	var fetcher scraper.Fetcher
	if c.def.JavaScript {
		bf := fetch.NewBrowserFetcher(fetch.BrowserOptions{Log: c.log})
		defer bf.Close()
		fetcher = bf
	} else {
		cacheDir := c.cacheDir
		if cacheDir != "" {
			// cached pages never expire, so a later day must not see them
			cacheDir = filepath.Join(cacheDir, c.def.Key, c.today().String())
		}
		fetcher = fetch.NewHTTPFetcher(fetch.HTTPOptions{CacheDir: cacheDir, Log: c.log})
	}

	s := scraper.NewScraper(c.def.Site(), fetcher, extractor, cat,
		scraper.WithLogger(c.log),
		scraper.WithMaxAttempts(c.maxAttempts),
		scraper.WithConcurrency(c.concurrency),
		scraper.WithClock(c.today),
	)
	report, crawlErr := s.Run(ctx, c.mode, c.progress)

	if err := dataio.SaveCatalog(path, cat); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	c.log.WithFields(logrus.Fields{"path": path, "items": cat.Len()}).Info("snapshot saved")

	if c.writeCSV {
		if err := c.exportCSV(cat); err != nil {
			return err
		}
	}

	if c.db != nil {
		if err := c.db.SaveCatalog(ctx, cat); err != nil {
			return fmt.Errorf("mirroring to postgres: %w", err)
		}
		if err := c.db.RecordRun(ctx, cat.Title(), report); err != nil {
			return fmt.Errorf("recording crawl run: %w", err)
		}
	}
	return errors.Join(append(problems, crawlErr)...)
}

func (c crawler) exportCSV(cat *catalog.Catalog) error {
	path := filepath.Join(c.dataDir, dataio.Slug(cat.Title())+".csv")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return dataio.WriteCSV(f, cat)
}
