// Package store mirrors catalogs and crawl runs into Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/geniass/price-tracker/pkg/catalog"
	"github.com/geniass/price-tracker/pkg/dates"
	"github.com/geniass/price-tracker/pkg/pricing"
	"github.com/geniass/price-tracker/pkg/scraper"
)

var ErrCatalogNotFound = errors.New("catalog not found")

const schema = `
CREATE TABLE IF NOT EXISTS catalogs (
	id         BIGSERIAL PRIMARY KEY,
	title      TEXT NOT NULL UNIQUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS items (
	id         BIGSERIAL PRIMARY KEY,
	catalog_id BIGINT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
	name_key   TEXT NOT NULL,
	name       TEXT NOT NULL,
	url        TEXT NOT NULL,
	UNIQUE (catalog_id, name_key)
);

CREATE TABLE IF NOT EXISTS price_ranges (
	item_id    BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	start_date DATE NOT NULL,
	end_date   DATE NOT NULL,
	price      NUMERIC NOT NULL,
	PRIMARY KEY (item_id, start_date, end_date)
);

-- databases created with a fixed scale rounded sub-cent prices
ALTER TABLE price_ranges ALTER COLUMN price TYPE NUMERIC;

CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	catalog_id    BIGINT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
	mode          TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	pages_visited INT NOT NULL,
	pages_failed  INT NOT NULL,
	listings      INT NOT NULL,
	errors        TEXT[] NOT NULL DEFAULT '{}'
);
`

type Store struct {
	db *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// SaveCatalog replaces the stored copy of c in one transaction.
func (s *Store) SaveCatalog(ctx context.Context, c *catalog.Catalog) error {
	snap := c.Snapshot()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	catalogID, err := upsertCatalog(ctx, tx, snap.Title())
	if err != nil {
		return err
	}

	for _, item := range snap.Items() {
		var itemID int64
		err := tx.QueryRow(ctx, `
INSERT INTO items (catalog_id, name_key, name, url) VALUES ($1, $2, $3, $4)
ON CONFLICT (catalog_id, name_key) DO UPDATE SET url = EXCLUDED.url
RETURNING id`,
			catalogID, catalog.Key(item.Name), item.Name, item.URL).Scan(&itemID)
		if err != nil {
			return fmt.Errorf("saving item %q: %w", item.Name, err)
		}

		b := &pgx.Batch{}
		b.Queue(`DELETE FROM price_ranges WHERE item_id = $1`, itemID)
		for _, o := range item.History.Entries() {
			b.Queue(`INSERT INTO price_ranges (item_id, start_date, end_date, price) VALUES ($1, $2, $3, ($4::text)::numeric)`,
				itemID, o.Start.Time(), o.End.Time(), o.Price.String())
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("saving history of %q: %w", item.Name, err)
		}
	}
	return tx.Commit(ctx)
}

func upsertCatalog(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, title string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO catalogs (title) VALUES ($1)
ON CONFLICT (title) DO UPDATE SET updated_at = now()
RETURNING id`, title).Scan(&id)
	return id, err
}

func (s *Store) LoadCatalog(ctx context.Context, title string) (*catalog.Catalog, error) {
	var catalogID int64
	err := s.db.QueryRow(ctx, `SELECT id FROM catalogs WHERE title = $1`, title).Scan(&catalogID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrCatalogNotFound, title)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
SELECT i.name, i.url, r.start_date, r.end_date, r.price::text
FROM items i
LEFT JOIN price_ranges r ON r.item_id = i.id
WHERE i.catalog_id = $1
ORDER BY i.name_key, r.start_date, r.end_date`, catalogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*catalog.Item
	byKey := make(map[string]*catalog.Item)
	for rows.Next() {
		var name, url string
		var start, end *time.Time
		var price *string
		if err := rows.Scan(&name, &url, &start, &end, &price); err != nil {
			return nil, err
		}
		item, ok := byKey[catalog.Key(name)]
		if !ok {
			item = catalog.NewItem(name, url)
			byKey[catalog.Key(name)] = item
			items = append(items, item)
		}
		if start == nil || end == nil || price == nil {
			continue
		}
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", name, err)
		}
		o, err := pricing.NewObservation(dates.FromTime(*start), dates.FromTime(*end), p)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", name, err)
		}
		item.History = pricing.NewTimeline(append(item.History.Entries(), o)...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return catalog.FromItems(title, items), nil
}

func (s *Store) RecordRun(ctx context.Context, title string, report *scraper.Report) error {
	catalogID, err := upsertCatalog(ctx, s.db, title)
	if err != nil {
		return err
	}
	errs := make([]string, 0, len(report.Errors))
	for _, e := range report.Errors {
		errs = append(errs, e.Error())
	}
	id := report.RunID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO crawl_runs (id, catalog_id, mode, started_at, finished_at, pages_visited, pages_failed, listings, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id.String(), catalogID, report.Mode.String(), report.Started, report.Finished,
		report.PagesVisited, report.PagesFailed, report.Listings, errs)
	return err
}

// Run is a stored crawl run.
type Run struct {
	ID           uuid.UUID
	Mode         string
	Started      time.Time
	Finished     time.Time
	PagesVisited int
	PagesFailed  int
	Listings     int
	Errors       []string
}

// RecentRuns returns the latest crawl runs of a catalog, newest first.
func (s *Store) RecentRuns(ctx context.Context, title string, limit int) ([]Run, error) {
	rows, err := s.db.Query(ctx, `
SELECT r.id::text, r.mode, r.started_at, r.finished_at, r.pages_visited, r.pages_failed, r.listings, r.errors
FROM crawl_runs r JOIN catalogs c ON c.id = r.catalog_id
WHERE c.title = $1
ORDER BY r.started_at DESC
LIMIT $2`, title, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.Mode, &r.Started, &r.Finished, &r.PagesVisited, &r.PagesFailed, &r.Listings, &r.Errors); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
