// Package catalog is the registry of tracked items for one source site.
package catalog

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/geniass/price-tracker/pkg/pricing"
)

const DefaultTitle = "Crawl Data"

// Catalog maps case-insensitive item names to items. Every method is safe for
// concurrent use; all mutations go through one mutex. The zero value is an
// empty catalog titled DefaultTitle.
type Catalog struct {
	mutex sync.Mutex
	title string
	items map[string]*Item
}

func New(title string) *Catalog {
	c := &Catalog{
		items: make(map[string]*Item),
	}
	c.title = normalizeTitle(title)
	return c
}

// FromItems builds a catalog from previously persisted items, merging any that
// share a name.
func FromItems(title string, items []*Item) *Catalog {
	c := New(title)
	c.AddItems(items)
	return c
}

func normalizeTitle(title string) string {
	if title == "" {
		return DefaultTitle
	}
	return title
}

func (c *Catalog) Title() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return normalizeTitle(c.title)
}

func (c *Catalog) SetTitle(title string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.title = normalizeTitle(title)
}

func (c *Catalog) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.items)
}

// AddItem inserts item, or folds it into the existing item with the same name:
// the incoming URL replaces the stored one and every incoming observation is
// recorded in chronological order.
func (c *Catalog) AddItem(item *Item) {
	if item == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.addItem(item)
}

// AddItems applies a batch of items under a single lock acquisition, so a
// page's worth of results lands together.
func (c *Catalog) AddItems(items []*Item) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, item := range items {
		if item != nil {
			c.addItem(item)
		}
	}
}

func (c *Catalog) addItem(item *Item) {
	if c.items == nil {
		c.items = make(map[string]*Item)
	}
	key := Key(item.Name)
	existing, ok := c.items[key]
	if !ok {
		c.items[key] = item.Clone()
		return
	}

	existing.URL = item.URL
	if item.History == nil {
		return
	}
	// Entries are already sorted; re-sort anyway in case the item came from
	// NewTimeline with unsorted input.
	incoming := pricing.NewTimeline(item.History.Entries()...)
	for _, o := range incoming.Entries() {
		existing.History.Record(o)
	}
}

// Merge folds every item of other into c. other is snapshotted first so the
// two catalogs are never locked at the same time.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil || other == c {
		return
	}
	snapshot := other.Snapshot()
	c.AddItems(snapshot.sortedItems())
}

// Snapshot returns a deep copy of the catalog.
func (c *Catalog) Snapshot() *Catalog {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	s := New(c.title)
	for key, item := range c.items {
		s.items[key] = item.Clone()
	}
	return s
}

// Items returns deep copies of all items sorted by name, ignoring case.
func (c *Catalog) Items() []*Item {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	items := c.sortedItems()
	for i, item := range items {
		items[i] = item.Clone()
	}
	return items
}

// sortedItems must be called with the mutex held or on an unshared catalog.
func (c *Catalog) sortedItems() []*Item {
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]*Item, 0, len(keys))
	for _, k := range keys {
		items = append(items, c.items[k])
	}
	return items
}

// Lookup returns a copy of the named item.
func (c *Catalog) Lookup(name string) (*Item, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	item, ok := c.items[Key(name)]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

type catalogJSON struct {
	Title string  `json:"title"`
	Items []*Item `json:"items"`
}

func (c *Catalog) MarshalJSON() ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return json.Marshal(catalogJSON{Title: normalizeTitle(c.title), Items: c.sortedItems()})
}

func (c *Catalog) UnmarshalJSON(b []byte) error {
	var raw catalogJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	loaded := New(raw.Title)
	for _, item := range raw.Items {
		if item == nil {
			continue
		}
		if item.History == nil {
			item.History = &pricing.Timeline{}
		}
		key := Key(item.Name)
		if _, dup := loaded.items[key]; dup {
			loaded.addItem(item)
			continue
		}
		// stored as-is: history was sorted by its own decoder and is not re-merged
		loaded.items[key] = item
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.title = loaded.title
	c.items = loaded.items
	return nil
}
