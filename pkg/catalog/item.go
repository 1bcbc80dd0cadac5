package catalog

import (
	"strings"

	"github.com/geniass/price-tracker/pkg/pricing"
)

// Key is the identity of an item name: names that differ only in case are the same item.
func Key(name string) string {
	return strings.ToLower(name)
}

// Item is one tracked product and its price history.
type Item struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	History *pricing.Timeline `json:"history"`
}

func NewItem(name, url string, observations ...pricing.Observation) *Item {
	history := &pricing.Timeline{}
	for _, o := range observations {
		history.Record(o)
	}
	return &Item{Name: name, URL: url, History: history}
}

func (i *Item) Clone() *Item {
	c := *i
	if i.History != nil {
		c.History = i.History.Clone()
	} else {
		c.History = &pricing.Timeline{}
	}
	return &c
}

// Summary is the presentation view of an item: what it costs now and the best
// price seen so far.
type Summary struct {
	Name       string
	URL        string
	Current    pricing.Observation
	Lowest     pricing.Observation
	HasHistory bool
	Entries    int
}

func (i *Item) Summary() Summary {
	s := Summary{Name: i.Name, URL: i.URL}
	if i.History == nil {
		return s
	}
	s.Entries = i.History.Len()
	s.Current, s.HasHistory = i.History.Latest()
	s.Lowest, _ = i.History.LowestObservation()
	return s
}
