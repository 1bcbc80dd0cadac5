package pricing

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/geniass/price-tracker/pkg/dates"
)

// Timeline is the ordered price history of one item. Entries are sorted by
// (Start, End, Price) and, once built through Record, never overlap. Gaps are
// allowed. A Timeline is not safe for concurrent use; it belongs to one catalog item.
type Timeline struct {
	entries []Observation
}

// NewTimeline sorts the given entries but does not merge them, so overlapping
// input stays overlapping. It exists for deserialization.
func NewTimeline(entries ...Observation) *Timeline {
	t := &Timeline{entries: append([]Observation(nil), entries...)}
	t.sort()
	return t
}

func (t *Timeline) sort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Compare(t.entries[j]) < 0
	})
}

// Record folds obs into the timeline.
//
// Only the last entry is inspected, so observations for an item must arrive in
// non-decreasing start-date order. An observation that starts before the last
// entry's predecessor is merged against the last entry alone and can leave the
// timeline overlapping.
func (t *Timeline) Record(obs Observation) {
	n := len(t.entries)
	if n == 0 {
		t.entries = append(t.entries, obs)
		return
	}
	merged := merge(t.entries[n-1], obs)
	t.entries = append(t.entries[:n-1], merged...)
}

// merge resolves two observations into one to three ordered, non-overlapping entries.
func merge(p1, p2 Observation) []Observation {
	if p1.Equal(p2) {
		return []Observation{p1}
	}
	if p1.Compare(p2) > 0 {
		p1, p2 = p2, p1
	}
	samePrice := p1.Price.Equal(p2.Price)

	if p1.Start == p2.Start {
		if p1.End == p2.End {
			// only the price differs; the lower-ordered entry (lower price) wins
			return []Observation{p1}
		}
		// p1 ends first
		if samePrice {
			p1.End = p2.End
			return []Observation{p1}
		}
		p2.Start = p1.End.AddDays(1)
		return []Observation{p1, p2}
	}

	// p1 starts strictly before p2
	if samePrice {
		p1.End = dates.Max(p1.End, p2.End)
		return []Observation{p1}
	}
	if !p1.End.After(p2.End) {
		p1.End = p2.Start.AddDays(-1)
		return []Observation{p1, p2}
	}

	// p2 is nested inside p1: split p1 around it
	tail := Observation{
		Start: p2.End.AddDays(1),
		End:   p1.End,
		Price: p1.Price,
	}
	p1.End = p2.Start.AddDays(-1)
	return []Observation{p1, p2, tail}
}

// Entries returns a copy of the timeline entries in order.
func (t *Timeline) Entries() []Observation {
	return append([]Observation(nil), t.entries...)
}

func (t *Timeline) Len() int {
	return len(t.entries)
}

func (t *Timeline) Clone() *Timeline {
	return &Timeline{entries: t.Entries()}
}

func (t *Timeline) Lowest() (decimal.Decimal, bool) {
	o, ok := t.LowestObservation()
	return o.Price, ok
}

func (t *Timeline) Highest() (decimal.Decimal, bool) {
	if len(t.entries) == 0 {
		return decimal.Decimal{}, false
	}
	highest := t.entries[0].Price
	for _, e := range t.entries[1:] {
		if e.Price.GreaterThan(highest) {
			highest = e.Price
		}
	}
	return highest, true
}

// Latest returns the entry with the greatest end date; later entries win ties.
func (t *Timeline) Latest() (Observation, bool) {
	if len(t.entries) == 0 {
		return Observation{}, false
	}
	latest := t.entries[0]
	for _, e := range t.entries[1:] {
		if !e.End.Before(latest.End) {
			latest = e
		}
	}
	return latest, true
}

// LowestObservation returns the cheapest entry; the last of equally cheap entries wins.
func (t *Timeline) LowestObservation() (Observation, bool) {
	if len(t.entries) == 0 {
		return Observation{}, false
	}
	lowest := t.entries[0]
	for _, e := range t.entries[1:] {
		if e.Price.LessThanOrEqual(lowest.Price) {
			lowest = e
		}
	}
	return lowest, true
}

func (t *Timeline) MarshalJSON() ([]byte, error) {
	if t == nil || t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

func (t *Timeline) UnmarshalJSON(b []byte) error {
	var entries []Observation
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	*t = *NewTimeline(entries...)
	return nil
}
