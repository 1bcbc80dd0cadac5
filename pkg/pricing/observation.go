// Package pricing holds price observations and the per-item timeline that
// merges them into non-overlapping date ranges.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/geniass/price-tracker/pkg/dates"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Observation is a price that held on every day of [Start, End].
type Observation struct {
	Start dates.Date
	End   dates.Date
	Price decimal.Decimal
}

func NewObservation(start, end dates.Date, price decimal.Decimal) (Observation, error) {
	if end.Before(start) {
		return Observation{}, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidArgument, end, start)
	}
	if price.IsNegative() {
		return Observation{}, fmt.Errorf("%w: negative price %s", ErrInvalidArgument, price)
	}
	return Observation{Start: start, End: end, Price: price}, nil
}

// SingleDay is an observation made on one day, which is what a crawl produces.
func SingleDay(day dates.Date, price decimal.Decimal) (Observation, error) {
	return NewObservation(day, day, price)
}

// ParseObservation builds an observation from YYYY-MM-DD strings and a decimal price string.
func ParseObservation(start, end, price string) (Observation, error) {
	s, err := dates.Parse(start)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: start: %w", ErrInvalidArgument, err)
	}
	e, err := dates.Parse(end)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: end: %w", ErrInvalidArgument, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: price %q: %v", ErrInvalidArgument, price, err)
	}
	return NewObservation(s, e, p)
}

// MustParseObservation is ParseObservation for fixtures; it panics on error.
func MustParseObservation(start, end, price string) Observation {
	o, err := ParseObservation(start, end, price)
	if err != nil {
		panic(err)
	}
	return o
}

// Compare orders by start date, then end date, then price.
func (o Observation) Compare(other Observation) int {
	if c := o.Start.Compare(other.Start); c != 0 {
		return c
	}
	if c := o.End.Compare(other.End); c != 0 {
		return c
	}
	return o.Price.Cmp(other.Price)
}

func (o Observation) Equal(other Observation) bool {
	return o.Compare(other) == 0
}

// Days is the inclusive number of days the observation covers.
func (o Observation) Days() int {
	return dates.DaysBetweenInclusive(o.Start, o.End)
}

func (o Observation) Covers(d dates.Date) bool {
	return !d.Before(o.Start) && !d.After(o.End)
}

// FormattedPrice renders the price with two decimals and an optional currency prefix.
func (o Observation) FormattedPrice(currency string) string {
	if currency == "" {
		return o.Price.StringFixed(2)
	}
	return currency + " " + o.Price.StringFixed(2)
}

func (o Observation) String() string {
	return fmt.Sprintf("%s through %s at price %s", o.Start, o.End, o.FormattedPrice(""))
}

type observationJSON struct {
	Start string          `json:"start"`
	End   string          `json:"end"`
	Price decimal.Decimal `json:"price"`
}

func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(observationJSON{
		Start: o.Start.String(),
		End:   o.End.String(),
		Price: o.Price,
	})
}

// UnmarshalJSON validates like NewObservation, so a snapshot can never load a
// reversed range or a negative price.
func (o *Observation) UnmarshalJSON(b []byte) error {
	var raw observationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s, err := dates.Parse(raw.Start)
	if err != nil {
		return fmt.Errorf("%w: start: %w", ErrInvalidArgument, err)
	}
	e, err := dates.Parse(raw.End)
	if err != nil {
		return fmt.Errorf("%w: end: %w", ErrInvalidArgument, err)
	}
	parsed, err := NewObservation(s, e, raw.Price)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
