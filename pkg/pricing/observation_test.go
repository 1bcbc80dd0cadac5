package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geniass/price-tracker/pkg/dates"
)

func TestNewObservation(t *testing.T) {
	start := dates.MustParse("2017-08-08")

	o, err := NewObservation(start, start.AddDays(2), decimal.RequireFromString("19.99"))
	require.NoError(t, err)
	assert.Equal(t, 3, o.Days())
	assert.True(t, o.Covers(start.AddDays(1)))
	assert.False(t, o.Covers(start.AddDays(3)))

	_, err = NewObservation(start, start.AddDays(-1), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewObservation(start, start, decimal.RequireFromString("-10.33"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewObservation(start, start, decimal.Zero)
	assert.NoError(t, err)
}

func TestParseObservation(t *testing.T) {
	_, err := ParseObservation("12.2.17", "2017-08-09", "1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, dates.ErrInvalidDate)

	_, err = ParseObservation("2017-08-08", "2017-08-09", "abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	o, err := ParseObservation("2017-08-08", "2017-08-10", "19.99")
	require.NoError(t, err)
	assert.Equal(t, "2017-08-08 through 2017-08-10 at price 19.99", o.String())
}

func TestCompareAndEqual(t *testing.T) {
	a := MustParseObservation("2017-08-08", "2017-08-10", "19.99")
	b := MustParseObservation("2017-08-08", "2017-08-10", "19.99")
	c := MustParseObservation("2017-08-08", "2017-08-10", "30.00")
	d := MustParseObservation("2017-08-08", "2017-08-11", "1.00")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Negative(t, a.Compare(c))
	assert.Negative(t, c.Compare(d))
	assert.Positive(t, d.Compare(a))
}

func TestFormattedPrice(t *testing.T) {
	o := MustParseObservation("2017-08-01", "2017-08-03", "23")
	assert.Equal(t, "23.00", o.FormattedPrice(""))
	assert.Equal(t, "$ 23.00", o.FormattedPrice("$"))
}
