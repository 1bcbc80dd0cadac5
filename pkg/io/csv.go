package io

import (
	"encoding/csv"
	"io"

	"github.com/geniass/price-tracker/pkg/catalog"
)

var csvHeader = []string{"Name", "Current Price", "Lowest Price", "Lowest From", "Lowest To", "URL"}

// WriteCSV writes one row per item: its latest price and the lowest price it
// has been seen at. Items without history get empty price columns.
func WriteCSV(w io.Writer, c *catalog.Catalog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, item := range c.Items() {
		s := item.Summary()
		row := []string{s.Name, "", "", "", "", s.URL}
		if s.HasHistory {
			row[1] = s.Current.FormattedPrice("")
			row[2] = s.Lowest.FormattedPrice("")
			row[3] = s.Lowest.Start.String()
			row[4] = s.Lowest.End.String()
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
