// Package export writes scan results to spreadsheets, CSV, SQLite and plots.
package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/monoscan"
)

// Layout selects how samples are arranged in a table.
type Layout int

const (
	// Wide has a shared time column and one current column per wavelength.
	Wide Layout = iota
	// Long has one (wavelength, time, current) row per sample.
	Long
)

func (l Layout) String() string {
	switch l {
	case Wide:
		return "wide"
	case Long:
		return "long"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout accepts "wide" or "long", case-insensitively.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wide", "aligned":
		return Wide, nil
	case "long", "tuple":
		return Long, nil
	}
	return 0, fmt.Errorf("unknown layout %q (want wide or long)", s)
}

// Column headers.
const (
	TimeHeader       = "Time (s)"
	WavelengthHeader = "Wavelength (nm)"
	CurrentHeader    = "Current (nA)"
)

// CurrentColumn returns the wide-layout header for a wavelength column.
func CurrentColumn(w float64) string {
	return "Current at " + FormatNumber(w) + " nm (nA)"
}

// FormatNumber renders v in its shortest exact decimal form.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Cell is a table value. Missing cells have Valid false and are written
// empty.
type Cell struct {
	Value float64
	Valid bool
}

func num(v float64) Cell { return Cell{Value: v, Valid: true} }

// Table is an in-memory rectangular table: every row has len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]Cell
}

// Build returns the table for res in the given layout.
func Build(res *monoscan.ScanResult, l Layout) Table {
	if l == Long {
		return LongTable(res)
	}
	return WideTable(res)
}

// WideTable aligns the wavelengths by sample position. The time column is
// the nominal i×Interval; columns shorter than the longest are padded with
// missing cells.
func WideTable(res *monoscan.ScanResult) Table {
	t := Table{Header: make([]string, 0, 1+len(res.Results))}
	t.Header = append(t.Header, TimeHeader)
	for _, wr := range res.Results {
		t.Header = append(t.Header, CurrentColumn(wr.Wavelength))
	}
	n := res.MaxSamples()
	t.Rows = make([][]Cell, n)
	for i := 0; i < n; i++ {
		row := make([]Cell, len(t.Header))
		row[0] = num(float64(i) * res.Interval.Seconds())
		for j, wr := range res.Results {
			if i < len(wr.Samples) {
				row[j+1] = num(wr.Samples[i].Current)
			}
		}
		t.Rows[i] = row
	}
	return t
}

// LongTable lists every sample, grouped by wavelength in acquisition order.
func LongTable(res *monoscan.ScanResult) Table {
	t := Table{
		Header: []string{WavelengthHeader, TimeHeader, CurrentHeader},
		Rows:   make([][]Cell, 0, res.TotalSamples()),
	}
	for _, wr := range res.Results {
		for _, s := range wr.Samples {
			t.Rows = append(t.Rows, []Cell{num(wr.Wavelength), num(s.Elapsed.Seconds()), num(s.Current)})
		}
	}
	return t
}
