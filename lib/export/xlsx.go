package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/gotmc/monoscan"
)

// Sheet names used in exported workbooks.
const (
	DataSheet = "Data"
	RunSheet  = "Run"
)

// Run sheet keys, one per row in column A with the value in column B.
const (
	keyRunID    = "Run ID"
	keyStarted  = "Started"
	keyInterval = "Interval (s)"
	keyComplete = "Complete"
	keySamples  = "Samples"

	// Wavelengths whose window was cut short, comma separated.
	keyIncomplete = "Incomplete (nm)"
)

// Workbook writes an .xlsx file with the data table on the Data sheet and run
// metadata on the Run sheet.
type Workbook struct {
	Path   string
	Layout Layout
}

func (w Workbook) Export(res *monoscan.ScanResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DataSheet); err != nil {
		return exportErr(w.Path, err)
	}
	if err := writeSheet(f, DataSheet, Build(res, w.Layout)); err != nil {
		return exportErr(w.Path, err)
	}
	if _, err := f.NewSheet(RunSheet); err != nil {
		return exportErr(w.Path, err)
	}
	meta := [][2]string{
		{keyRunID, res.RunID.String()},
		{keyStarted, res.Started.Format(time.RFC3339Nano)},
		{keyInterval, FormatNumber(res.Interval.Seconds())},
		{keyComplete, strconv.FormatBool(res.Complete())},
		{keySamples, strconv.Itoa(res.TotalSamples())},
		{keyIncomplete, incomplete(res)},
	}
	for i, kv := range meta {
		if err := f.SetCellStr(RunSheet, cell(1, i+1), kv[0]); err != nil {
			return exportErr(w.Path, err)
		}
		if err := f.SetCellStr(RunSheet, cell(2, i+1), kv[1]); err != nil {
			return exportErr(w.Path, err)
		}
	}
	if err := f.SaveAs(w.Path); err != nil {
		return exportErr(w.Path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t Table) error {
	for c, h := range t.Header {
		if err := f.SetCellStr(sheet, cell(c+1, 1), h); err != nil {
			return err
		}
	}
	for r, row := range t.Rows {
		for c, v := range row {
			if !v.Valid {
				continue
			}
			if err := f.SetCellFloat(sheet, cell(c+1, r+2), v.Value, -1, 64); err != nil {
				return err
			}
		}
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// ReadLong reads a long-layout workbook written by Workbook back into a scan
// result. Samples are grouped by wavelength in row order. Run metadata is
// restored when the Run sheet is present.
func ReadLong(path string) (*monoscan.ScanResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := DataSheet
	if idx, _ := f.GetSheetIndex(DataSheet); idx < 0 {
		sheet = f.GetSheetList()[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty sheet %q", path, sheet)
	}
	want := []string{WavelengthHeader, TimeHeader, CurrentHeader}
	if len(rows[0]) < len(want) || !equalFold(rows[0][:len(want)], want) {
		return nil, fmt.Errorf("%s: not a long-layout sheet, header %q", path, rows[0])
	}

	res := &monoscan.ScanResult{}
	for i, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("%s: row %d: want 3 cells, got %d", path, i+2, len(row))
		}
		var v [3]float64
		for j := range v {
			if v[j], err = strconv.ParseFloat(strings.TrimSpace(row[j]), 64); err != nil {
				return nil, fmt.Errorf("%s: row %d: %w", path, i+2, err)
			}
		}
		wr, ok := res.Lookup(v[0])
		if !ok {
			wr = &monoscan.WavelengthResult{Wavelength: v[0], Complete: true}
			res.Results = append(res.Results, wr)
		}
		wr.Samples = append(wr.Samples, monoscan.Sample{
			Elapsed: seconds(v[1]),
			Current: v[2],
		})
	}

	if err := readRunSheet(f, res); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

func readRunSheet(f *excelize.File, res *monoscan.ScanResult) error {
	if idx, _ := f.GetSheetIndex(RunSheet); idx < 0 {
		return nil
	}
	rows, err := f.GetRows(RunSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		switch row[0] {
		case keyRunID:
			if res.RunID, err = uuid.Parse(row[1]); err != nil {
				return err
			}
		case keyStarted:
			if res.Started, err = time.Parse(time.RFC3339Nano, row[1]); err != nil {
				return err
			}
		case keyInterval:
			s, err := strconv.ParseFloat(row[1], 64)
			if err != nil {
				return err
			}
			res.Interval = seconds(s)
		case keyIncomplete:
			if strings.TrimSpace(row[1]) == "" {
				continue
			}
			for _, field := range strings.Split(row[1], ",") {
				w, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
				if err != nil {
					return err
				}
				wr, ok := res.Lookup(w)
				if !ok {
					// A window aborted before its first sample has no rows.
					wr = &monoscan.WavelengthResult{Wavelength: w}
					res.Results = append(res.Results, wr)
				}
				wr.Complete = false
			}
		}
	}
	return nil
}

func incomplete(res *monoscan.ScanResult) string {
	var ws []string
	for _, wr := range res.Results {
		if !wr.Complete {
			ws = append(ws, FormatNumber(wr.Wavelength))
		}
	}
	return strings.Join(ws, ",")
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func equalFold(a, b []string) bool {
	for i := range b {
		if !strings.EqualFold(strings.TrimSpace(a[i]), b[i]) {
			return false
		}
	}
	return true
}

func exportErr(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", monoscan.ErrExport, path, err)
}
