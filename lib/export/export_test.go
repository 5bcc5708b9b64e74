package export

import (
	"bytes"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotmc/monoscan"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// uneven has three wavelengths with 3, 2 and 1 samples; the last window was
// aborted.
func uneven() *monoscan.ScanResult {
	return &monoscan.ScanResult{
		RunID:    uuid.MustParse("8d7a1a3e-52a2-4b8e-9c3f-0d6b1f2f7a10"),
		Started:  time.Date(2024, 5, 1, 9, 0, 0, 123456789, time.UTC),
		Interval: 500 * time.Millisecond,
		Results: []*monoscan.WavelengthResult{
			{Wavelength: 500, Complete: true, Samples: []monoscan.Sample{
				{Elapsed: 0, Current: 1.5}, {Elapsed: ms(361), Current: 1.25}, {Elapsed: ms(722), Current: 1.125},
			}},
			{Wavelength: 497.5, Complete: true, Samples: []monoscan.Sample{
				{Elapsed: ms(1), Current: -0.5}, {Elapsed: ms(362), Current: 0.001},
			}},
			{Wavelength: 495, Samples: []monoscan.Sample{
				{Elapsed: ms(2), Current: 7},
			}},
		},
	}
}

func TestParseLayout(t *testing.T) {
	for in, want := range map[string]Layout{"wide": Wide, "Long": Long, " tuple ": Long, "aligned": Wide} {
		got, err := ParseLayout(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLayout("tall")
	require.Error(t, err)
	assert.Equal(t, "long", Long.String())
}

func TestWideTable(t *testing.T) {
	res := uneven()
	tbl := WideTable(res)

	assert.Equal(t, []string{
		"Time (s)",
		"Current at 500 nm (nA)",
		"Current at 497.5 nm (nA)",
		"Current at 495 nm (nA)",
	}, tbl.Header)
	require.Len(t, tbl.Rows, res.MaxSamples())
	for _, row := range tbl.Rows {
		assert.Len(t, row, 1+len(res.Results))
	}
	assert.Equal(t, []Cell{num(0), num(1.5), num(-0.5), num(7)}, tbl.Rows[0])
	assert.Equal(t, []Cell{num(0.5), num(1.25), num(0.001), {}}, tbl.Rows[1])
	assert.Equal(t, []Cell{num(1), num(1.125), {}, {}}, tbl.Rows[2])
}

func TestLongTable(t *testing.T) {
	res := uneven()
	tbl := LongTable(res)
	require.Len(t, tbl.Rows, res.TotalSamples())
	assert.Equal(t, []Cell{num(500), num(0.361), num(1.25)}, tbl.Rows[1])
	assert.Equal(t, []Cell{num(495), num(0.002), num(7)}, tbl.Rows[5])
}

func TestEmptyResult(t *testing.T) {
	res := monoscan.NewScanResult(time.Second)
	assert.Equal(t, []string{TimeHeader}, WideTable(res).Header)
	assert.Empty(t, WideTable(res).Rows)
	assert.Empty(t, LongTable(res).Rows)
}

func TestWorkbookLongRoundTrip(t *testing.T) {
	res := uneven()
	path := filepath.Join(t.TempDir(), "scan.xlsx")
	require.NoError(t, Workbook{Path: path, Layout: Long}.Export(res))

	got, err := ReadLong(path)
	require.NoError(t, err)
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLongEmptyAbortedWindow(t *testing.T) {
	res := uneven()
	res.Results[2].Samples = nil
	path := filepath.Join(t.TempDir(), "scan.xlsx")
	require.NoError(t, Workbook{Path: path, Layout: Long}.Export(res))

	got, err := ReadLong(path)
	require.NoError(t, err)
	require.Len(t, got.Results, 3)
	assert.Equal(t, 495.0, got.Results[2].Wavelength)
	assert.False(t, got.Results[2].Complete)
	assert.True(t, got.Results[1].Complete)
}

func TestReadLongRejectsWide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.xlsx")
	require.NoError(t, Workbook{Path: path, Layout: Wide}.Export(uneven()))
	_, err := ReadLong(path)
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, WideTable(uneven())))
	want := "Time (s),Current at 500 nm (nA),Current at 497.5 nm (nA),Current at 495 nm (nA)\n" +
		"0,1.5,-0.5,7\n" +
		"0.5,1.25,0.001,\n" +
		"1,1.125,,\n"
	assert.Equal(t, want, buf.String())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scans.db")
	res := uneven()
	require.NoError(t, SQLite{Path: path}.Export(res))
	second := uneven()
	second.RunID = uuid.New()
	require.NoError(t, SQLite{Path: path}.Export(second))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var runs, samples int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM samples WHERE run_id = ?", res.RunID.String()).Scan(&samples))
	assert.Equal(t, 2, runs)
	assert.Equal(t, res.TotalSamples(), samples)

	var current float64
	require.NoError(t, db.QueryRow(
		"SELECT current_na FROM samples WHERE run_id = ? AND wavelength_nm = ? AND seq = ?",
		res.RunID.String(), 497.5, 1).Scan(&current))
	assert.Equal(t, 0.001, current)

	// The same run cannot be stored twice.
	require.ErrorIs(t, SQLite{Path: path}.Export(res), monoscan.ErrExport)
}

func TestPlot(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"scan.png", "scan.svg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Plot{Path: path}.Export(uneven()))
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, fi.Size())
	}
	err := Plot{Path: filepath.Join(dir, "empty.png")}.Export(monoscan.NewScanResult(time.Second))
	require.ErrorIs(t, err, monoscan.ErrExport)
}

type failing struct{ err error }

func (f failing) Export(*monoscan.ScanResult) error { return f.err }

func TestMultiRunsAll(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "scan.csv")
	e1, e2 := errors.New("first"), errors.New("second")
	err := Multi{failing{e1}, CSV{Path: csvPath}, failing{e2}}.Export(uneven())
	require.ErrorIs(t, err, e1)
	require.ErrorIs(t, err, e2)
	assert.FileExists(t, csvPath)
}

func TestForPath(t *testing.T) {
	cases := map[string]monoscan.Exporter{
		"a.xlsx":   Workbook{Path: "a.xlsx", Layout: Long},
		"b.CSV":    CSV{Path: "b.CSV", Layout: Long},
		"c.db":     SQLite{Path: "c.db"},
		"d.sqlite": SQLite{Path: "d.sqlite"},
		"e.svg":    Plot{Path: "e.svg"},
	}
	for path, want := range cases {
		got, err := ForPath(path, Long)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := ForPath("scan.txt", Wide)
	require.ErrorIs(t, err, monoscan.ErrExport)

	assert.Equal(t, "out/data.partial.xlsx", PartialPath("out/data.xlsx"))
}
