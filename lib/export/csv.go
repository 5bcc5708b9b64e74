package export

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/gotmc/monoscan"
)

// CSV writes the table as comma-separated text. Missing cells are empty.
type CSV struct {
	Path   string
	Layout Layout
}

func (c CSV) Export(res *monoscan.ScanResult) (err error) {
	f, err := os.Create(c.Path)
	if err != nil {
		return exportErr(c.Path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = exportErr(c.Path, cerr)
		}
	}()
	if err := WriteCSV(f, Build(res, c.Layout)); err != nil {
		return exportErr(c.Path, err)
	}
	return nil
}

// WriteCSV writes t to w.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, v := range row {
			rec[i] = ""
			if v.Valid {
				rec[i] = FormatNumber(v.Value)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
