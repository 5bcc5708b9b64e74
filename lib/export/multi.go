package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/gotmc/monoscan"
)

// Multi runs every exporter, even after one fails, and combines the errors.
type Multi []monoscan.Exporter

func (m Multi) Export(res *monoscan.ScanResult) error {
	var err error
	for _, e := range m {
		err = multierr.Append(err, e.Export(res))
	}
	return err
}

// ForPath picks an exporter from the file extension of path. The layout
// applies to tabular formats only.
func ForPath(path string, l Layout) (monoscan.Exporter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return Workbook{Path: path, Layout: l}, nil
	case ".csv":
		return CSV{Path: path, Layout: l}, nil
	case ".db", ".sqlite", ".sqlite3":
		return SQLite{Path: path}, nil
	case ".png", ".svg", ".pdf":
		return Plot{Path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s: unsupported file type", monoscan.ErrExport, path)
}

// PartialPath returns the name used to salvage an interrupted scan:
// data.xlsx becomes data.partial.xlsx.
func PartialPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".partial" + ext
}
