package export

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gotmc/monoscan"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TIMESTAMP,
		interval_s DOUBLE,
		complete BOOLEAN
	);
	CREATE TABLE IF NOT EXISTS samples (
		run_id TEXT,
		wavelength_nm DOUBLE,
		seq INTEGER,
		time_s DOUBLE,
		current_na DOUBLE,
		PRIMARY KEY (run_id, wavelength_nm, seq),
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
`

// SQLite appends the run to a SQLite database, creating the tables if
// needed. Samples are stored in long form. Successive runs accumulate in the
// same file, keyed by run id.
type SQLite struct {
	Path string
}

func (s SQLite) Export(res *monoscan.ScanResult) error {
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return exportErr(s.Path, err)
	}
	defer db.Close()
	if err := insertRun(context.Background(), db, res); err != nil {
		return exportErr(s.Path, err)
	}
	return nil
}

func insertRun(ctx context.Context, db *sql.DB, res *monoscan.ScanResult) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := res.RunID.String()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (run_id, started_at, interval_s, complete) VALUES (?, ?, ?, ?)",
		id, res.Started.UTC().Format(time.RFC3339Nano), res.Interval.Seconds(), res.Complete(),
	); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO samples (run_id, wavelength_nm, seq, time_s, current_na) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, wr := range res.Results {
		for i, smp := range wr.Samples {
			if _, err := stmt.ExecContext(ctx, id, wr.Wavelength, i, smp.Elapsed.Seconds(), smp.Current); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}
