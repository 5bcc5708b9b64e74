// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command monoscan steps a monochromator through a wavelength sequence,
// records the photocurrent measured by a Keithley 2400 at each wavelength
// and writes the samples to a spreadsheet.
//
// Usage:
//
//	monoscan [-config scan.json] [-sim] [-o data.xlsx] [flags]
//	monoscan -from data.xlsx -o data.csv -layout wide
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/gotmc/monoscan"
	"github.com/gotmc/monoscan/lib/connutil"
	"github.com/gotmc/monoscan/lib/export"
)

type settings struct {
	conn        connutil.Conn
	scan        monoscan.Config
	wavelengths string
	output      string
	layout      string
	plot        string
	db          string
	from        string
	config      string
	verbose     bool
}

func defaultSettings() settings {
	return settings{
		conn:   connutil.Defaults(),
		scan:   monoscan.DefaultConfig(),
		output: "measurement_data_interval.xlsx",
		layout: export.Wide.String(),
	}
}

func (s *settings) addFlags(fs *flag.FlagSet) {
	s.conn.AddFlags(fs)

	fs.StringVar(&s.wavelengths, "wavelengths", s.wavelengths, "comma-separated wavelengths in nm, overrides -start/-stop/-step")
	fs.Float64Var(&s.scan.Start, "start", s.scan.Start, "first wavelength in nm")
	fs.Float64Var(&s.scan.Stop, "stop", s.scan.Stop, "wavelength to stop before, in nm")
	fs.Float64Var(&s.scan.Step, "step", s.scan.Step, "wavelength step in nm")
	fs.DurationVar(&s.scan.Interval, "interval", s.scan.Interval, "target time between samples")
	fs.DurationVar(&s.scan.ReadOverhead, "overhead", s.scan.ReadOverhead, "per-read latency subtracted from the interval")
	fs.DurationVar(&s.scan.Duration, "duration", s.scan.Duration, "acquisition time per wavelength")
	fs.DurationVar(&s.scan.Pause, "pause", s.scan.Pause, "pause between wavelengths")
	fs.IntVar(&s.scan.Retries, "retries", s.scan.Retries, "re-attempts of a failed wavelength before aborting")

	fs.Float64Var(&s.scan.Meter.BiasVoltage, "bias", s.scan.Meter.BiasVoltage, "bias voltage in V")
	fs.BoolVar(&s.scan.Meter.SetBias, "set-bias", s.scan.Meter.SetBias, "write the bias level after reset")
	fs.Float64Var(&s.scan.Meter.VoltageRange, "vrange", s.scan.Meter.VoltageRange, "source voltage range in V")
	fs.Float64Var(&s.scan.Meter.CurrentRange, "irange", s.scan.Meter.CurrentRange, "sense current range in A")
	fs.Float64Var(&s.scan.Meter.NPLC, "nplc", s.scan.Meter.NPLC, "integration time in power-line cycles")

	fs.StringVar(&s.output, "o", s.output, "output file (.xlsx, .csv, .db, .png, .svg or .pdf)")
	fs.StringVar(&s.layout, "layout", s.layout, "table layout: wide or long")
	fs.StringVar(&s.plot, "plot", s.plot, "also plot the scan to this image file")
	fs.StringVar(&s.db, "db", s.db, "also append the scan to this SQLite database")
	fs.StringVar(&s.from, "from", s.from, "re-export a long-layout workbook instead of scanning")
	fs.StringVar(&s.config, "config", s.config, "JSON file with default settings")
	fs.BoolVar(&s.verbose, "v", s.verbose, "debug logging, including instrument traffic")
}

// exporter returns the exporters for all configured outputs, with each path
// passed through rename.
func (s *settings) exporter(layout export.Layout, rename func(string) string) (monoscan.Exporter, error) {
	var m export.Multi
	for _, p := range []string{s.output, s.plot, s.db} {
		if p == "" {
			continue
		}
		e, err := export.ForPath(rename(p), layout)
		if err != nil {
			return nil, err
		}
		m = append(m, e)
	}
	if len(m) == 0 {
		return nil, errors.New("no output file given")
	}
	return m, nil
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}).
		Level(level).
		With().Timestamp().Logger()
}

func same(p string) string { return p }

func run(ctx context.Context, args []string, stderr io.Writer) (err error) {
	s := defaultSettings()
	if path := configPath(args); path != "" {
		if err := loadConfigFile(path, &s); err != nil {
			return err
		}
	}
	fs := flag.NewFlagSet("monoscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	s.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments %q", fs.Args())
	}
	log := newLogger(stderr, s.verbose)

	layout, err := export.ParseLayout(s.layout)
	if err != nil {
		return err
	}
	exp, err := s.exporter(layout, same)
	if err != nil {
		return err
	}

	if s.from != "" {
		res, err := export.ReadLong(s.from)
		if err != nil {
			return err
		}
		log.Info().Str("from", s.from).Int("wavelengths", len(res.Results)).Msg("re-exporting")
		return exp.Export(res)
	}

	if s.wavelengths != "" {
		if s.scan.Wavelengths, err = parseList(s.wavelengths); err != nil {
			return err
		}
	}
	if err := s.scan.Validate(); err != nil {
		return fmt.Errorf("invalid scan configuration: %w", err)
	}

	s.conn.Trace = s.verbose
	inst, err := s.conn.Setup(log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, inst.Close())
	}()

	scanner, err := monoscan.NewScanner(inst.Mono, inst.Meter, s.scan, monoscan.WithLogger(log))
	if err != nil {
		return err
	}
	log.Debug().Floats64("nm", scanner.Sequence()).Msg("wavelength sequence")
	started := time.Now()
	res, runErr := scanner.Run(ctx)
	if runErr != nil {
		log.Error().Err(runErr).Msg("scan aborted")
		if res.TotalSamples() == 0 {
			return runErr
		}
		partial, err := s.exporter(layout, export.PartialPath)
		if err != nil {
			return multierr.Append(runErr, err)
		}
		log.Warn().Int("samples", res.TotalSamples()).Msg("saving partial results")
		return multierr.Append(runErr, partial.Export(res))
	}

	if err := exp.Export(res); err != nil {
		return err
	}
	log.Info().
		Str("run", res.RunID.String()).
		Str("output", s.output).
		Dur("elapsed", time.Since(started)).
		Msg("data saved")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stderr)
	stop()
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log := newLogger(os.Stderr, false)
		log.Error().Err(err).Msg("monoscan failed")
		os.Exit(1)
	}
}
