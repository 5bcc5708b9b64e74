// Copyright (c) 2024 The monoscan developers. All rights reserved.
// Project site: https://github.com/gotmc/monoscan
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// duration accepts either a Go duration string ("500ms") or a number of
// seconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = duration(v * float64(time.Second))
	case string:
		p, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = duration(p)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// fileConfig mirrors the command line. Fields left out of the file keep
// their defaults; flags given on the command line override the file.
type fileConfig struct {
	Connection json.RawMessage `json:"connection"`
	Timeout    *duration       `json:"timeout"`

	Wavelengths  []float64 `json:"wavelengths"`
	Start        *float64  `json:"start_nm"`
	Stop         *float64  `json:"stop_nm"`
	Step         *float64  `json:"step_nm"`
	Interval     *duration `json:"interval"`
	ReadOverhead *duration `json:"read_overhead"`
	Duration     *duration `json:"duration"`
	Pause        *duration `json:"pause"`
	Retries      *int      `json:"retries"`

	BiasVoltage  *float64 `json:"bias_voltage"`
	SetBias      *bool    `json:"set_bias"`
	VoltageRange *float64 `json:"voltage_range"`
	CurrentRange *float64 `json:"current_range"`
	NPLC         *float64 `json:"nplc"`

	Output *string `json:"output"`
	Layout *string `json:"layout"`
	Plot   *string `json:"plot"`
	DB     *string `json:"db"`
}

const maxConfigSize = 1 << 20

// loadConfigFile applies the JSON file at path on top of s.
func loadConfigFile(path string, s *settings) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fi, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Size() > maxConfigSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fi.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if len(fc.Connection) > 0 {
		if err := json.Unmarshal(fc.Connection, &s.conn); err != nil {
			return fmt.Errorf("failed to parse connection settings: %w", err)
		}
	}
	fc.apply(s)
	return nil
}

func (fc *fileConfig) apply(s *settings) {
	setDur := func(dst *time.Duration, src *duration) {
		if src != nil {
			*dst = time.Duration(*src)
		}
	}
	setF := func(dst, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setS := func(dst, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setDur(&s.conn.Timeout, fc.Timeout)
	if len(fc.Wavelengths) > 0 {
		s.wavelengths = formatList(fc.Wavelengths)
	}
	setF(&s.scan.Start, fc.Start)
	setF(&s.scan.Stop, fc.Stop)
	setF(&s.scan.Step, fc.Step)
	setDur(&s.scan.Interval, fc.Interval)
	setDur(&s.scan.ReadOverhead, fc.ReadOverhead)
	setDur(&s.scan.Duration, fc.Duration)
	setDur(&s.scan.Pause, fc.Pause)
	if fc.Retries != nil {
		s.scan.Retries = *fc.Retries
	}
	setF(&s.scan.Meter.BiasVoltage, fc.BiasVoltage)
	if fc.SetBias != nil {
		s.scan.Meter.SetBias = *fc.SetBias
	}
	setF(&s.scan.Meter.VoltageRange, fc.VoltageRange)
	setF(&s.scan.Meter.CurrentRange, fc.CurrentRange)
	setF(&s.scan.Meter.NPLC, fc.NPLC)
	setS(&s.output, fc.Output)
	setS(&s.layout, fc.Layout)
	setS(&s.plot, fc.Plot)
	setS(&s.db, fc.DB)
}

// configPath finds the -config argument before the flag set is built, so
// that the file can supply the flag defaults.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// parseList parses a comma-separated list of wavelengths.
func parseList(s string) ([]float64, error) {
	var ws []float64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		w, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("wavelength list: %w", err)
		}
		ws = append(ws, w)
	}
	return ws, nil
}

func formatList(ws []float64) string {
	s := make([]string, len(ws))
	for i, w := range ws {
		s[i] = strconv.FormatFloat(w, 'f', -1, 64)
	}
	return strings.Join(s, ",")
}
