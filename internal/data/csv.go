// Package data loads price series and signal files for the CLI. The engine
// core does no I/O; sourcing data is a collaborator concern.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/tradesim/pkg/types"
)

// LoadBars reads a candle CSV with the columns
// timestamp,open,high,low,close,volume. The timestamp is either RFC 3339 or
// a unix epoch in seconds. A header row is detected and skipped.
func LoadBars(logger *zap.Logger, path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var bars []types.Bar
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candles: %w", err)
		}
		line++
		if line == 1 && isHeader(record) {
			continue
		}
		bar, err := parseBar(record)
		if err != nil {
			return nil, fmt.Errorf("candles line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	if logger != nil {
		logger.Info("loaded candles",
			zap.String("path", path),
			zap.Int("bars", len(bars)),
		)
	}
	return bars, nil
}

// LoadSignals reads a signal CSV with the boolean columns
// long_entry,long_exit,short_entry,short_exit, one row per bar. Accepted
// values are 0/1 and true/false.
func LoadSignals(logger *zap.Logger, path string, bars int) (types.SignalSet, error) {
	var set types.SignalSet

	f, err := os.Open(path)
	if err != nil {
		return set, fmt.Errorf("open signals: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4

	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return set, fmt.Errorf("read signals: %w", err)
		}
		line++
		if line == 1 && isHeader(record) {
			continue
		}
		vals := make([]bool, 4)
		for i, field := range record {
			v, err := parseBool(field)
			if err != nil {
				return set, fmt.Errorf("signals line %d: %w", line, err)
			}
			vals[i] = v
		}
		set.LongEntry = append(set.LongEntry, vals[0])
		set.LongExit = append(set.LongExit, vals[1])
		set.ShortEntry = append(set.ShortEntry, vals[2])
		set.ShortExit = append(set.ShortExit, vals[3])
	}

	if len(set.LongEntry) != bars {
		return set, fmt.Errorf("signals: %d rows for %d bars", len(set.LongEntry), bars)
	}
	if logger != nil {
		logger.Info("loaded signals", zap.String("path", path), zap.Int("rows", bars))
	}
	return set, nil
}

func parseBar(record []string) (types.Bar, error) {
	var bar types.Bar

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return bar, err
	}
	bar.Timestamp = ts

	fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return bar, fmt.Errorf("column %d: %w", i+1, err)
		}
		*dst = v
	}
	return bar, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return ts, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return true, nil
	case "0", "false", "":
		return false, nil
	}
	return false, fmt.Errorf("boolean %q", s)
}

func isHeader(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[len(record)-1]), 64)
	return err != nil
}
