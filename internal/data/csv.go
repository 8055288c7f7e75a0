package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// LoadCSV reads minute bars from a CSV file. The header row names the
// columns; timestamp, open, high, low, close, and volume are required,
// matching is case-insensitive, and extra columns are ignored.
func LoadCSV(path string) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar file: %w", err)
	}
	defer f.Close()
	return ReadBars(f)
}

// ReadBars parses CSV bar data from r. See LoadCSV for the expected shape.
func ReadBars(r io.Reader) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var bars []types.Bar
	row := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		row++

		ts, err := parseTimestamp(record[idx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		bar := types.Bar{Timestamp: ts}
		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
			{"volume", &bar.Volume},
		}
		for _, field := range fields {
			v, err := decimal.NewFromString(strings.TrimSpace(record[idx[field.name]]))
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s: %w", row, field.name, err)
			}
			*field.dst = v
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars in input")
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
