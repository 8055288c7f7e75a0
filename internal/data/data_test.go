package data

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func mkBar(ts time.Time, open, high, low, close, volume float64) types.Bar {
	return types.Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

func TestValidate(t *testing.T) {
	base := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	good := []types.Bar{
		mkBar(base, 100, 101, 99, 100.5, 1000),
		mkBar(base.Add(time.Minute), 100.5, 102, 100, 101, 1200),
	}
	if err := Validate(good); err != nil {
		t.Fatalf("valid series rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func([]types.Bar)
		index  int
	}{
		{
			name:   "negative price",
			mutate: func(b []types.Bar) { b[1].Close = decimal.NewFromInt(-1) },
			index:  1,
		},
		{
			name:   "high below low",
			mutate: func(b []types.Bar) { b[0].High = decimal.NewFromInt(98) },
			index:  0,
		},
		{
			name:   "negative volume",
			mutate: func(b []types.Bar) { b[1].Volume = decimal.NewFromInt(-5) },
			index:  1,
		},
		{
			name:   "timestamps out of order",
			mutate: func(b []types.Bar) { b[1].Timestamp = base.Add(-time.Minute) },
			index:  1,
		},
		{
			name:   "duplicate timestamp in session",
			mutate: func(b []types.Bar) { b[1].Timestamp = base },
			index:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := []types.Bar{good[0], good[1]}
			tt.mutate(bars)
			err := Validate(bars)
			var fault *FaultError
			if !errors.As(err, &fault) {
				t.Fatalf("expected FaultError, got %v", err)
			}
			if fault.BarIndex != tt.index {
				t.Errorf("fault index = %d, want %d", fault.BarIndex, tt.index)
			}
		})
	}
}

func TestValidateAllowsEqualTimestampsAcrossSessions(t *testing.T) {
	day1 := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	bars := []types.Bar{
		mkBar(day1, 100, 101, 99, 100, 1000),
		mkBar(day2, 100, 101, 99, 100, 1000),
	}
	if err := Validate(bars); err != nil {
		t.Fatalf("cross-session series rejected: %v", err)
	}
}

func TestSynthesizeQuotesFraction(t *testing.T) {
	base := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	bars := SynthesizeQuotes(
		[]types.Bar{mkBar(base, 100, 101, 99, 100, 1000)},
		types.SpreadConfig{Model: types.SpreadModelFraction, Fraction: decimal.NewFromFloat(0.001)},
	)
	if got, want := bars[0].Bid.String(), "99.95"; got != want {
		t.Errorf("bid = %s, want %s", got, want)
	}
	if got, want := bars[0].Ask.String(), "100.05"; got != want {
		t.Errorf("ask = %s, want %s", got, want)
	}
	if !bars[0].Mid().Equal(bars[0].Close) {
		t.Errorf("mid %s should equal close %s", bars[0].Mid(), bars[0].Close)
	}
}

func TestSynthesizeQuotesFixedTick(t *testing.T) {
	base := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	bars := SynthesizeQuotes(
		[]types.Bar{mkBar(base, 50, 51, 49, 50, 1000)},
		types.SpreadConfig{Model: types.SpreadModelFixedTick, Tick: decimal.NewFromFloat(0.02)},
	)
	if got, want := bars[0].Bid.String(), "49.99"; got != want {
		t.Errorf("bid = %s, want %s", got, want)
	}
	if got, want := bars[0].Ask.String(), "50.01"; got != want {
		t.Errorf("ask = %s, want %s", got, want)
	}
}

func TestReadBars(t *testing.T) {
	input := `timestamp,open,high,low,close,volume
2024-03-04 09:30:00,100,101,99,100.5,1500
2024-03-04 09:31:00,100.5,102,100,101,1800
`
	bars, err := ReadBars(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if !bars[0].Close.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("first close = %s", bars[0].Close)
	}
	if bars[1].Timestamp.Minute() != 31 {
		t.Errorf("second timestamp = %s", bars[1].Timestamp)
	}
}

func TestReadBarsMissingColumn(t *testing.T) {
	input := "timestamp,open,high,low,close\n2024-03-04 09:30:00,1,1,1,1\n"
	if _, err := ReadBars(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for missing volume column")
	}
}

func TestResample(t *testing.T) {
	base := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	bars := []types.Bar{
		mkBar(base, 100, 102, 99, 101, 1000),
		mkBar(base.Add(time.Minute), 101, 103, 100, 102, 500),
		mkBar(base.Add(2*time.Minute), 102, 104, 101, 103, 700),
		mkBar(base.Add(5*time.Minute), 103, 105, 102, 104, 900),
	}
	out := Resample(bars, 5*time.Minute)
	if len(out) != 2 {
		t.Fatalf("got %d bars, want 2", len(out))
	}
	first := out[0]
	if !first.Open.Equal(decimal.NewFromInt(100)) || !first.Close.Equal(decimal.NewFromInt(103)) {
		t.Errorf("first bucket open/close = %s/%s", first.Open, first.Close)
	}
	if !first.High.Equal(decimal.NewFromInt(104)) || !first.Low.Equal(decimal.NewFromInt(99)) {
		t.Errorf("first bucket high/low = %s/%s", first.High, first.Low)
	}
	if !first.Volume.Equal(decimal.NewFromInt(2200)) {
		t.Errorf("first bucket volume = %s", first.Volume)
	}
	if !out[1].Volume.Equal(decimal.NewFromInt(900)) {
		t.Errorf("second bucket volume = %s", out[1].Volume)
	}
}

func TestResampleSessionBoundary(t *testing.T) {
	day1 := time.Date(2024, 3, 4, 15, 58, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	bars := []types.Bar{
		mkBar(day1, 100, 101, 99, 100, 500),
		mkBar(day1.Add(time.Minute), 100, 101, 99, 100, 500),
		mkBar(day2, 100, 101, 99, 100, 500),
	}
	out := Resample(bars, 30*time.Minute)
	if len(out) != 2 {
		t.Fatalf("got %d bars, want 2 (bucket must not span sessions)", len(out))
	}
}
