// Package data provides bar series construction, validation, and loading.
// The engine itself is agnostic to where bars come from; everything here is
// a thin supplier for the simulation core.
package data

import (
	"fmt"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// FaultError describes malformed input data. It is the only condition that
// aborts a run.
type FaultError struct {
	BarIndex int
	Reason   string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("data fault at bar %d: %s", e.BarIndex, e.Reason)
}

// SameSession reports whether two timestamps fall on the same trading day.
func SameSession(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Validate checks a bar series for the invariants the engine depends on:
// monotonic non-decreasing timestamps (strictly increasing within a
// session), positive prices, a consistent high/low envelope, non-negative
// volume, and bid <= close <= ask where quotes are present. The first
// violation is returned as a *FaultError.
func Validate(bars []types.Bar) error {
	for i, bar := range bars {
		if bar.Open.LessThanOrEqual(decimal.Zero) || bar.High.LessThanOrEqual(decimal.Zero) ||
			bar.Low.LessThanOrEqual(decimal.Zero) || bar.Close.LessThanOrEqual(decimal.Zero) {
			return &FaultError{BarIndex: i, Reason: "non-positive price"}
		}
		if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) || bar.High.LessThan(bar.Low) {
			return &FaultError{BarIndex: i, Reason: "high below open/close/low"}
		}
		if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
			return &FaultError{BarIndex: i, Reason: "low above open/close"}
		}
		if bar.Volume.IsNegative() {
			return &FaultError{BarIndex: i, Reason: "negative volume"}
		}
		if !bar.Bid.IsZero() && !bar.Ask.IsZero() {
			if bar.Bid.GreaterThan(bar.Close) || bar.Ask.LessThan(bar.Close) {
				return &FaultError{BarIndex: i, Reason: "close outside bid/ask"}
			}
		}
		if i == 0 {
			continue
		}
		prev := bars[i-1]
		if bar.Timestamp.Before(prev.Timestamp) {
			return &FaultError{BarIndex: i, Reason: "timestamp out of order"}
		}
		if SameSession(prev.Timestamp, bar.Timestamp) && !bar.Timestamp.After(prev.Timestamp) {
			return &FaultError{BarIndex: i, Reason: "duplicate timestamp within session"}
		}
	}
	return nil
}

// SynthesizeQuotes returns a copy of bars with bid/ask derived from the
// close per the spread config: either a fraction of price or a fixed tick,
// split symmetrically around the close.
func SynthesizeQuotes(bars []types.Bar, cfg types.SpreadConfig) []types.Bar {
	two := decimal.NewFromInt(2)
	out := make([]types.Bar, len(bars))
	for i, bar := range bars {
		var half decimal.Decimal
		switch cfg.Model {
		case types.SpreadModelFixedTick:
			half = cfg.Tick.Div(two)
		default:
			half = bar.Close.Mul(cfg.Fraction).Div(two)
		}
		bar.Bid = bar.Close.Sub(half)
		bar.Ask = bar.Close.Add(half)
		out[i] = bar
	}
	return out
}
