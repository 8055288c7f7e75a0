// Package strategy implements the signal generators. Each generator is a
// small state machine over {flat, long, short}: fed the bar history one bar
// at a time, it emits exactly one signal per bar and never looks past the
// bar it is evaluating.
package strategy

import (
	"fmt"
	"math"

	"github.com/meridianquant/backtest-engine/internal/data"
	"github.com/meridianquant/backtest-engine/pkg/types"
)

// SignalGenerator produces one signal per bar. The history slice always ends
// with the bar under evaluation; implementations must not retain it.
type SignalGenerator interface {
	Name() string
	NextSignal(history []types.Bar) types.Signal
}

// New builds the generator for the configured variant.
func New(cfg types.StrategyConfig) (SignalGenerator, error) {
	switch cfg.Variant {
	case types.VariantOpeningMomentum:
		return newOpeningMomentum(cfg.OpeningMomentum), nil
	case types.VariantMeanReversion:
		return newMeanReversion(cfg.MeanReversion), nil
	case types.VariantMomentumBreakout:
		return newMomentumBreakout(cfg.MomentumBreakout), nil
	default:
		return nil, fmt.Errorf("unknown strategy variant %q", cfg.Variant)
	}
}

// Variants lists every selectable strategy variant.
func Variants() []types.StrategyVariant {
	return []types.StrategyVariant{
		types.VariantOpeningMomentum,
		types.VariantMeanReversion,
		types.VariantMomentumBreakout,
	}
}

type positionState int

const (
	flat positionState = iota
	long
	short
)

func hold(history []types.Bar) types.Signal {
	i := len(history) - 1
	return types.Signal{Kind: types.SignalHold, BarIndex: i, Timestamp: history[i].Timestamp}
}

func signalAt(history []types.Bar, kind types.SignalKind, reason string, indicators map[string]float64) types.Signal {
	i := len(history) - 1
	return types.Signal{
		Kind:       kind,
		BarIndex:   i,
		Timestamp:  history[i].Timestamp,
		Reason:     reason,
		Indicators: indicators,
	}
}

// newSession reports whether the last bar opened a new trading day.
func newSession(history []types.Bar) bool {
	if len(history) < 2 {
		return false
	}
	n := len(history)
	return !data.SameSession(history[n-2].Timestamp, history[n-1].Timestamp)
}

// meanVolume averages volume over the lookback window ending at the last
// bar. Shorter histories use every bar available.
func meanVolume(history []types.Bar, lookback int) float64 {
	n := len(history)
	start := n - lookback
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, bar := range history[start:n] {
		sum += bar.Volume.InexactFloat64()
	}
	return sum / float64(n-start)
}

func closes(history []types.Bar, lookback int) []float64 {
	n := len(history)
	start := n - lookback
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, n-start)
	for _, bar := range history[start:n] {
		out = append(out, bar.Close.InexactFloat64())
	}
	return out
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation (n-1 denominator).
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// rsi computes a simple-average relative strength index over the closes
// ending at the last bar. Returns 50 until enough history accumulates.
func rsi(history []types.Bar, period int) float64 {
	if len(history) < period+1 {
		return 50
	}
	cs := closes(history, period+1)
	var gains, losses float64
	for i := 1; i < len(cs); i++ {
		d := cs[i] - cs[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
