package backtester

import (
	"testing"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func quoteBar(bid, ask, volume float64) types.Bar {
	close := decimal.NewFromFloat(bid).Add(decimal.NewFromFloat(ask)).Div(decimal.NewFromInt(2))
	return types.Bar{
		Timestamp: time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC),
		Open:      close,
		High:      decimal.NewFromFloat(ask),
		Low:       decimal.NewFromFloat(bid),
		Close:     close,
		Volume:    decimal.NewFromFloat(volume),
		Bid:       decimal.NewFromFloat(bid),
		Ask:       decimal.NewFromFloat(ask),
	}
}

func newSimulator(exec types.ExecutionConfig, comm types.CommissionConfig) *ExecutionSimulator {
	return NewExecutionSimulator(exec, comm, zap.NewNop())
}

func TestEvaluateBuyPaysAskPlusSlippage(t *testing.T) {
	sim := newSimulator(types.ExecutionConfig{
		SlippageRate:         decimal.NewFromFloat(0.001),
		LiquidityCapFraction: decimal.NewFromFloat(0.5),
		MinFillQty:           decimal.NewFromInt(1),
	}, types.CommissionConfig{Fixed: decimal.NewFromInt(1)})

	intent := types.OrderIntent{ID: "i1", Direction: types.DirectionBuy, Quantity: decimal.NewFromInt(100)}
	fill := sim.Evaluate(intent, quoteBar(99.95, 100.05, 1000))

	if fill.Status != types.FillStatusFull {
		t.Fatalf("status = %s, want full", fill.Status)
	}
	// 100.05 * 1.001
	if got, want := fill.Price.String(), "100.15005"; got != want {
		t.Errorf("price = %s, want %s", got, want)
	}
	if got, want := fill.Slippage.String(), "0.10005"; got != want {
		t.Errorf("slippage = %s, want %s", got, want)
	}
	if !fill.Commission.Equal(decimal.NewFromInt(1)) {
		t.Errorf("commission = %s, want 1", fill.Commission)
	}
}

func TestEvaluateSellReceivesBidMinusSlippage(t *testing.T) {
	sim := newSimulator(types.ExecutionConfig{
		SlippageRate:         decimal.NewFromFloat(0.001),
		LiquidityCapFraction: decimal.NewFromFloat(0.5),
		MinFillQty:           decimal.NewFromInt(1),
	}, types.CommissionConfig{})

	intent := types.OrderIntent{ID: "i2", Direction: types.DirectionSell, Quantity: decimal.NewFromInt(100)}
	fill := sim.Evaluate(intent, quoteBar(99.95, 100.05, 1000))

	// 99.95 * 0.999
	if got, want := fill.Price.String(), "99.85005"; got != want {
		t.Errorf("price = %s, want %s", got, want)
	}
}

func TestEvaluatePartialFillAtLiquidityCap(t *testing.T) {
	sim := newSimulator(types.ExecutionConfig{
		SlippageRate:         decimal.Zero,
		LiquidityCapFraction: decimal.NewFromFloat(0.5),
		MinFillQty:           decimal.NewFromInt(1),
	}, types.CommissionConfig{})

	intent := types.OrderIntent{ID: "i3", Direction: types.DirectionBuy, Quantity: decimal.NewFromInt(1000)}
	fill := sim.Evaluate(intent, quoteBar(99.95, 100.05, 500))

	if fill.Status != types.FillStatusPartial {
		t.Fatalf("status = %s, want partial", fill.Status)
	}
	if !fill.Filled.Equal(decimal.NewFromInt(250)) {
		t.Errorf("filled = %s, want 250", fill.Filled)
	}
	if fill.Reason != "liquidity_cap" {
		t.Errorf("reason = %q", fill.Reason)
	}
}

func TestEvaluateNoFill(t *testing.T) {
	sim := newSimulator(types.ExecutionConfig{
		SlippageRate:         decimal.Zero,
		LiquidityCapFraction: decimal.NewFromFloat(0.5),
		MinFillQty:           decimal.NewFromInt(10),
	}, types.CommissionConfig{Fixed: decimal.NewFromInt(1)})

	tests := []struct {
		name   string
		bar    types.Bar
		reason string
	}{
		{"zero volume", quoteBar(99.95, 100.05, 0), "no_volume"},
		{"cap below minimum", quoteBar(99.95, 100.05, 10), "insufficient_liquidity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := types.OrderIntent{ID: "i4", Direction: types.DirectionBuy, Quantity: decimal.NewFromInt(100)}
			fill := sim.Evaluate(intent, tt.bar)
			if fill.Status != types.FillStatusNone {
				t.Fatalf("status = %s, want none", fill.Status)
			}
			if fill.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", fill.Reason, tt.reason)
			}
			if !fill.Commission.IsZero() {
				t.Errorf("none fill charged commission %s", fill.Commission)
			}
		})
	}
}

func TestEvaluateScaledSlippage(t *testing.T) {
	sim := newSimulator(types.ExecutionConfig{
		SlippageRate:         decimal.NewFromFloat(0.001),
		ScaleSlippageBySize:  true,
		LiquidityCapFraction: decimal.NewFromInt(1),
		MinFillQty:           decimal.NewFromInt(1),
	}, types.CommissionConfig{})

	intent := types.OrderIntent{ID: "i5", Direction: types.DirectionBuy, Quantity: decimal.NewFromInt(500)}
	fill := sim.Evaluate(intent, quoteBar(100, 100, 1000))

	// base slip 0.1 scaled by (1 + 500/1000)
	if got, want := fill.Slippage.String(), "0.15"; got != want {
		t.Errorf("slippage = %s, want %s", got, want)
	}
}
