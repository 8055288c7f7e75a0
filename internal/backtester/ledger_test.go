package backtester

import (
	"errors"
	"testing"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func fillAt(ts time.Time, dir types.Direction, qty, price, commission float64) types.Fill {
	return types.Fill{
		IntentID:   "t",
		Timestamp:  ts,
		Direction:  dir,
		Status:     types.FillStatusFull,
		Requested:  decimal.NewFromFloat(qty),
		Filled:     decimal.NewFromFloat(qty),
		Price:      decimal.NewFromFloat(price),
		Commission: decimal.NewFromFloat(commission),
	}
}

func TestLedgerOpenLong(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

	delta, trade, err := l.Apply(fillAt(start, types.DirectionBuy, 100, 10, 1))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !delta.IsZero() || trade != nil {
		t.Fatalf("opening fill realized %s, trade %v", delta, trade)
	}
	if got, want := l.Cash().String(), "98999"; got != want {
		t.Errorf("cash = %s, want %s", got, want)
	}
	if !l.Position().Equal(decimal.NewFromInt(100)) {
		t.Errorf("position = %s, want 100", l.Position())
	}
	mark := decimal.NewFromInt(11)
	if !l.UnrealizedPnL(mark).Equal(decimal.NewFromInt(100)) {
		t.Errorf("unrealized = %s, want 100", l.UnrealizedPnL(mark))
	}
	if got, want := l.Equity(mark).String(), "100099"; got != want {
		t.Errorf("equity = %s, want %s", got, want)
	}
}

// A trade closed in two reductions must realize the same total as the
// emitted trade record's net P&L, with the entry commission allocated
// proportionally across the reductions.
func TestLedgerPartialThenFullClose(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

	if _, _, err := l.Apply(fillAt(start, types.DirectionBuy, 100, 10, 1)); err != nil {
		t.Fatal(err)
	}

	delta1, trade, err := l.Apply(fillAt(start.Add(time.Minute), types.DirectionSell, 40, 12, 1))
	if err != nil {
		t.Fatal(err)
	}
	if trade != nil {
		t.Fatal("partial close emitted a trade record")
	}
	// gross 80, exit commission 1, entry share 1*40/100
	if got, want := delta1.String(), "78.6"; got != want {
		t.Errorf("first realized delta = %s, want %s", got, want)
	}

	delta2, trade, err := l.Apply(fillAt(start.Add(2*time.Minute), types.DirectionSell, 60, 12, 1))
	if err != nil {
		t.Fatal(err)
	}
	if trade == nil {
		t.Fatal("full close emitted no trade record")
	}
	if got, want := delta2.String(), "118.4"; got != want {
		t.Errorf("second realized delta = %s, want %s", got, want)
	}

	if !trade.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("trade quantity = %s, want 100", trade.Quantity)
	}
	if !trade.GrossPnL.Equal(decimal.NewFromInt(200)) {
		t.Errorf("trade gross = %s, want 200", trade.GrossPnL)
	}
	if got, want := trade.NetPnL.String(), "197"; got != want {
		t.Errorf("trade net = %s, want %s", got, want)
	}
	if !trade.NetPnL.Equal(l.RealizedPnL()) {
		t.Errorf("trade net %s != ledger realized %s", trade.NetPnL, l.RealizedPnL())
	}
	if !trade.ExitPrice.Equal(decimal.NewFromInt(12)) {
		t.Errorf("exit price = %s, want 12", trade.ExitPrice)
	}
	if trade.HoldingTime != 2*time.Minute {
		t.Errorf("holding time = %s", trade.HoldingTime)
	}
	if !l.Position().IsZero() {
		t.Errorf("position = %s after full close", l.Position())
	}
}

func TestLedgerShortRoundTrip(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

	if _, _, err := l.Apply(fillAt(start, types.DirectionSell, 50, 20, 0)); err != nil {
		t.Fatal(err)
	}
	if !l.Position().Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("position = %s, want -50", l.Position())
	}
	if got, want := l.Cash().String(), "101000"; got != want {
		t.Errorf("cash after short sale = %s, want %s", got, want)
	}

	delta, trade, err := l.Apply(fillAt(start.Add(time.Minute), types.DirectionBuy, 50, 18, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !delta.Equal(decimal.NewFromInt(100)) {
		t.Errorf("realized = %s, want 100", delta)
	}
	if trade == nil || trade.Direction != types.DirectionSell {
		t.Fatalf("trade = %+v, want short round trip", trade)
	}
	if got, want := l.Cash().String(), "100100"; got != want {
		t.Errorf("final cash = %s, want %s", got, want)
	}
}

func TestLedgerWeightedAverageAdd(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

	l.Apply(fillAt(start, types.DirectionBuy, 100, 10, 0))
	l.Apply(fillAt(start.Add(time.Minute), types.DirectionBuy, 100, 12, 0))

	if !l.AvgPrice().Equal(decimal.NewFromInt(11)) {
		t.Errorf("avg price = %s, want 11", l.AvgPrice())
	}
	if !l.Position().Equal(decimal.NewFromInt(200)) {
		t.Errorf("position = %s, want 200", l.Position())
	}
}

func TestLedgerRejectsSignCross(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100000))
	start := time.Date(2024, 3, 4, 9, 31, 0, 0, time.UTC)

	l.Apply(fillAt(start, types.DirectionBuy, 10, 10, 0))
	_, _, err := l.Apply(fillAt(start.Add(time.Minute), types.DirectionSell, 20, 10, 0))
	if !errors.Is(err, ErrSignCross) {
		t.Fatalf("err = %v, want ErrSignCross", err)
	}
}

func TestLedgerRejectsEmptyFill(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100000))
	fill := types.Fill{Status: types.FillStatusNone, Direction: types.DirectionBuy}
	if _, _, err := l.Apply(fill); err == nil {
		t.Fatal("expected error applying a none fill")
	}
}
