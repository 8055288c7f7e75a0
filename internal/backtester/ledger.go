package backtester

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrSignCross is returned when a fill would flip the position through zero
// in one step. The driver splits reversing intents before they reach the
// ledger, so seeing this means a sizing bug upstream.
var ErrSignCross = errors.New("fill crosses position through zero")

// Ledger tracks cash and the single open position at weighted-average cost.
// Reductions realize P&L net of the exit commission and a proportional share
// of the entry commission, so the sum of trade net P&L always reconciles
// with total realized P&L.
type Ledger struct {
	mu sync.RWMutex

	cash     decimal.Decimal
	position decimal.Decimal // signed quantity
	avgPrice decimal.Decimal

	realized        decimal.Decimal
	totalCommission decimal.Decimal

	// open trade accumulators, reset on full close
	tradeID         string
	entryTime       time.Time
	entryDirection  types.Direction
	entryCommission decimal.Decimal
	closedQty       decimal.Decimal
	exitNotional    decimal.Decimal
	tradeGross      decimal.Decimal
	tradeCommission decimal.Decimal
}

func NewLedger(initialCapital decimal.Decimal) *Ledger {
	return &Ledger{cash: initialCapital}
}

func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Position returns the signed open quantity.
func (l *Ledger) Position() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.position
}

func (l *Ledger) AvgPrice() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.avgPrice
}

func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

func (l *Ledger) TotalCommission() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalCommission
}

// UnrealizedPnL marks the open position against price.
func (l *Ledger) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.position.Mul(price.Sub(l.avgPrice))
}

// Equity is cash plus the position marked at price.
func (l *Ledger) Equity(price decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash.Add(l.position.Mul(price))
}

// Apply books a fill. It returns the realized P&L delta and, when the fill
// closes the position completely, the finished trade record.
func (l *Ledger) Apply(fill types.Fill) (decimal.Decimal, *types.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fill.Status == types.FillStatusNone || fill.Filled.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil, fmt.Errorf("cannot apply fill with no quantity (status %s)", fill.Status)
	}

	delta := fill.Filled
	if fill.Direction == types.DirectionSell {
		delta = delta.Neg()
	}
	notional := fill.Price.Mul(fill.Filled)
	l.totalCommission = l.totalCommission.Add(fill.Commission)

	// cash moves by the notional in the fill's direction plus costs
	if fill.Direction == types.DirectionBuy {
		l.cash = l.cash.Sub(notional)
	} else {
		l.cash = l.cash.Add(notional)
	}
	l.cash = l.cash.Sub(fill.Commission)

	sameSide := l.position.IsZero() || l.position.Sign() == delta.Sign()
	if sameSide {
		l.open(fill, delta, notional)
		return decimal.Zero, nil, nil
	}
	return l.reduce(fill, delta, notional)
}

func (l *Ledger) open(fill types.Fill, delta, notional decimal.Decimal) {
	if l.position.IsZero() {
		l.tradeID = uuid.New().String()
		l.entryTime = fill.Timestamp
		l.entryDirection = fill.Direction
		l.avgPrice = fill.Price
	} else {
		held := l.position.Abs().Mul(l.avgPrice)
		l.avgPrice = held.Add(notional.Abs()).Div(l.position.Abs().Add(fill.Filled))
	}
	l.position = l.position.Add(delta)
	l.entryCommission = l.entryCommission.Add(fill.Commission)
}

func (l *Ledger) reduce(fill types.Fill, delta, notional decimal.Decimal) (decimal.Decimal, *types.TradeRecord, error) {
	before := l.position.Abs()
	if fill.Filled.GreaterThan(before) {
		return decimal.Zero, nil, fmt.Errorf("%w: position %s, fill %s",
			ErrSignCross, l.position, fill.Filled)
	}

	// gross in the direction of the open position
	gross := fill.Price.Sub(l.avgPrice).Mul(fill.Filled)
	if l.position.Sign() < 0 {
		gross = gross.Neg()
	}
	entryShare := l.entryCommission.Mul(fill.Filled).Div(before)
	realizedDelta := gross.Sub(fill.Commission).Sub(entryShare)

	l.realized = l.realized.Add(realizedDelta)
	l.entryCommission = l.entryCommission.Sub(entryShare)
	l.position = l.position.Add(delta)

	l.closedQty = l.closedQty.Add(fill.Filled)
	l.exitNotional = l.exitNotional.Add(notional)
	l.tradeGross = l.tradeGross.Add(gross)
	l.tradeCommission = l.tradeCommission.Add(fill.Commission).Add(entryShare)

	if !l.position.IsZero() {
		return realizedDelta, nil, nil
	}

	trade := &types.TradeRecord{
		ID:          l.tradeID,
		Direction:   l.entryDirection,
		EntryTime:   l.entryTime,
		ExitTime:    fill.Timestamp,
		EntryPrice:  l.avgPrice,
		ExitPrice:   l.exitNotional.Div(l.closedQty),
		Quantity:    l.closedQty,
		GrossPnL:    l.tradeGross,
		Commission:  l.tradeCommission,
		NetPnL:      l.tradeGross.Sub(l.tradeCommission),
		HoldingTime: fill.Timestamp.Sub(l.entryTime),
	}
	l.resetTrade()
	return realizedDelta, trade, nil
}

func (l *Ledger) resetTrade() {
	l.tradeID = ""
	l.entryTime = time.Time{}
	l.avgPrice = decimal.Zero
	l.entryCommission = decimal.Zero
	l.closedQty = decimal.Zero
	l.exitNotional = decimal.Zero
	l.tradeGross = decimal.Zero
	l.tradeCommission = decimal.Zero
}
