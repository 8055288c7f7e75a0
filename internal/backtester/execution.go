// Package backtester contains the simulation core: execution against
// synthetic quotes, the cash and position ledger, performance metrics, and
// the driver that runs a strategy over a bar series.
package backtester

import (
	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExecutionSimulator prices order intents against the quotes of their
// execution bar. Buys pay the ask plus slippage, sells receive the bid minus
// slippage. Fills are capped by a fraction of the bar's volume; an intent
// that cannot reach the minimum fill size is dropped with a None fill and
// never retried.
type ExecutionSimulator struct {
	cfg        types.ExecutionConfig
	commission types.CommissionConfig
	logger     *zap.Logger
}

func NewExecutionSimulator(cfg types.ExecutionConfig, commission types.CommissionConfig, logger *zap.Logger) *ExecutionSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionSimulator{cfg: cfg, commission: commission, logger: logger}
}

// Evaluate prices the intent against bar, which must be the intent's
// execution bar. The returned fill carries the reason when nothing fills.
func (e *ExecutionSimulator) Evaluate(intent types.OrderIntent, bar types.Bar) types.Fill {
	fill := types.Fill{
		IntentID:  intent.ID,
		Timestamp: bar.Timestamp,
		Direction: intent.Direction,
		Requested: intent.Quantity,
		Status:    types.FillStatusNone,
	}
	if intent.Quantity.LessThanOrEqual(decimal.Zero) {
		fill.Reason = "zero_quantity"
		return fill
	}
	if bar.Volume.LessThanOrEqual(decimal.Zero) {
		fill.Reason = "no_volume"
		e.logger.Debug("Intent dropped on zero-volume bar", zap.String("intent", intent.ID))
		return fill
	}

	maxQty := e.cfg.LiquidityCapFraction.Mul(bar.Volume).Floor()
	filled := decimal.Min(intent.Quantity, maxQty)
	if filled.LessThan(e.cfg.MinFillQty) || filled.LessThanOrEqual(decimal.Zero) {
		fill.Reason = "insufficient_liquidity"
		e.logger.Debug("Intent dropped below minimum fill size",
			zap.String("intent", intent.ID),
			zap.String("cap", maxQty.String()))
		return fill
	}

	var base decimal.Decimal
	if intent.Direction == types.DirectionBuy {
		base = bar.Ask
	} else {
		base = bar.Bid
	}
	slip := base.Mul(e.cfg.SlippageRate)
	if e.cfg.ScaleSlippageBySize {
		participation := intent.Quantity.Div(bar.Volume)
		slip = slip.Mul(decimal.NewFromInt(1).Add(participation))
	}

	if intent.Direction == types.DirectionBuy {
		fill.Price = base.Add(slip)
	} else {
		fill.Price = base.Sub(slip)
	}
	fill.Slippage = slip
	fill.Filled = filled
	fill.Commission = e.commission.Fixed.Add(e.commission.Rate.Mul(fill.Price.Mul(filled)))
	if filled.Equal(intent.Quantity) {
		fill.Status = types.FillStatusFull
	} else {
		fill.Status = types.FillStatusPartial
		fill.Reason = "liquidity_cap"
	}
	return fill
}
