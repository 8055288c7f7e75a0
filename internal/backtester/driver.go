package backtester

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meridianquant/backtest-engine/internal/data"
	"github.com/meridianquant/backtest-engine/internal/strategy"
	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	barsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_bars_processed_total",
		Help: "Bars consumed across all runs",
	})
	fillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_fills_total",
		Help: "Fill evaluations by status",
	}, []string{"status"})
	tradesClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_trades_closed_total",
		Help: "Round-trip trades completed",
	})
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Runs finished by terminal state",
	}, []string{"state"})
)

const progressEvery = 250

// Driver runs one strategy over one bar series. Each driver owns its
// generator, simulator, and ledger; drivers share nothing, so concurrent
// runs are safe.
type Driver struct {
	cfg       *types.BacktestConfig
	generator strategy.SignalGenerator
	simulator *ExecutionSimulator
	ledger    *Ledger
	logger    *zap.Logger

	mu       sync.RWMutex
	state    types.RunState
	progress chan types.RunProgress
}

func NewDriver(cfg *types.BacktestConfig, gen strategy.SignalGenerator, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:       cfg,
		generator: gen,
		simulator: NewExecutionSimulator(cfg.Execution, cfg.Commission, logger),
		ledger:    NewLedger(cfg.InitialCapital),
		logger:    logger,
		state:     types.RunStateNotStarted,
		progress:  make(chan types.RunProgress, 8),
	}
}

// State returns the current lifecycle state.
func (d *Driver) State() types.RunState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Progress exposes run snapshots. The driver never blocks on this channel;
// slow consumers miss updates.
func (d *Driver) Progress() <-chan types.RunProgress {
	return d.progress
}

func (d *Driver) setState(s types.RunState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run executes the backtest. Malformed input data is the only condition
// that fails a run; strategies that never trade and intents that never fill
// complete normally.
func (d *Driver) Run(ctx context.Context, bars []types.Bar) (*types.BacktestResult, error) {
	if d.State() != types.RunStateNotStarted {
		return nil, fmt.Errorf("run already started (state %s)", d.State())
	}
	d.setState(types.RunStateRunning)
	defer close(d.progress)
	started := time.Now()

	runID := d.cfg.ID
	if runID == "" {
		runID = uuid.New().String()
	}
	result := &types.BacktestResult{
		ID:        runID,
		Config:    d.cfg,
		StartedAt: started,
	}

	if err := data.Validate(bars); err != nil {
		d.setState(types.RunStateFailed)
		runsTotal.WithLabelValues(string(types.RunStateFailed)).Inc()
		d.logger.Error("Bar series rejected", zap.Error(err))
		return nil, err
	}

	var (
		pending *types.OrderIntent
		peak    = d.cfg.InitialCapital
		curve   = make([]types.EquityPoint, 0, len(bars))
	)

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			d.setState(types.RunStateFailed)
			runsTotal.WithLabelValues(string(types.RunStateFailed)).Inc()
			return nil, err
		}

		if pending != nil && pending.ExecutionBar == i {
			d.execute(*pending, bar, result)
			pending = nil
		}

		if d.cfg.ForceCloseAtEnd && i == len(bars)-1 && !d.ledger.Position().IsZero() {
			d.forceClose(i, bar, result)
		}

		equity := d.ledger.Equity(bar.Close)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		var drawdown decimal.Decimal
		if !peak.IsZero() {
			drawdown = peak.Sub(equity).Div(peak)
		}
		curve = append(curve, types.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    equity,
			Cash:      d.ledger.Cash(),
			Position:  d.ledger.Position(),
			Drawdown:  drawdown,
		})

		signal := d.generator.NextSignal(bars[:i+1])
		if signal.Kind != types.SignalHold && i+1 < len(bars) {
			pending = d.buildIntent(signal, bar)
		}

		barsProcessedTotal.Inc()
		result.BarsProcessed = i + 1
		if (i+1)%progressEvery == 0 {
			d.publishProgress(result, len(bars), bar.Timestamp, equity)
		}
	}

	calc := NewMetricsCalculator(d.cfg.InitialCapital, d.cfg.AnnualizationFactor)
	report := calc.Calculate(curve, result.Trades)
	report.TotalCommission = d.ledger.TotalCommission()
	report.RealizedPnL = d.ledger.RealizedPnL()

	result.Report = report
	result.EquityCurve = curve
	result.State = types.RunStateCompleted
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(started)

	d.setState(types.RunStateCompleted)
	runsTotal.WithLabelValues(string(types.RunStateCompleted)).Inc()
	if len(bars) > 0 {
		d.publishProgress(result, len(bars), bars[len(bars)-1].Timestamp, report.FinalEquity)
	}
	d.logger.Info("Run completed",
		zap.String("run", result.ID),
		zap.String("strategy", d.generator.Name()),
		zap.Int("bars", result.BarsProcessed),
		zap.Int("trades", report.TotalTrades),
		zap.String("finalEquity", report.FinalEquity.String()))
	return result, nil
}

// buildIntent sizes the order for a non-hold signal. Entries commit a fixed
// fraction of cash (longs) or equity (shorts) at the signal bar's close,
// floored to whole shares. An entry against an open opposite position sizes
// the combined reversing quantity; the reversal policy is enforced at
// execution time.
func (d *Driver) buildIntent(signal types.Signal, bar types.Bar) *types.OrderIntent {
	position := d.ledger.Position()
	close := bar.Close

	var direction types.Direction
	var quantity decimal.Decimal

	switch signal.Kind {
	case types.SignalExit:
		if position.IsZero() {
			return nil
		}
		quantity = position.Abs()
		if position.Sign() > 0 {
			direction = types.DirectionSell
		} else {
			direction = types.DirectionBuy
		}
	case types.SignalLongEntry:
		if position.Sign() > 0 {
			return nil
		}
		direction = types.DirectionBuy
		quantity = d.ledger.Cash().Mul(d.cfg.Sizing.CapitalFraction).Div(close).Floor()
		quantity = quantity.Add(position.Abs())
	case types.SignalShortEntry:
		if position.Sign() < 0 {
			return nil
		}
		direction = types.DirectionSell
		quantity = d.ledger.Equity(close).Mul(d.cfg.Sizing.CapitalFraction).Div(close).Floor()
		quantity = quantity.Add(position.Abs())
	default:
		return nil
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return &types.OrderIntent{
		ID:           uuid.New().String(),
		Direction:    direction,
		Quantity:     quantity,
		SignalBar:    signal.BarIndex,
		ExecutionBar: signal.BarIndex + 1,
		Reason:       signal.Reason,
	}
}

// execute evaluates a pending intent on its execution bar and books the
// result. A fill that would take the position through zero is split into a
// closing fill and an opening fill at the same price, or rejected outright,
// per the configured reversal policy.
func (d *Driver) execute(intent types.OrderIntent, bar types.Bar, result *types.BacktestResult) {
	position := d.ledger.Position()
	reversing := !position.IsZero() &&
		position.Sign() != directionSign(intent.Direction) &&
		intent.Quantity.GreaterThan(position.Abs())

	if reversing && d.cfg.ReversalPolicy == types.ReversalReject {
		fill := types.Fill{
			IntentID:  intent.ID,
			Timestamp: bar.Timestamp,
			Direction: intent.Direction,
			Status:    types.FillStatusNone,
			Requested: intent.Quantity,
			Reason:    "reversal_rejected",
		}
		d.record(result, intent, fill)
		return
	}

	fill := d.simulator.Evaluate(intent, bar)
	if fill.Status == types.FillStatusNone {
		d.record(result, intent, fill)
		return
	}

	if reversing && fill.Filled.GreaterThan(position.Abs()) {
		closing, opening := splitReversal(fill, position.Abs())
		d.apply(result, intent, closing)
		d.apply(result, intent, opening)
		return
	}
	d.apply(result, intent, fill)
}

// splitReversal divides a reversing fill into a closing leg and an opening
// leg at the same price. The commission is charged once for the combined
// fill and split pro rata by quantity, so the legs sum to the original.
func splitReversal(fill types.Fill, closeQty decimal.Decimal) (types.Fill, types.Fill) {
	closing := fill
	opening := fill

	closing.Filled = closeQty
	closing.Requested = closeQty
	opening.Filled = fill.Filled.Sub(closeQty)
	opening.Requested = fill.Requested.Sub(closeQty)
	opening.Reason = "reversal_open"
	closing.Reason = "reversal_close"

	ratio := closing.Filled.Div(fill.Filled)
	variable := fill.Commission // includes the fixed part once
	closing.Commission = variable.Mul(ratio)
	opening.Commission = variable.Sub(closing.Commission)
	return closing, opening
}

func (d *Driver) apply(result *types.BacktestResult, intent types.OrderIntent, fill types.Fill) {
	d.record(result, intent, fill)
	_, trade, err := d.ledger.Apply(fill)
	if err != nil {
		// sizing guards upstream make this unreachable; log and drop
		d.logger.Error("Ledger rejected fill", zap.Error(err), zap.String("intent", intent.ID))
		return
	}
	if trade != nil {
		result.Trades = append(result.Trades, *trade)
		tradesClosedTotal.Inc()
	}
}

func (d *Driver) record(result *types.BacktestResult, intent types.OrderIntent, fill types.Fill) {
	result.Executions = append(result.Executions, types.ExecutionRecord{Intent: intent, Fill: fill})
	fillsTotal.WithLabelValues(string(fill.Status)).Inc()
}

// forceClose flattens the open position at the final bar's close. No
// slippage is charged; the close is the last observable price, not a quote
// we cross.
func (d *Driver) forceClose(barIndex int, bar types.Bar, result *types.BacktestResult) {
	position := d.ledger.Position()
	direction := types.DirectionSell
	if position.Sign() < 0 {
		direction = types.DirectionBuy
	}
	quantity := position.Abs()
	intent := types.OrderIntent{
		ID:           uuid.New().String(),
		Direction:    direction,
		Quantity:     quantity,
		SignalBar:    barIndex,
		ExecutionBar: barIndex,
		Reason:       "end_of_data",
	}
	notional := bar.Close.Mul(quantity)
	fill := types.Fill{
		IntentID:   intent.ID,
		Timestamp:  bar.Timestamp,
		Direction:  direction,
		Status:     types.FillStatusFull,
		Requested:  quantity,
		Filled:     quantity,
		Price:      bar.Close,
		Commission: d.cfg.Commission.Fixed.Add(d.cfg.Commission.Rate.Mul(notional)),
		Reason:     "end_of_data",
	}
	d.apply(result, intent, fill)
}

func (d *Driver) publishProgress(result *types.BacktestResult, totalBars int, current time.Time, equity decimal.Decimal) {
	snapshot := types.RunProgress{
		ID:            result.ID,
		State:         d.State(),
		BarsProcessed: result.BarsProcessed,
		TotalBars:     totalBars,
		CurrentTime:   current,
		TradesClosed:  len(result.Trades),
		CurrentEquity: equity,
	}
	select {
	case d.progress <- snapshot:
	default:
	}
}

func directionSign(dir types.Direction) int {
	if dir == types.DirectionBuy {
		return 1
	}
	return -1
}
