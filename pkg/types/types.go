// Package types provides shared type definitions for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of an order intent or fill.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// SignalKind is the decision a strategy emits for a bar.
type SignalKind string

const (
	SignalHold       SignalKind = "hold"
	SignalLongEntry  SignalKind = "long_entry"
	SignalShortEntry SignalKind = "short_entry"
	SignalExit       SignalKind = "exit"
)

// FillStatus represents the outcome of evaluating an order intent.
type FillStatus string

const (
	FillStatusFull    FillStatus = "full"
	FillStatusPartial FillStatus = "partial"
	FillStatusNone    FillStatus = "none"
)

// RunState is the lifecycle state of a backtest run.
type RunState string

const (
	RunStateNotStarted RunState = "not_started"
	RunStateRunning    RunState = "running"
	RunStateCompleted  RunState = "completed"
	RunStateFailed     RunState = "failed"
)

// Bar is one aggregated OHLCV quote plus synthetic bid/ask. Bars are
// immutable once constructed; the engine never writes to them.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
}

// Mid returns the bid/ask midpoint, falling back to the close when no
// synthetic quotes were attached.
func (b Bar) Mid() decimal.Decimal {
	if b.Bid.IsZero() || b.Ask.IsZero() {
		return b.Close
	}
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

// Signal is a strategy decision for a single bar, tagged with the indicator
// snapshot that produced it for auditability.
type Signal struct {
	Kind       SignalKind         `json:"kind"`
	BarIndex   int                `json:"barIndex"`
	Timestamp  time.Time          `json:"timestamp"`
	Reason     string             `json:"reason,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// OrderIntent is derived from a non-hold signal. It must be evaluated
// strictly on the bar after the signal bar and is never retried.
type OrderIntent struct {
	ID           string          `json:"id"`
	Direction    Direction       `json:"direction"`
	Quantity     decimal.Decimal `json:"quantity"`
	SignalBar    int             `json:"signalBar"`
	ExecutionBar int             `json:"executionBar"`
	Reason       string          `json:"reason,omitempty"`
}

// Fill is the simulated execution result of an order intent.
type Fill struct {
	IntentID   string          `json:"intentId"`
	Timestamp  time.Time       `json:"timestamp"`
	Direction  Direction       `json:"direction"`
	Status     FillStatus      `json:"status"`
	Requested  decimal.Decimal `json:"requested"`
	Filled     decimal.Decimal `json:"filled"`
	Price      decimal.Decimal `json:"price"`
	Slippage   decimal.Decimal `json:"slippage"` // per-share adverse adjustment
	Commission decimal.Decimal `json:"commission"`
	Reason     string          `json:"reason,omitempty"`
}

// ExecutionRecord pairs an evaluated intent with its fill in the audit log.
// None fills are recorded like any other evaluation.
type ExecutionRecord struct {
	Intent OrderIntent `json:"intent"`
	Fill   Fill        `json:"fill"`
}

// TradeRecord is a closed round trip, created when a position fully closes
// and immutable afterwards.
type TradeRecord struct {
	ID          string          `json:"id"`
	Direction   Direction       `json:"direction"` // direction of the opening fill(s)
	EntryTime   time.Time       `json:"entryTime"`
	ExitTime    time.Time       `json:"exitTime"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	Quantity    decimal.Decimal `json:"quantity"`
	GrossPnL    decimal.Decimal `json:"grossPnl"`
	Commission  decimal.Decimal `json:"commission"`
	NetPnL      decimal.Decimal `json:"netPnl"`
	HoldingTime time.Duration   `json:"holdingTime"`
}

// EquityPoint is one append-only snapshot of the equity curve.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Position  decimal.Decimal `json:"position"` // signed quantity
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// PerformanceReport summarizes a finished run. Ratios with a zero
// denominator are reported as null, never as a fault.
type PerformanceReport struct {
	InitialCapital  decimal.Decimal     `json:"initialCapital"`
	FinalEquity     decimal.Decimal     `json:"finalEquity"`
	TotalReturn     decimal.Decimal     `json:"totalReturn"`
	SharpeRatio     decimal.NullDecimal `json:"sharpeRatio"`
	SortinoRatio    decimal.NullDecimal `json:"sortinoRatio"`
	MaxDrawdown     decimal.Decimal     `json:"maxDrawdown"`
	MaxDrawdownTime time.Time           `json:"maxDrawdownTime"`
	WinRate         decimal.NullDecimal `json:"winRate"`
	ProfitFactor    decimal.NullDecimal `json:"profitFactor"`
	Exposure        decimal.Decimal     `json:"exposure"`
	TotalTrades     int                 `json:"totalTrades"`
	WinningTrades   int                 `json:"winningTrades"`
	LosingTrades    int                 `json:"losingTrades"`
	GrossProfit     decimal.Decimal     `json:"grossProfit"`
	GrossLoss       decimal.Decimal     `json:"grossLoss"`
	AvgWin          decimal.Decimal     `json:"avgWin"`
	AvgLoss         decimal.Decimal     `json:"avgLoss"`
	LargestWin      decimal.Decimal     `json:"largestWin"`
	LargestLoss     decimal.Decimal     `json:"largestLoss"`
	AvgHoldingTime  time.Duration       `json:"avgHoldingTime"`
	TotalCommission decimal.Decimal     `json:"totalCommission"`
	RealizedPnL     decimal.Decimal     `json:"realizedPnl"`
}

// BacktestResult is everything a finished run produces: plain serializable
// data suitable for report generation or chart rendering by collaborators
// outside the engine.
type BacktestResult struct {
	ID            string             `json:"id"`
	Config        *BacktestConfig    `json:"config"`
	State         RunState           `json:"state"`
	Report        *PerformanceReport `json:"report"`
	EquityCurve   []EquityPoint      `json:"equityCurve"`
	Trades        []TradeRecord      `json:"trades"`
	Executions    []ExecutionRecord  `json:"executions"`
	StartedAt     time.Time          `json:"startedAt"`
	CompletedAt   time.Time          `json:"completedAt"`
	Duration      time.Duration      `json:"duration"`
	BarsProcessed int                `json:"barsProcessed"`
}

// RunProgress is a point-in-time snapshot of a running backtest.
type RunProgress struct {
	ID            string          `json:"id"`
	State         RunState        `json:"state"`
	BarsProcessed int             `json:"barsProcessed"`
	TotalBars     int             `json:"totalBars"`
	CurrentTime   time.Time       `json:"currentTime"`
	TradesClosed  int             `json:"tradesClosed"`
	CurrentEquity decimal.Decimal `json:"currentEquity"`
}
