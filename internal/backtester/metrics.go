package backtester

import (
	"math"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MetricsCalculator turns an equity curve and trade list into a performance
// report. Ratio statistics use float64; money stays decimal. Ratios that are
// undefined on the input (zero return variance, no closed trades, no losing
// trades) come back as null rather than zero.
type MetricsCalculator struct {
	initialCapital decimal.Decimal
	annualization  float64
}

func NewMetricsCalculator(initialCapital decimal.Decimal, annualization float64) *MetricsCalculator {
	return &MetricsCalculator{initialCapital: initialCapital, annualization: annualization}
}

func (m *MetricsCalculator) Calculate(curve []types.EquityPoint, trades []types.TradeRecord) *types.PerformanceReport {
	report := &types.PerformanceReport{
		InitialCapital: m.initialCapital,
		FinalEquity:    m.initialCapital,
	}
	if len(curve) > 0 {
		report.FinalEquity = curve[len(curve)-1].Equity
	}
	if !m.initialCapital.IsZero() {
		report.TotalReturn = report.FinalEquity.Sub(m.initialCapital).Div(m.initialCapital)
	}

	returns := barReturns(curve)
	report.SharpeRatio = m.sharpe(returns)
	report.SortinoRatio = m.sortino(returns)
	report.MaxDrawdown, report.MaxDrawdownTime = maxDrawdown(curve)
	report.Exposure = exposure(curve)
	m.tradeStats(report, trades)
	return report
}

// barReturns computes simple per-bar returns over the equity curve.
func barReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i].Equity.InexactFloat64()-prev)/prev)
	}
	return out
}

// sharpe annualizes mean/stdev of per-bar returns. Sample standard
// deviation; undefined when the return series has no variance.
func (m *MetricsCalculator) sharpe(returns []float64) decimal.NullDecimal {
	if len(returns) < 2 {
		return decimal.NullDecimal{}
	}
	sd := stdDev(returns)
	if sd == 0 {
		return decimal.NullDecimal{}
	}
	ratio := mean(returns) / sd * math.Sqrt(m.annualization)
	return decimal.NewNullDecimal(decimal.NewFromFloat(ratio))
}

// sortino penalizes only downside variance.
func (m *MetricsCalculator) sortino(returns []float64) decimal.NullDecimal {
	if len(returns) < 2 {
		return decimal.NullDecimal{}
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	sd := stdDev(downside)
	if sd == 0 {
		return decimal.NullDecimal{}
	}
	ratio := mean(returns) / sd * math.Sqrt(m.annualization)
	return decimal.NewNullDecimal(decimal.NewFromFloat(ratio))
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction of
// the peak, with the timestamp of the trough.
func maxDrawdown(curve []types.EquityPoint) (decimal.Decimal, time.Time) {
	var peak, maxDD decimal.Decimal
	var at time.Time
	for _, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(point.Equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			at = point.Timestamp
		}
	}
	return maxDD, at
}

// exposure is the fraction of bars with an open position.
func exposure(curve []types.EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}
	open := 0
	for _, point := range curve {
		if !point.Position.IsZero() {
			open++
		}
	}
	return decimal.NewFromInt(int64(open)).Div(decimal.NewFromInt(int64(len(curve))))
}

func (m *MetricsCalculator) tradeStats(report *types.PerformanceReport, trades []types.TradeRecord) {
	report.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var holding time.Duration
	for _, trade := range trades {
		holding += trade.HoldingTime
		switch trade.NetPnL.Sign() {
		case 1:
			report.WinningTrades++
			report.GrossProfit = report.GrossProfit.Add(trade.NetPnL)
			if trade.NetPnL.GreaterThan(report.LargestWin) {
				report.LargestWin = trade.NetPnL
			}
		case -1:
			report.LosingTrades++
			report.GrossLoss = report.GrossLoss.Add(trade.NetPnL)
			if trade.NetPnL.LessThan(report.LargestLoss) {
				report.LargestLoss = trade.NetPnL
			}
		}
	}
	report.AvgHoldingTime = holding / time.Duration(len(trades))

	total := decimal.NewFromInt(int64(len(trades)))
	report.WinRate = decimal.NewNullDecimal(decimal.NewFromInt(int64(report.WinningTrades)).Div(total))
	if report.WinningTrades > 0 {
		report.AvgWin = report.GrossProfit.Div(decimal.NewFromInt(int64(report.WinningTrades)))
	}
	if report.LosingTrades > 0 {
		report.AvgLoss = report.GrossLoss.Div(decimal.NewFromInt(int64(report.LosingTrades)))
		report.ProfitFactor = decimal.NewNullDecimal(report.GrossProfit.Div(report.GrossLoss.Abs()))
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
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
