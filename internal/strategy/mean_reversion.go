package strategy

import (
	"github.com/meridianquant/backtest-engine/pkg/types"
)

// meanReversion fades moves outside a Bollinger band, with an RSI gate so
// that only stretched moves are faded. Positions exit on reversion to the
// band midline, stop-loss, or profit target.
type meanReversion struct {
	params types.MeanReversionParams

	state          positionState
	entryPrice     float64
	sessionEntries int
}

func newMeanReversion(params types.MeanReversionParams) *meanReversion {
	return &meanReversion{params: params}
}

func (s *meanReversion) Name() string { return string(types.VariantMeanReversion) }

func (s *meanReversion) NextSignal(history []types.Bar) types.Signal {
	if len(history) == 0 {
		return types.Signal{Kind: types.SignalHold}
	}
	rollover := newSession(history)
	if rollover {
		s.sessionEntries = 0
	}
	if rollover && s.state != flat {
		s.state = flat
		return signalAt(history, types.SignalExit, "session_end", nil)
	}
	if len(history) < s.params.Lookback {
		return hold(history)
	}

	cs := closes(history, s.params.Lookback)
	mid := mean(cs)
	sd := stdDev(cs)
	upper := mid + s.params.BandWidth*sd
	lower := mid - s.params.BandWidth*sd
	close := history[len(history)-1].Close.InexactFloat64()
	strength := rsi(history, s.params.RSIPeriod)

	indicators := map[string]float64{
		"band_mid":   mid,
		"band_upper": upper,
		"band_lower": lower,
		"rsi":        strength,
	}

	if s.state != flat {
		return s.manageOpen(history, close, mid, indicators)
	}
	if sd == 0 || s.sessionEntries >= s.params.MaxEntriesPerSession {
		return hold(history)
	}

	if close <= lower && strength < s.params.RSIOversold {
		s.state = long
		s.entryPrice = close
		s.sessionEntries++
		return signalAt(history, types.SignalLongEntry, "below_lower_band", indicators)
	}
	if close >= upper && strength > s.params.RSIOverbought {
		s.state = short
		s.entryPrice = close
		s.sessionEntries++
		return signalAt(history, types.SignalShortEntry, "above_upper_band", indicators)
	}
	return hold(history)
}

func (s *meanReversion) manageOpen(history []types.Bar, close, mid float64, indicators map[string]float64) types.Signal {
	var pnlPct float64
	if s.state == long {
		pnlPct = (close - s.entryPrice) / s.entryPrice
	} else {
		pnlPct = (s.entryPrice - close) / s.entryPrice
	}
	indicators["entry_price"] = s.entryPrice
	indicators["pnl_pct"] = pnlPct

	switch {
	case pnlPct >= s.params.ProfitTargetPct:
		s.state = flat
		return signalAt(history, types.SignalExit, "profit_target", indicators)
	case pnlPct <= -s.params.StopLossPct:
		s.state = flat
		return signalAt(history, types.SignalExit, "stop_loss", indicators)
	case s.state == long && close >= mid:
		s.state = flat
		return signalAt(history, types.SignalExit, "midline_reversion", indicators)
	case s.state == short && close <= mid:
		s.state = flat
		return signalAt(history, types.SignalExit, "midline_reversion", indicators)
	}
	return hold(history)
}
