package strategy

import (
	"github.com/meridianquant/backtest-engine/pkg/types"
)

// openingMomentum trades breakouts of the opening range. The range is the
// high/low of the first openingRangeBars bars of each session; entries are
// taken only inside the post-range entry window, and only when the breakout
// bar carries above-baseline volume.
type openingMomentum struct {
	params types.OpeningMomentumParams

	state      positionState
	entryPrice float64

	rangeHigh   float64
	rangeLow    float64
	rangeSet    bool
	sessionBars int
	tradedLong  bool
	tradedShort bool
}

func newOpeningMomentum(params types.OpeningMomentumParams) *openingMomentum {
	return &openingMomentum{params: params}
}

func (s *openingMomentum) Name() string { return string(types.VariantOpeningMomentum) }

func (s *openingMomentum) resetSession() {
	s.rangeHigh = 0
	s.rangeLow = 0
	s.rangeSet = false
	s.sessionBars = 0
	s.tradedLong = false
	s.tradedShort = false
}

func (s *openingMomentum) NextSignal(history []types.Bar) types.Signal {
	if len(history) == 0 {
		return types.Signal{Kind: types.SignalHold}
	}
	bar := history[len(history)-1]
	rollover := newSession(history)
	if len(history) == 1 || rollover {
		s.resetSession()
	}
	s.sessionBars++

	// Close out anything carried past the session boundary first.
	if rollover && s.state != flat {
		s.state = flat
		return signalAt(history, types.SignalExit, "session_end", nil)
	}

	high := bar.High.InexactFloat64()
	low := bar.Low.InexactFloat64()
	close := bar.Close.InexactFloat64()

	if s.sessionBars <= s.params.OpeningRangeBars {
		if !s.rangeSet || high > s.rangeHigh {
			s.rangeHigh = high
		}
		if !s.rangeSet || low < s.rangeLow {
			s.rangeLow = low
		}
		s.rangeSet = true
		return hold(history)
	}

	if s.state != flat {
		return s.manageOpen(history, close)
	}

	inWindow := s.sessionBars <= s.params.OpeningRangeBars+s.params.EntryWindowBars
	if !inWindow || !s.rangeSet {
		return hold(history)
	}

	baseline := meanVolume(history, s.params.VolumeLookback)
	volume := bar.Volume.InexactFloat64()
	if baseline <= 0 || volume < baseline*s.params.VolumeMultiplier {
		return hold(history)
	}

	indicators := map[string]float64{
		"range_high":      s.rangeHigh,
		"range_low":       s.rangeLow,
		"volume":          volume,
		"volume_baseline": baseline,
	}
	if !s.tradedLong && close > s.rangeHigh*(1+s.params.BreakoutThreshold) {
		s.state = long
		s.entryPrice = close
		s.tradedLong = true
		return signalAt(history, types.SignalLongEntry, "range_breakout_up", indicators)
	}
	if !s.tradedShort && close < s.rangeLow*(1-s.params.BreakoutThreshold) {
		s.state = short
		s.entryPrice = close
		s.tradedShort = true
		return signalAt(history, types.SignalShortEntry, "range_breakout_down", indicators)
	}
	return hold(history)
}

func (s *openingMomentum) manageOpen(history []types.Bar, close float64) types.Signal {
	var pnlPct float64
	if s.state == long {
		pnlPct = (close - s.entryPrice) / s.entryPrice
	} else {
		pnlPct = (s.entryPrice - close) / s.entryPrice
	}
	indicators := map[string]float64{"entry_price": s.entryPrice, "pnl_pct": pnlPct}

	switch {
	case pnlPct >= s.params.ProfitTargetPct:
		s.state = flat
		return signalAt(history, types.SignalExit, "profit_target", indicators)
	case pnlPct <= -s.params.StopLossPct:
		s.state = flat
		return signalAt(history, types.SignalExit, "stop_loss", indicators)
	case s.state == long && close < s.rangeLow:
		s.state = flat
		return signalAt(history, types.SignalExit, "opposite_range_breach", indicators)
	case s.state == short && close > s.rangeHigh:
		s.state = flat
		return signalAt(history, types.SignalExit, "opposite_range_breach", indicators)
	}
	return hold(history)
}
