package strategy

import (
	"github.com/meridianquant/backtest-engine/pkg/types"
)

// momentumBreakout enters in the direction of a lookback price change that
// clears the momentum threshold on above-baseline volume, and exits when
// momentum swings past the threshold the other way.
type momentumBreakout struct {
	params types.MomentumBreakoutParams

	state      positionState
	entryPrice float64
}

func newMomentumBreakout(params types.MomentumBreakoutParams) *momentumBreakout {
	return &momentumBreakout{params: params}
}

func (s *momentumBreakout) Name() string { return string(types.VariantMomentumBreakout) }

func (s *momentumBreakout) NextSignal(history []types.Bar) types.Signal {
	if len(history) == 0 {
		return types.Signal{Kind: types.SignalHold}
	}
	if newSession(history) && s.state != flat {
		s.state = flat
		return signalAt(history, types.SignalExit, "session_end", nil)
	}
	if len(history) < s.params.Lookback+1 {
		return hold(history)
	}

	n := len(history)
	close := history[n-1].Close.InexactFloat64()
	ref := history[n-1-s.params.Lookback].Close.InexactFloat64()
	momentum := (close - ref) / ref

	indicators := map[string]float64{"momentum": momentum}

	if s.state != flat {
		return s.manageOpen(history, close, momentum, indicators)
	}

	baseline := meanVolume(history, s.params.VolumeLookback)
	volume := history[n-1].Volume.InexactFloat64()
	if baseline <= 0 || volume < baseline*s.params.VolumeMultiplier {
		return hold(history)
	}
	indicators["volume"] = volume
	indicators["volume_baseline"] = baseline

	if momentum > s.params.MomentumThreshold {
		s.state = long
		s.entryPrice = close
		return signalAt(history, types.SignalLongEntry, "momentum_up", indicators)
	}
	if momentum < -s.params.MomentumThreshold {
		s.state = short
		s.entryPrice = close
		return signalAt(history, types.SignalShortEntry, "momentum_down", indicators)
	}
	return hold(history)
}

func (s *momentumBreakout) manageOpen(history []types.Bar, close, momentum float64, indicators map[string]float64) types.Signal {
	var pnlPct float64
	if s.state == long {
		pnlPct = (close - s.entryPrice) / s.entryPrice
	} else {
		pnlPct = (s.entryPrice - close) / s.entryPrice
	}
	indicators["entry_price"] = s.entryPrice
	indicators["pnl_pct"] = pnlPct

	reversed := (s.state == long && momentum < -s.params.MomentumThreshold) ||
		(s.state == short && momentum > s.params.MomentumThreshold)

	switch {
	case pnlPct >= s.params.ProfitTargetPct:
		s.state = flat
		return signalAt(history, types.SignalExit, "profit_target", indicators)
	case pnlPct <= -s.params.StopLossPct:
		s.state = flat
		return signalAt(history, types.SignalExit, "stop_loss", indicators)
	case reversed:
		s.state = flat
		return signalAt(history, types.SignalExit, "momentum_reversal", indicators)
	}
	return hold(history)
}
