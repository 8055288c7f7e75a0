// Package types provides configuration types for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyVariant tags one of the closed set of built-in strategies.
type StrategyVariant string

const (
	VariantOpeningMomentum  StrategyVariant = "opening_momentum"
	VariantMeanReversion    StrategyVariant = "mean_reversion"
	VariantMomentumBreakout StrategyVariant = "momentum_breakout"
)

// ReversalPolicy controls what happens when an entry signal opposes an open
// position.
type ReversalPolicy string

const (
	// ReversalCloseThenOpen splits the reversing intent into a closing fill
	// and an opening fill at the same execution price.
	ReversalCloseThenOpen ReversalPolicy = "close_then_open"
	// ReversalReject drops the reversing intent with a none fill; the
	// strategy must go flat before re-entering.
	ReversalReject ReversalPolicy = "reject"
)

// SpreadModel selects how synthetic bid/ask quotes are derived from closes.
type SpreadModel string

const (
	SpreadModelFraction  SpreadModel = "fraction"   // spread = close * fraction
	SpreadModelFixedTick SpreadModel = "fixed_tick" // spread = fixed price increment
)

// BacktestConfig is the full parameterization of a single run. Each run is
// constructed from its own config; nothing is selected through ambient state.
type BacktestConfig struct {
	ID              string          `json:"id" mapstructure:"id"`
	Symbol          string          `json:"symbol" mapstructure:"symbol"`
	InitialCapital  decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`
	Strategy        StrategyConfig  `json:"strategy" mapstructure:"strategy"`
	Spread          SpreadConfig    `json:"spread" mapstructure:"spread"`
	Execution       ExecutionConfig `json:"execution" mapstructure:"execution"`
	Commission      CommissionConfig `json:"commission" mapstructure:"commission"`
	Sizing          SizingConfig    `json:"sizing" mapstructure:"sizing"`
	ForceCloseAtEnd bool            `json:"forceCloseAtEnd" mapstructure:"force_close_at_end"`
	ReversalPolicy  ReversalPolicy  `json:"reversalPolicy" mapstructure:"reversal_policy"`
	// AnnualizationFactor is the bars-per-year count used to annualize
	// Sharpe and Sortino (e.g. 98280 for minute bars over 252 sessions).
	AnnualizationFactor float64 `json:"annualizationFactor" mapstructure:"annualization_factor"`
}

// StrategyConfig selects the active variant and carries per-variant
// parameters. Only the block matching Variant is consulted.
type StrategyConfig struct {
	Variant          StrategyVariant        `json:"variant" mapstructure:"variant"`
	OpeningMomentum  OpeningMomentumParams  `json:"openingMomentum" mapstructure:"opening_momentum"`
	MeanReversion    MeanReversionParams    `json:"meanReversion" mapstructure:"mean_reversion"`
	MomentumBreakout MomentumBreakoutParams `json:"momentumBreakout" mapstructure:"momentum_breakout"`
}

// OpeningMomentumParams configures the opening-range breakout strategy.
type OpeningMomentumParams struct {
	OpeningRangeBars  int     `json:"openingRangeBars" mapstructure:"opening_range_bars"`
	EntryWindowBars   int     `json:"entryWindowBars" mapstructure:"entry_window_bars"`
	VolumeLookback    int     `json:"volumeLookback" mapstructure:"volume_lookback"`
	VolumeMultiplier  float64 `json:"volumeMultiplier" mapstructure:"volume_multiplier"`
	BreakoutThreshold float64 `json:"breakoutThreshold" mapstructure:"breakout_threshold"`
	ProfitTargetPct   float64 `json:"profitTargetPct" mapstructure:"profit_target_pct"`
	StopLossPct       float64 `json:"stopLossPct" mapstructure:"stop_loss_pct"`
}

// MeanReversionParams configures the Bollinger-band reversion strategy.
type MeanReversionParams struct {
	Lookback             int     `json:"lookback" mapstructure:"lookback"`
	BandWidth            float64 `json:"bandWidth" mapstructure:"band_width"`
	RSIPeriod            int     `json:"rsiPeriod" mapstructure:"rsi_period"`
	RSIOversold          float64 `json:"rsiOversold" mapstructure:"rsi_oversold"`
	RSIOverbought        float64 `json:"rsiOverbought" mapstructure:"rsi_overbought"`
	ProfitTargetPct      float64 `json:"profitTargetPct" mapstructure:"profit_target_pct"`
	StopLossPct          float64 `json:"stopLossPct" mapstructure:"stop_loss_pct"`
	MaxEntriesPerSession int     `json:"maxEntriesPerSession" mapstructure:"max_entries_per_session"`
}

// MomentumBreakoutParams configures the short-lookback momentum strategy.
type MomentumBreakoutParams struct {
	Lookback          int     `json:"lookback" mapstructure:"lookback"`
	MomentumThreshold float64 `json:"momentumThreshold" mapstructure:"momentum_threshold"`
	VolumeLookback    int     `json:"volumeLookback" mapstructure:"volume_lookback"`
	VolumeMultiplier  float64 `json:"volumeMultiplier" mapstructure:"volume_multiplier"`
	ProfitTargetPct   float64 `json:"profitTargetPct" mapstructure:"profit_target_pct"`
	StopLossPct       float64 `json:"stopLossPct" mapstructure:"stop_loss_pct"`
}

// SpreadConfig controls synthetic bid/ask generation at load time.
type SpreadConfig struct {
	Model    SpreadModel     `json:"model" mapstructure:"model"`
	Fraction decimal.Decimal `json:"fraction" mapstructure:"fraction"`
	Tick     decimal.Decimal `json:"tick" mapstructure:"tick"`
}

// ExecutionConfig parameterizes the fill simulator.
type ExecutionConfig struct {
	// SlippageRate is the adverse price adjustment as a fraction of the
	// base quote.
	SlippageRate decimal.Decimal `json:"slippageRate" mapstructure:"slippage_rate"`
	// ScaleSlippageBySize multiplies slippage by (1 + requested/volume).
	ScaleSlippageBySize bool `json:"scaleSlippageBySize" mapstructure:"scale_slippage_by_size"`
	// LiquidityCapFraction caps fills at this fraction of bar volume.
	LiquidityCapFraction decimal.Decimal `json:"liquidityCapFraction" mapstructure:"liquidity_cap_fraction"`
	// MinFillQty is the floor below which an evaluation yields a none fill.
	MinFillQty decimal.Decimal `json:"minFillQty" mapstructure:"min_fill_qty"`
}

// CommissionConfig is the commission schedule: a fixed per-order fee plus a
// rate on notional.
type CommissionConfig struct {
	Fixed decimal.Decimal `json:"fixed" mapstructure:"fixed"`
	Rate  decimal.Decimal `json:"rate" mapstructure:"rate"`
}

// SizingConfig is the fixed-fractional position sizing rule.
type SizingConfig struct {
	// CapitalFraction of available cash (longs) or equity (shorts)
	// allocated to a new position.
	CapitalFraction decimal.Decimal `json:"capitalFraction" mapstructure:"capital_fraction"`
}

// ServerConfig configures the optional HTTP/WebSocket API.
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	EnableMetrics bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}

// DefaultServerConfig returns the API defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "127.0.0.1",
		Port:          8090,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		EnableMetrics: true,
	}
}

// DefaultConfig returns a config with the documented defaults: minute bars,
// close-then-open reversals, force-close at end of stream.
func DefaultConfig() *BacktestConfig {
	return &BacktestConfig{
		Symbol:         "AAPL",
		InitialCapital: decimal.NewFromInt(100000),
		Strategy: StrategyConfig{
			Variant: VariantOpeningMomentum,
			OpeningMomentum: OpeningMomentumParams{
				OpeningRangeBars:  30,
				EntryWindowBars:   120,
				VolumeLookback:    20,
				VolumeMultiplier:  1.5,
				BreakoutThreshold: 0.002,
				ProfitTargetPct:   0.01,
				StopLossPct:       0.005,
			},
			MeanReversion: MeanReversionParams{
				Lookback:             20,
				BandWidth:            2.0,
				RSIPeriod:            14,
				RSIOversold:          30,
				RSIOverbought:        70,
				ProfitTargetPct:      0.008,
				StopLossPct:          0.004,
				MaxEntriesPerSession: 3,
			},
			MomentumBreakout: MomentumBreakoutParams{
				Lookback:          10,
				MomentumThreshold: 0.003,
				VolumeLookback:    20,
				VolumeMultiplier:  1.5,
				ProfitTargetPct:   0.008,
				StopLossPct:       0.004,
			},
		},
		Spread: SpreadConfig{
			Model:    SpreadModelFraction,
			Fraction: decimal.NewFromFloat(0.0002),
		},
		Execution: ExecutionConfig{
			SlippageRate:         decimal.NewFromFloat(0.001),
			ScaleSlippageBySize:  false,
			LiquidityCapFraction: decimal.NewFromFloat(0.5),
			MinFillQty:           decimal.NewFromInt(1),
		},
		Commission: CommissionConfig{
			Fixed: decimal.Zero,
			Rate:  decimal.NewFromFloat(0.001),
		},
		Sizing: SizingConfig{
			CapitalFraction: decimal.NewFromFloat(0.95),
		},
		ForceCloseAtEnd: true,
		ReversalPolicy:  ReversalCloseThenOpen,
		// 390 minute bars per session, 252 sessions per year.
		AnnualizationFactor: 390 * 252,
	}
}
