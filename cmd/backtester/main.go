// Package main provides the backtester command line entry point: load a
// minute-bar CSV, run one or all strategies over it, write the reports, and
// optionally serve the results over HTTP/WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/meridianquant/backtest-engine/internal/api"
	"github.com/meridianquant/backtest-engine/internal/backtester"
	"github.com/meridianquant/backtest-engine/internal/data"
	"github.com/meridianquant/backtest-engine/internal/report"
	"github.com/meridianquant/backtest-engine/internal/strategy"
	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	barsPath := flag.String("bars", "", "Minute bar CSV file (required)")
	configPath := flag.String("config", "", "Config file (YAML or JSON)")
	variant := flag.String("strategy", "", "Strategy variant, or 'all' to compare every variant")
	interval := flag.Duration("interval", time.Minute, "Resample bars to this interval before running")
	outDir := flag.String("out", ".", "Output directory for reports")
	serve := flag.Bool("serve", false, "Serve results over HTTP after the run")
	host := flag.String("host", "127.0.0.1", "API server host")
	port := flag.Int("port", 8090, "API server port")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *barsPath == "" {
		logger.Fatal("Missing required -bars flag")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *variant != "" && *variant != "all" {
		cfg.Strategy.Variant = types.StrategyVariant(*variant)
	}

	bars, err := data.LoadCSV(*barsPath)
	if err != nil {
		logger.Fatal("Failed to load bars", zap.Error(err))
	}
	bars = data.Resample(bars, *interval)
	bars = data.SynthesizeQuotes(bars, cfg.Spread)
	logger.Info("Loaded bar series",
		zap.String("file", *barsPath),
		zap.Int("bars", len(bars)),
		zap.Duration("interval", *interval))

	variants := []types.StrategyVariant{cfg.Strategy.Variant}
	if *variant == "all" {
		variants = strategy.Variants()
	}

	results := runAll(logger, cfg, variants, bars)
	if len(results) == 0 {
		logger.Fatal("No runs completed")
	}

	for v, result := range results {
		if err := writeReports(*outDir, v, result); err != nil {
			logger.Error("Failed to write reports", zap.String("strategy", string(v)), zap.Error(err))
		}
		summarize(logger, v, result)
	}

	if !*serve {
		return
	}

	serverCfg := types.DefaultServerConfig()
	serverCfg.Host = *host
	serverCfg.Port = *port
	server := api.NewServer(logger, serverCfg, bars)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()
	logger.Info("Serving results",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)))

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
}

// runAll executes one driver per variant. Drivers share nothing, so the
// comparison runs concurrently.
func runAll(logger *zap.Logger, base *types.BacktestConfig, variants []types.StrategyVariant, bars []types.Bar) map[types.StrategyVariant]*types.BacktestResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[types.StrategyVariant]*types.BacktestResult, len(variants))
	)
	for _, v := range variants {
		wg.Add(1)
		go func(v types.StrategyVariant) {
			defer wg.Done()

			cfg := *base
			cfg.ID = ""
			cfg.Strategy.Variant = v
			gen, err := strategy.New(cfg.Strategy)
			if err != nil {
				logger.Error("Skipping variant", zap.String("strategy", string(v)), zap.Error(err))
				return
			}

			result, err := backtester.NewDriver(&cfg, gen, logger).Run(context.Background(), bars)
			if err != nil {
				logger.Error("Run failed", zap.String("strategy", string(v)), zap.Error(err))
				return
			}
			mu.Lock()
			results[v] = result
			mu.Unlock()
		}(v)
	}
	wg.Wait()
	return results
}

func writeReports(dir string, v types.StrategyVariant, result *types.BacktestResult) error {
	prefix := filepath.Join(dir, string(v))
	if err := report.WriteTradesFile(prefix+"_trades.csv", result.Trades); err != nil {
		return err
	}
	return report.WriteResultFile(prefix+"_result.json", result)
}

func summarize(logger *zap.Logger, v types.StrategyVariant, result *types.BacktestResult) {
	rep := result.Report
	sharpe := "null"
	if rep.SharpeRatio.Valid {
		sharpe = rep.SharpeRatio.Decimal.StringFixed(3)
	}
	logger.Info("Run summary",
		zap.String("strategy", string(v)),
		zap.Int("trades", rep.TotalTrades),
		zap.String("finalEquity", rep.FinalEquity.String()),
		zap.String("totalReturn", rep.TotalReturn.StringFixed(4)),
		zap.String("sharpe", sharpe),
		zap.String("maxDrawdown", rep.MaxDrawdown.StringFixed(4)),
		zap.Duration("elapsed", result.Duration))
}

// loadConfig layers an optional config file over the defaults.
func loadConfig(path string) (*types.BacktestConfig, error) {
	cfg := types.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// decimalDecodeHook lets config files write money and rate fields as plain
// numbers or strings.
func decimalDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, value any) (any, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return value, nil
		}
		switch v := value.(type) {
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case string:
			return decimal.NewFromString(v)
		}
		return value, nil
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:    zap.NewAtomicLevelAt(zapLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
