package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func TestWriteTrades(t *testing.T) {
	entry := time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC)
	trades := []types.TradeRecord{{
		ID:          "abc",
		Direction:   types.DirectionBuy,
		EntryTime:   entry,
		ExitTime:    entry.Add(15 * time.Minute),
		EntryPrice:  decimal.NewFromInt(100),
		ExitPrice:   decimal.NewFromInt(101),
		Quantity:    decimal.NewFromInt(50),
		GrossPnL:    decimal.NewFromInt(50),
		Commission:  decimal.NewFromInt(2),
		NetPnL:      decimal.NewFromInt(48),
		HoldingTime: 15 * time.Minute,
	}}

	var buf bytes.Buffer
	if err := WriteTrades(&buf, trades); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,direction,entry_time") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "abc,buy,2024-03-04 09:45:00") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestWriteResultNullRatios(t *testing.T) {
	result := &types.BacktestResult{
		ID:    "run",
		State: types.RunStateCompleted,
		Report: &types.PerformanceReport{
			InitialCapital: decimal.NewFromInt(100000),
			FinalEquity:    decimal.NewFromInt(100000),
		},
	}

	var buf bytes.Buffer
	if err := WriteResult(&buf, result); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	report := decoded["report"].(map[string]any)
	if v, ok := report["sharpeRatio"]; !ok || v != nil {
		t.Errorf("sharpeRatio = %v, want JSON null", v)
	}
}
