// Package report writes run artifacts to disk: the trade blotter as CSV and
// the full result as JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/meridianquant/backtest-engine/pkg/types"
)

// WriteTrades writes the trade blotter as CSV.
func WriteTrades(w io.Writer, trades []types.TradeRecord) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "direction", "entry_time", "exit_time", "entry_price", "exit_price",
		"quantity", "gross_pnl", "commission", "net_pnl", "holding_time",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, trade := range trades {
		row := []string{
			trade.ID,
			string(trade.Direction),
			trade.EntryTime.Format("2006-01-02 15:04:05"),
			trade.ExitTime.Format("2006-01-02 15:04:05"),
			trade.EntryPrice.String(),
			trade.ExitPrice.String(),
			trade.Quantity.String(),
			trade.GrossPnL.String(),
			trade.Commission.String(),
			trade.NetPnL.String(),
			trade.HoldingTime.String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesFile writes the trade blotter to path.
func WriteTradesFile(path string, trades []types.TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteTrades(f, trades); err != nil {
		return err
	}
	return f.Close()
}

// WriteResult serializes the full run result as indented JSON. Undefined
// ratios serialize as JSON null.
func WriteResult(w io.Writer, result *types.BacktestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// WriteResultFile writes the run result to path.
func WriteResultFile(path string, result *types.BacktestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteResult(f, result); err != nil {
		return err
	}
	return f.Close()
}
