package data

import (
	"time"

	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Resample aggregates minute bars into buckets of the given width. Each
// output bar takes the first open, max high, min low, last close, summed
// volume, and mean bid/ask of its bucket, stamped with the bucket start.
// Buckets never span a session boundary.
func Resample(bars []types.Bar, interval time.Duration) []types.Bar {
	if interval <= time.Minute || len(bars) == 0 {
		return bars
	}

	var out []types.Bar
	var cur types.Bar
	var count int64
	var bidSum, askSum decimal.Decimal

	flush := func() {
		if count == 0 {
			return
		}
		n := decimal.NewFromInt(count)
		cur.Bid = bidSum.Div(n)
		cur.Ask = askSum.Div(n)
		out = append(out, cur)
		count = 0
	}

	for _, bar := range bars {
		bucket := bar.Timestamp.Truncate(interval)
		if count > 0 && (!bucket.Equal(cur.Timestamp) || !SameSession(cur.Timestamp, bar.Timestamp)) {
			flush()
		}
		if count == 0 {
			cur = types.Bar{
				Timestamp: bucket,
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
			}
			bidSum = decimal.Zero
			askSum = decimal.Zero
		}
		if bar.High.GreaterThan(cur.High) {
			cur.High = bar.High
		}
		if bar.Low.LessThan(cur.Low) {
			cur.Low = bar.Low
		}
		cur.Close = bar.Close
		cur.Volume = cur.Volume.Add(bar.Volume)
		bidSum = bidSum.Add(bar.Bid)
		askSum = askSum.Add(bar.Ask)
		count++
	}
	flush()
	return out
}
