// Package analytics computes performance metrics from the trade log. All
// functions are pure: they take the trade history in execution order and
// return a report, so they work identically over the engine's in-memory
// trades and rows loaded back from storage.
package analytics

import (
	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

// Report summarizes realized performance. Round trips are sell fills matched
// FIFO against prior buys of the same token; a sell that spans several buy
// lots is still one round trip.
type Report struct {
	TradeCount int // total fills, both sides
	RoundTrips int // completed sells with matched buys
	Wins       int // round trips with positive P&L
	Losses     int // round trips with negative P&L

	WinRate      float64 // wins / round trips
	ProfitFactor float64 // gross profit / gross loss; Inf-free, 0 when no losses and no profit
	Expectancy   float64 // mean P&L per round trip

	GrossProfit decimal.Decimal // sum of winning round-trip P&L
	GrossLoss   decimal.Decimal // absolute sum of losing round-trip P&L
	NetPnL      decimal.Decimal // realized P&L across all round trips
	MaxDrawdown decimal.Decimal // largest peak-to-trough drop of cumulative P&L

	Volume decimal.Decimal // total traded value, both sides
}

// lot is one unmatched buy fill in FIFO order.
type lot struct {
	size  decimal.Decimal
	price decimal.Decimal
}

// Analyze walks the trade history in order, matching sells FIFO against buy
// lots per token. Sells without a matching buy (positions opened before the
// history window) are skipped rather than guessed at.
func Analyze(trades []types.Trade) Report {
	report := Report{
		GrossProfit: decimal.Zero,
		GrossLoss:   decimal.Zero,
		NetPnL:      decimal.Zero,
		MaxDrawdown: decimal.Zero,
		Volume:      decimal.Zero,
	}

	lots := make(map[string][]lot) // token → FIFO buy queue
	cumulative := decimal.Zero
	peak := decimal.Zero

	for _, tr := range trades {
		report.TradeCount++
		report.Volume = report.Volume.Add(tr.Value())

		if tr.Side == types.BUY {
			lots[tr.TokenID] = append(lots[tr.TokenID], lot{size: tr.Size, price: tr.Price})
			continue
		}

		queue := lots[tr.TokenID]
		remaining := tr.Size
		pnl := decimal.Zero
		matched := false

		for remaining.IsPositive() && len(queue) > 0 {
			head := &queue[0]
			take := decimal.Min(remaining, head.size)
			pnl = pnl.Add(tr.Price.Sub(head.price).Mul(take))
			head.size = head.size.Sub(take)
			remaining = remaining.Sub(take)
			matched = true
			if head.size.IsZero() {
				queue = queue[1:]
			}
		}
		lots[tr.TokenID] = queue

		if !matched {
			continue
		}

		report.RoundTrips++
		report.NetPnL = report.NetPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			report.Wins++
			report.GrossProfit = report.GrossProfit.Add(pnl)
		case pnl.IsNegative():
			report.Losses++
			report.GrossLoss = report.GrossLoss.Sub(pnl)
		}

		cumulative = cumulative.Add(pnl)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		if dd := peak.Sub(cumulative); dd.GreaterThan(report.MaxDrawdown) {
			report.MaxDrawdown = dd
		}
	}

	if report.RoundTrips > 0 {
		report.WinRate = float64(report.Wins) / float64(report.RoundTrips)
		report.Expectancy, _ = report.NetPnL.
			Div(decimal.NewFromInt(int64(report.RoundTrips))).Float64()
	}
	if report.GrossLoss.IsPositive() {
		pf, _ := report.GrossProfit.Div(report.GrossLoss).Float64()
		report.ProfitFactor = pf
	}

	return report
}
