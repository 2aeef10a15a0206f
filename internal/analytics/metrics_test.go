package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

func trade(token string, side types.Side, price, size string) types.Trade {
	return types.Trade{
		TokenID:    token,
		Side:       side,
		Price:      decimal.RequireFromString(price),
		Size:       decimal.RequireFromString(size),
		ExecutedAt: time.Now(),
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	t.Parallel()

	report := Analyze(nil)
	if report.TradeCount != 0 || report.RoundTrips != 0 {
		t.Errorf("empty history: %+v", report)
	}
	if report.WinRate != 0 || report.Expectancy != 0 || report.ProfitFactor != 0 {
		t.Errorf("ratios must be zero on empty history: %+v", report)
	}
}

func TestAnalyzeSingleRoundTrip(t *testing.T) {
	t.Parallel()

	report := Analyze([]types.Trade{
		trade("T1", types.BUY, "0.40", "100"),
		trade("T1", types.SELL, "0.50", "100"),
	})

	if report.RoundTrips != 1 || report.Wins != 1 || report.Losses != 0 {
		t.Errorf("counts: %+v", report)
	}
	if !report.NetPnL.Equal(decimal.RequireFromString("10")) {
		t.Errorf("NetPnL = %s, want 10", report.NetPnL)
	}
	if report.WinRate != 1.0 {
		t.Errorf("WinRate = %v, want 1", report.WinRate)
	}
	if math.Abs(report.Expectancy-10) > 1e-10 {
		t.Errorf("Expectancy = %v, want 10", report.Expectancy)
	}
	if !report.Volume.Equal(decimal.RequireFromString("90")) { // 40 + 50
		t.Errorf("Volume = %s, want 90", report.Volume)
	}
}

func TestAnalyzeFIFOMatching(t *testing.T) {
	t.Parallel()

	// Two buy lots at different prices; the sell matches the older lot first.
	report := Analyze([]types.Trade{
		trade("T1", types.BUY, "0.40", "100"),
		trade("T1", types.BUY, "0.60", "100"),
		trade("T1", types.SELL, "0.55", "150"),
	})

	// 100 @ (0.55-0.40) + 50 @ (0.55-0.60) = 15 - 2.5 = 12.5
	if !report.NetPnL.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("NetPnL = %s, want 12.5", report.NetPnL)
	}
	if report.RoundTrips != 1 {
		t.Errorf("a multi-lot sell is one round trip, got %d", report.RoundTrips)
	}
}

func TestAnalyzeWinLossRatios(t *testing.T) {
	t.Parallel()

	report := Analyze([]types.Trade{
		trade("T1", types.BUY, "0.40", "100"),
		trade("T1", types.SELL, "0.50", "100"), // +10
		trade("T2", types.BUY, "0.50", "100"),
		trade("T2", types.SELL, "0.45", "100"), // -5
		trade("T1", types.BUY, "0.30", "100"),
		trade("T1", types.SELL, "0.32", "100"), // +2
	})

	if report.Wins != 2 || report.Losses != 1 {
		t.Errorf("wins/losses = %d/%d, want 2/1", report.Wins, report.Losses)
	}
	if math.Abs(report.WinRate-2.0/3.0) > 1e-10 {
		t.Errorf("WinRate = %v", report.WinRate)
	}
	if !report.GrossProfit.Equal(decimal.RequireFromString("12")) {
		t.Errorf("GrossProfit = %s, want 12", report.GrossProfit)
	}
	if !report.GrossLoss.Equal(decimal.RequireFromString("5")) {
		t.Errorf("GrossLoss = %s, want 5", report.GrossLoss)
	}
	if math.Abs(report.ProfitFactor-2.4) > 1e-10 {
		t.Errorf("ProfitFactor = %v, want 2.4", report.ProfitFactor)
	}
	// expectancy = 7 / 3
	if math.Abs(report.Expectancy-7.0/3.0) > 1e-10 {
		t.Errorf("Expectancy = %v", report.Expectancy)
	}
}

func TestAnalyzeMaxDrawdown(t *testing.T) {
	t.Parallel()

	// Cumulative P&L path: +10, -5 (dd 5), -8 (dd 13), +20 (new peak).
	report := Analyze([]types.Trade{
		trade("T1", types.BUY, "0.40", "100"),
		trade("T1", types.SELL, "0.50", "100"), // +10
		trade("T1", types.BUY, "0.50", "100"),
		trade("T1", types.SELL, "0.45", "100"), // -5
		trade("T1", types.BUY, "0.50", "100"),
		trade("T1", types.SELL, "0.42", "100"), // -8
		trade("T1", types.BUY, "0.40", "100"),
		trade("T1", types.SELL, "0.60", "100"), // +20
	})

	if !report.MaxDrawdown.Equal(decimal.RequireFromString("13")) {
		t.Errorf("MaxDrawdown = %s, want 13", report.MaxDrawdown)
	}
	if !report.NetPnL.Equal(decimal.RequireFromString("17")) {
		t.Errorf("NetPnL = %s, want 17", report.NetPnL)
	}
}

func TestAnalyzeUnmatchedSellSkipped(t *testing.T) {
	t.Parallel()

	// A sell with no prior buy in the window contributes volume but no
	// round trip.
	report := Analyze([]types.Trade{
		trade("T1", types.SELL, "0.50", "100"),
	})

	if report.RoundTrips != 0 {
		t.Errorf("RoundTrips = %d, want 0", report.RoundTrips)
	}
	if !report.NetPnL.IsZero() {
		t.Errorf("NetPnL = %s, want 0", report.NetPnL)
	}
	if !report.Volume.Equal(decimal.RequireFromString("50")) {
		t.Errorf("Volume = %s, want 50", report.Volume)
	}
}

func TestAnalyzeTokensIsolated(t *testing.T) {
	t.Parallel()

	// Buys on one token never match sells on another.
	report := Analyze([]types.Trade{
		trade("T1", types.BUY, "0.40", "100"),
		trade("T2", types.SELL, "0.50", "100"),
	})

	if report.RoundTrips != 0 {
		t.Errorf("cross-token match: %+v", report)
	}
}
