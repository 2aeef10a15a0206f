package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"polytrader/internal/executor"
	"polytrader/internal/harness"
	"polytrader/pkg/types"
)

func init() {
	Register("threshold", NewThreshold)
}

// Threshold is a simple mean-reversion example: buy an outcome token when
// its price drops below buy_below, close the position when it rises above
// sell_above. One open position per token, with a cooldown between entries
// so a flapping price doesn't churn orders.
//
// Params:
//
//	buy_below    entry price ceiling (default 0.40)
//	sell_above   exit price floor (default 0.60)
//	order_size   tokens per order (default 10)
//	cooldown_sec seconds between entries per token (default 60)
type Threshold struct {
	eng    *executor.Engine
	logger *slog.Logger

	buyBelow  float64
	sellAbove float64
	orderSize float64
	cooldown  time.Duration

	lastEntry map[string]time.Time // token → last buy attempt
	now       func() time.Time
}

// NewThreshold builds the threshold strategy from harness params.
func NewThreshold(eng *executor.Engine, params map[string]float64, logger *slog.Logger) (harness.Strategy, error) {
	s := &Threshold{
		eng:       eng,
		logger:    logger.With("component", "strategy", "strategy", "threshold"),
		buyBelow:  param(params, "buy_below", 0.40),
		sellAbove: param(params, "sell_above", 0.60),
		orderSize: param(params, "order_size", 10),
		cooldown:  time.Duration(param(params, "cooldown_sec", 60) * float64(time.Second)),
		lastEntry: make(map[string]time.Time),
		now:       time.Now,
	}
	if s.buyBelow <= 0 || s.sellAbove >= 1 || s.buyBelow >= s.sellAbove {
		return nil, fmt.Errorf("threshold params: need 0 < buy_below < sell_above < 1, got %v/%v",
			s.buyBelow, s.sellAbove)
	}
	if s.orderSize <= 0 {
		return nil, fmt.Errorf("threshold params: order_size must be positive")
	}
	return s, nil
}

func (s *Threshold) Name() string { return "threshold" }

// OnStart logs the effective parameters.
func (s *Threshold) OnStart(context.Context) error {
	s.logger.Info("starting",
		"buy_below", s.buyBelow,
		"sell_above", s.sellAbove,
		"order_size", s.orderSize,
		"cooldown", s.cooldown,
	)
	return nil
}

// OnStop logs a final summary.
func (s *Threshold) OnStop() {
	stats := s.eng.StatsSnapshot(nil)
	s.logger.Info("stopping",
		"trades", stats.TradeCount,
		"realized_pnl", stats.RealizedPnL,
		"balance", stats.Balance,
	)
}

// OnPriceUpdate is the trading loop: enter below the buy threshold, exit
// above the sell threshold.
func (s *Threshold) OnPriceUpdate(market *types.Market, tokenID string, price float64) {
	pos, held := s.eng.Position(tokenID)

	switch {
	case !held && price <= s.buyBelow:
		if last, ok := s.lastEntry[tokenID]; ok && s.now().Sub(last) < s.cooldown {
			return
		}
		s.lastEntry[tokenID] = s.now()
		order, err := s.eng.Submit(context.Background(), types.OrderIntent{
			MarketID: market.ID,
			TokenID:  tokenID,
			Side:     types.BUY,
			Type:     types.LIMIT,
			Price:    price,
			Size:     s.orderSize,
		})
		if err != nil {
			if errors.Is(err, executor.ErrInsufficientFunds) {
				s.logger.Warn("entry skipped, out of funds", "token_id", tokenID, "price", price)
				return
			}
			s.logger.Error("entry failed", "token_id", tokenID, "error", err)
			return
		}
		s.logger.Info("entered", "order_id", order.ID, "token_id", tokenID, "price", price)

	case held && price >= s.sellAbove:
		size, _ := pos.Size.Float64()
		order, err := s.eng.Submit(context.Background(), types.OrderIntent{
			MarketID: market.ID,
			TokenID:  tokenID,
			Side:     types.SELL,
			Type:     types.LIMIT,
			Price:    price,
			Size:     size,
		})
		if err != nil {
			s.logger.Error("exit failed", "token_id", tokenID, "error", err)
			return
		}
		s.logger.Info("exited", "order_id", order.ID, "token_id", tokenID, "price", price)
	}
}

// OnFill keeps the log tape readable; accounting already happened in the
// engine.
func (s *Threshold) OnFill(order types.Order, trade types.Trade) {
	s.logger.Info("fill",
		"order_id", order.ID,
		"side", order.Side,
		"price", trade.Price,
		"size", trade.Size,
	)
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
