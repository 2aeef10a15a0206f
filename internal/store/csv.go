package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExportTradesCSV writes all trades (optionally filtered) to a CSV file under
// dir and returns the file path.
func (s *Store) ExportTradesCSV(dir string, f TradeFilter) (string, error) {
	trades, err := s.ListTrades(f)
	if err != nil {
		return "", err
	}

	path, w, file, err := openExport(dir, "trades")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := w.Write([]string{
		"id", "order_id", "market_id", "token_id", "side",
		"price", "size", "value", "fee", "executed_at",
	}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, tr := range trades {
		if err := w.Write([]string{
			tr.ID, tr.OrderID, tr.MarketID, tr.TokenID, string(tr.Side),
			tr.Price.String(), tr.Size.String(), tr.Value().String(),
			tr.Fee.String(), tr.ExecutedAt.Format(time.RFC3339),
		}); err != nil {
			return "", fmt.Errorf("write trade %s: %w", tr.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Info("trades exported", "path", path, "rows", len(trades))
	return path, nil
}

// ExportOrdersCSV writes all orders (optionally filtered) to a CSV file under
// dir and returns the file path.
func (s *Store) ExportOrdersCSV(dir string, f OrderFilter) (string, error) {
	orders, err := s.ListOrders(f)
	if err != nil {
		return "", err
	}

	path, w, file, err := openExport(dir, "orders")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := w.Write([]string{
		"id", "market_id", "token_id", "side", "type", "price", "size",
		"filled_size", "status", "is_paper", "created_at", "filled_at",
	}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, o := range orders {
		filledAt := ""
		if !o.FilledAt.IsZero() {
			filledAt = o.FilledAt.Format(time.RFC3339)
		}
		if err := w.Write([]string{
			o.ID, o.MarketID, o.TokenID, string(o.Side), string(o.Type),
			o.Price.String(), o.Size.String(), o.FilledSize.String(),
			string(o.Status), fmt.Sprintf("%t", o.IsPaper),
			o.CreatedAt.Format(time.RFC3339), filledAt,
		}); err != nil {
			return "", fmt.Errorf("write order %s: %w", o.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Info("orders exported", "path", path, "rows", len(orders))
	return path, nil
}

// ExportPositionsCSV writes the open positions to a CSV file under dir and
// returns the file path.
func (s *Store) ExportPositionsCSV(dir string) (string, error) {
	positions, err := s.ListPositions()
	if err != nil {
		return "", err
	}

	path, w, file, err := openExport(dir, "positions")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := w.Write([]string{
		"token_id", "market_id", "size", "avg_entry_price", "realized_pnl", "opened_at",
	}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, pos := range positions {
		if err := w.Write([]string{
			pos.TokenID, pos.MarketID, pos.Size.String(),
			pos.AvgEntryPrice.String(), pos.RealizedPnL.String(),
			pos.OpenedAt.Format(time.RFC3339),
		}); err != nil {
			return "", fmt.Errorf("write position %s: %w", pos.TokenID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Info("positions exported", "path", path, "rows", len(positions))
	return path, nil
}

func openExport(dir, kind string) (string, *csv.Writer, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.csv", kind, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", nil, nil, fmt.Errorf("create export file: %w", err)
	}
	return path, csv.NewWriter(file), file, nil
}
