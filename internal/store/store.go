// Package store persists orders, trades, and positions to SQLite and exports
// them as CSV. The engine writes through the store on every fill; restarts
// recover the trading history but the engine's in-memory state stays
// authoritative while the process runs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"polytrader/pkg/types"
)

// ErrNotFound is returned for lookups of unknown IDs.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          TEXT PRIMARY KEY,
	market_id   TEXT NOT NULL,
	token_id    TEXT NOT NULL,
	side        TEXT NOT NULL,
	type        TEXT NOT NULL,
	price       TEXT NOT NULL,
	size        TEXT NOT NULL,
	filled_size TEXT NOT NULL,
	status      TEXT NOT NULL,
	is_paper    INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	filled_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_market ON orders(market_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL,
	market_id   TEXT NOT NULL,
	token_id    TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       TEXT NOT NULL,
	size        TEXT NOT NULL,
	fee         TEXT NOT NULL DEFAULT '0',
	executed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);

CREATE TABLE IF NOT EXISTS positions (
	token_id        TEXT PRIMARY KEY,
	market_id       TEXT NOT NULL,
	size            TEXT NOT NULL,
	avg_entry_price TEXT NOT NULL,
	realized_pnl    TEXT NOT NULL,
	opened_at       TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
`

// Store is the SQLite-backed persistence layer. Writes are idempotent
// (INSERT OR REPLACE keyed on IDs) so redelivered fills and restarts never
// duplicate rows.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
// Parent directories are created as needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The engine is the only writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveOrder upserts an order row.
func (s *Store) SaveOrder(order types.Order) error {
	var filledAt any
	if !order.FilledAt.IsZero() {
		filledAt = order.FilledAt
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO orders
			(id, market_id, token_id, side, type, price, size, filled_size,
			 status, is_paper, created_at, updated_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.MarketID, order.TokenID, string(order.Side), string(order.Type),
		order.Price.String(), order.Size.String(), order.FilledSize.String(),
		string(order.Status), boolToInt(order.IsPaper),
		order.CreatedAt, order.UpdatedAt, filledAt,
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// SaveTrade upserts a trade row.
func (s *Store) SaveTrade(trade types.Trade) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trades
			(id, order_id, market_id, token_id, side, price, size, fee, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.OrderID, trade.MarketID, trade.TokenID, string(trade.Side),
		trade.Price.String(), trade.Size.String(), trade.Fee.String(), trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", trade.ID, err)
	}
	return nil
}

// SavePosition upserts a position row; a zero-size position is deleted so
// the table mirrors the engine's open-position map.
func (s *Store) SavePosition(pos types.Position) error {
	if pos.Size.IsZero() {
		if _, err := s.db.Exec(`DELETE FROM positions WHERE token_id = ?`, pos.TokenID); err != nil {
			return fmt.Errorf("delete position %s: %w", pos.TokenID, err)
		}
		return nil
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO positions
			(token_id, market_id, size, avg_entry_price, realized_pnl, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pos.TokenID, pos.MarketID, pos.Size.String(), pos.AvgEntryPrice.String(),
		pos.RealizedPnL.String(), pos.OpenedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.TokenID, err)
	}
	return nil
}

// GetOrder looks up one order by ID.
func (s *Store) GetOrder(id string) (types.Order, error) {
	row := s.db.QueryRow(`
		SELECT id, market_id, token_id, side, type, price, size, filled_size,
		       status, is_paper, created_at, updated_at, filled_at
		FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return order, err
}

// OrderFilter narrows ListOrders. Zero values mean no constraint.
type OrderFilter struct {
	MarketID string
	Status   types.OrderStatus
	Limit    int
}

// ListOrders returns orders matching the filter, newest first.
func (s *Store) ListOrders(f OrderFilter) ([]types.Order, error) {
	query := `
		SELECT id, market_id, token_id, side, type, price, size, filled_size,
		       status, is_paper, created_at, updated_at, filled_at
		FROM orders WHERE 1=1`
	var args []any
	if f.MarketID != "" {
		query += ` AND market_id = ?`
		args = append(args, f.MarketID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

// TradeFilter narrows ListTrades. Zero values mean no constraint.
type TradeFilter struct {
	MarketID string
	TokenID  string
	Limit    int
}

// ListTrades returns trades matching the filter in execution order.
func (s *Store) ListTrades(f TradeFilter) ([]types.Trade, error) {
	query := `
		SELECT id, order_id, market_id, token_id, side, price, size, fee, executed_at
		FROM trades WHERE 1=1`
	var args []any
	if f.MarketID != "" {
		query += ` AND market_id = ?`
		args = append(args, f.MarketID)
	}
	if f.TokenID != "" {
		query += ` AND token_id = ?`
		args = append(args, f.TokenID)
	}
	query += ` ORDER BY executed_at ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var tr types.Trade
		var side, price, size, fee string
		if err := rows.Scan(&tr.ID, &tr.OrderID, &tr.MarketID, &tr.TokenID,
			&side, &price, &size, &fee, &tr.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Side = types.Side(side)
		if tr.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %s price: %w", tr.ID, err)
		}
		if tr.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("trade %s size: %w", tr.ID, err)
		}
		if tr.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("trade %s fee: %w", tr.ID, err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListPositions returns all persisted open positions.
func (s *Store) ListPositions() ([]types.Position, error) {
	rows, err := s.db.Query(`
		SELECT token_id, market_id, size, avg_entry_price, realized_pnl, opened_at, updated_at
		FROM positions ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var pos types.Position
		var size, avg, pnl string
		if err := rows.Scan(&pos.TokenID, &pos.MarketID, &size, &avg, &pnl,
			&pos.OpenedAt, &pos.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if pos.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("position %s size: %w", pos.TokenID, err)
		}
		if pos.AvgEntryPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("position %s avg: %w", pos.TokenID, err)
		}
		if pos.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("position %s pnl: %w", pos.TokenID, err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

// Stats summarizes the persisted history.
type Stats struct {
	OrderCount    int
	TradeCount    int
	PositionCount int
	OldestTrade   time.Time
	NewestTrade   time.Time
}

// Stats returns row counts and the trade time range.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&st.OrderCount); err != nil {
		return st, fmt.Errorf("count orders: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&st.TradeCount); err != nil {
		return st, fmt.Errorf("count trades: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&st.PositionCount); err != nil {
		return st, fmt.Errorf("count positions: %w", err)
	}
	// Aggregate MIN/MAX strip the column's declared type, so the driver hands
	// back a string instead of a time. Take the range from raw rows instead.
	if st.TradeCount > 0 {
		err := s.db.QueryRow(`SELECT executed_at FROM trades ORDER BY executed_at ASC LIMIT 1`).
			Scan(&st.OldestTrade)
		if err != nil {
			return st, fmt.Errorf("oldest trade: %w", err)
		}
		err = s.db.QueryRow(`SELECT executed_at FROM trades ORDER BY executed_at DESC LIMIT 1`).
			Scan(&st.NewestTrade)
		if err != nil {
			return st, fmt.Errorf("newest trade: %w", err)
		}
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (types.Order, error) {
	var order types.Order
	var side, typ, price, size, filled, status string
	var isPaper int
	var filledAt sql.NullTime
	err := row.Scan(&order.ID, &order.MarketID, &order.TokenID, &side, &typ,
		&price, &size, &filled, &status, &isPaper,
		&order.CreatedAt, &order.UpdatedAt, &filledAt)
	if err != nil {
		return types.Order{}, err
	}
	order.Side = types.Side(side)
	order.Type = types.OrderType(typ)
	order.Status = types.OrderStatus(status)
	order.IsPaper = isPaper != 0
	if filledAt.Valid {
		order.FilledAt = filledAt.Time
	}
	if order.Price, err = decimal.NewFromString(price); err != nil {
		return types.Order{}, fmt.Errorf("order %s price: %w", order.ID, err)
	}
	if order.Size, err = decimal.NewFromString(size); err != nil {
		return types.Order{}, fmt.Errorf("order %s size: %w", order.ID, err)
	}
	if order.FilledSize, err = decimal.NewFromString(filled); err != nil {
		return types.Order{}, fmt.Errorf("order %s filled size: %w", order.ID, err)
	}
	return order, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
