package db

import (
	"context"
	"fmt"

	"venue/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool. The database is the durable
// record of orders and trades; the books themselves live in memory.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateParticipant inserts a new participant
func (db *DB) CreateParticipant(ctx context.Context, username, passwordHash string) (*models.Participant, error) {
	p := &models.Participant{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO participants (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return p, nil
}

// GetParticipantByUsername retrieves a participant by username
func (db *DB) GetParticipantByUsername(ctx context.Context, username string) (*models.Participant, error) {
	p := &models.Participant{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM participants WHERE username = $1",
		username).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// CreateOrder inserts a new order and returns it with its assigned id
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return nil, fmt.Errorf("side must be 'buy' or 'sell'")
	}
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if order.Price < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}

	// Verify the participant exists
	var exists bool
	err := db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM participants WHERE id = $1)", order.TraderID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check participant existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("participant not found")
	}

	stored := &models.Order{}
	err = db.Pool.QueryRow(ctx,
		"INSERT INTO orders (trader_id, asset, side, kind, quantity, price, stop_price, tick, status) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open') "+
			"RETURNING id, trader_id, asset, side, kind, quantity, price, stop_price, tick, created_at",
		order.TraderID, order.Asset, order.Side, order.Kind, order.Quantity, order.Price, order.StopPrice, order.Tick).Scan(
		&stored.ID, &stored.TraderID, &stored.Asset, &stored.Side, &stored.Kind, &stored.Quantity, &stored.Price, &stored.StopPrice, &stored.Tick, &stored.SubmittedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return stored, nil
}

// UpdateOrderStatus updates an order's status
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID int, status string) error {
	_, err := db.Pool.Exec(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// GetParticipantOrders retrieves all orders for a participant
func (db *DB) GetParticipantOrders(ctx context.Context, traderID int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, trader_id, asset, side, kind, quantity, price, stop_price, tick, created_at FROM orders WHERE trader_id = $1",
		traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.TraderID, &o.Asset, &o.Side, &o.Kind, &o.Quantity, &o.Price, &o.StopPrice, &o.Tick, &o.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// CreateTrade inserts a new trade
func (db *DB) CreateTrade(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	stored := &models.Trade{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO trades (asset, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, executed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) "+
			"RETURNING id, asset, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, executed_at",
		trade.Asset, trade.BuyOrderID, trade.SellOrderID, trade.BuyerID, trade.SellerID, trade.Price, trade.Quantity, trade.ExecutedAt).Scan(
		&stored.ID, &stored.Asset, &stored.BuyOrderID, &stored.SellOrderID, &stored.BuyerID, &stored.SellerID, &stored.Price, &stored.Quantity, &stored.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	return stored, nil
}

// GetParticipantTrades retrieves all trades where the participant was
// buyer or seller
func (db *DB) GetParticipantTrades(ctx context.Context, traderID int) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, asset, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, executed_at "+
			"FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY executed_at ASC",
		traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.Asset, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.Price, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// GetAllTrades retrieves every recorded trade in execution order
func (db *DB) GetAllTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, asset, buy_order_id, sell_order_id, buyer_id, seller_id, price, quantity, executed_at FROM trades ORDER BY executed_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.Asset, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.Price, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// CancelOrder cancels an order if it belongs to the participant and is open
func (db *DB) CancelOrder(ctx context.Context, orderID, traderID int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row for update to prevent concurrent modifications
	var status string
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 AND trader_id = $2 FOR UPDATE",
		orderID, traderID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("order not found or not owned by participant")
		}
		return fmt.Errorf("failed to get order: %w", err)
	}

	if status != "open" {
		return fmt.Errorf("order not open")
	}

	tag, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'canceled' WHERE id = $1 AND trader_id = $2 AND status = 'open'",
		orderID, traderID)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found, not owned by participant, or not open")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetOpenOrders retrieves all open orders from the database
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, trader_id, asset, side, kind, quantity, price, stop_price, tick, created_at
		FROM orders
		WHERE status = 'open'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		err := rows.Scan(
			&o.ID,
			&o.TraderID,
			&o.Asset,
			&o.Side,
			&o.Kind,
			&o.Quantity,
			&o.Price,
			&o.StopPrice,
			&o.Tick,
			&o.SubmittedAt,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
