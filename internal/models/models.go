package models

import (
	"errors"
	"time"
)

// Participant represents a registered trading participant
type Participant struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Kind is the execution style of an order. Market and stop orders are
// converted to marketable limit orders by the book before they rest.
type Kind string

const (
	KindLimit  Kind = "limit"
	KindMarket Kind = "market"
	KindStop   Kind = "stop"
)

// Order construction errors.
var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrMissingPrice    = errors.New("limit order requires a price")
	ErrMissingStop     = errors.New("stop order requires a stop price")
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrInvalidKind     = errors.New("kind must be limit, market or stop")
)

// Order represents one trading intent. Quantity is decremented in place
// as fills occur; an order leaves its book once quantity reaches zero or
// it is canceled.
type Order struct {
	ID          int       `json:"id"`
	TraderID    int       `json:"trader_id"`
	Asset       string    `json:"asset"`
	Side        Side      `json:"side"`
	Kind        Kind      `json:"kind"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price,omitempty"`
	StopPrice   float64   `json:"stop_price,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"` // used for time priority
	Tick        int       `json:"tick"`
}

// NewOrder validates the field combination and returns a ready-to-submit
// order. Structurally invalid combinations never reach a book.
func NewOrder(id, traderID int, asset string, side Side, kind Kind, qty int64, price, stopPrice float64) (*Order, error) {
	if side != SideBuy && side != SideSell {
		return nil, ErrInvalidSide
	}
	if kind != KindLimit && kind != KindMarket && kind != KindStop {
		return nil, ErrInvalidKind
	}
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if kind == KindLimit && price <= 0 {
		return nil, ErrMissingPrice
	}
	if kind == KindStop && stopPrice <= 0 {
		return nil, ErrMissingStop
	}
	return &Order{
		ID:          id,
		TraderID:    traderID,
		Asset:       asset,
		Side:        side,
		Kind:        kind,
		Quantity:    qty,
		Price:       price,
		StopPrice:   stopPrice,
		SubmittedAt: time.Now(),
	}, nil
}

// IsTriggered reports whether a stop order fires at the given trade price.
// A buy stop fires at or above its stop price, a sell stop at or below.
// Pure predicate: promotion to a live order is the book's job.
func (o *Order) IsTriggered(price float64) bool {
	if o.Kind != KindStop {
		return false
	}
	if o.Side == SideBuy {
		return price >= o.StopPrice
	}
	return price <= o.StopPrice
}

// Trade represents an executed trade. Trades are immutable once created
// and are the only channel by which book state reaches portfolios.
type Trade struct {
	ID          int       `json:"id"`
	Asset       string    `json:"asset"`
	BuyOrderID  int       `json:"buy_order_id"`
	SellOrderID int       `json:"sell_order_id"`
	BuyerID     int       `json:"buyer_id"`
	SellerID    int       `json:"seller_id"`
	Price       float64   `json:"price"`
	Quantity    int64     `json:"quantity"`
	ExecutedAt  time.Time `json:"executed_at"`
}
