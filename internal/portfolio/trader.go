package portfolio

import (
	"errors"
	"sync"

	"venue/internal/models"
)

// Trade execution errors. Both mean "trade not applied": ExecuteTrade
// never leaves a partial mutation behind.
var (
	ErrInsufficientFunds    = errors.New("insufficient cash for trade")
	ErrInsufficientPosition = errors.New("insufficient position for trade")
)

// Trader couples a Portfolio to trade execution and keeps advisory
// performance metrics. All mutation goes through the trader's mutex, so
// two trades touching the same participant cannot race even when books
// for different assets are matched in parallel.
type Trader struct {
	mu sync.Mutex

	ID        int
	Name      string
	Portfolio *Portfolio

	History []models.Trade

	// Advisory metrics, not consulted by matching.
	Wins        int
	Losses      int
	PeakValue   float64
	MaxDrawdown float64
}

// NewTrader creates a trader with the given starting cash.
func NewTrader(id int, name string, cash float64) *Trader {
	return &Trader{
		ID:        id,
		Name:      name,
		Portfolio: NewPortfolio(cash),
		PeakValue: cash,
	}
}

// ExecuteTrade applies one side of a confirmed trade to the portfolio.
// It re-validates affordability and deliverability even though the book
// checks before matching, so a caller bypassing the book cannot corrupt
// the accounting. Commit is atomic: on error nothing is mutated.
func (t *Trader) ExecuteTrade(trade models.Trade, side models.Side) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	notional := float64(trade.Quantity) * trade.Price
	before := t.Portfolio.RealizedPnL

	if side == models.SideBuy {
		if !t.Portfolio.CanAfford(trade.Quantity, trade.Price) {
			return ErrInsufficientFunds
		}
		t.Portfolio.Cash -= notional
		t.Portfolio.UpdatePosition(trade.Asset, trade.Quantity, trade.Price)
	} else {
		if !t.Portfolio.CanSell(trade.Asset, trade.Quantity) {
			return ErrInsufficientPosition
		}
		t.Portfolio.Cash += notional
		t.Portfolio.UpdatePosition(trade.Asset, -trade.Quantity, trade.Price)
	}

	t.History = append(t.History, trade)
	if realized := t.Portfolio.RealizedPnL - before; realized > 0 {
		t.Wins++
	} else if realized < 0 {
		t.Losses++
	}
	return nil
}

// CanAfford forwards to the portfolio under the trader's lock.
func (t *Trader) CanAfford(qty int64, price float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Portfolio.CanAfford(qty, price)
}

// CanSell forwards to the portfolio under the trader's lock.
func (t *Trader) CanSell(asset string, qty int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Portfolio.CanSell(asset, qty)
}

// MarkToMarket refreshes peak value and max drawdown against the latest
// trade prices.
func (t *Trader) MarkToMarket(marks map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value := t.Portfolio.TotalValue(marks)
	if value > t.PeakValue {
		t.PeakValue = value
	}
	if t.PeakValue > 0 {
		if dd := (t.PeakValue - value) / t.PeakValue; dd > t.MaxDrawdown {
			t.MaxDrawdown = dd
		}
	}
}

// ReceiveDividend credits a per-share dividend under the trader's lock.
func (t *Trader) ReceiveDividend(asset string, perShare float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Portfolio.ReceiveDividend(asset, perShare)
}

// Reset clears positions, pending orders, history and metrics, restoring
// the given starting cash. Session lifecycle is owned by the caller.
func (t *Trader) Reset(cash float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Portfolio = NewPortfolio(cash)
	t.History = nil
	t.Wins = 0
	t.Losses = 0
	t.PeakValue = cash
	t.MaxDrawdown = 0
}

// TraderSnapshot is a point-in-time copy of a trader's accounting state
// for reporting.
type TraderSnapshot struct {
	ID             int                  `json:"id"`
	Name           string               `json:"name"`
	Cash           float64              `json:"cash"`
	Positions      map[string]Position  `json:"positions"`
	RealizedPnL    float64              `json:"realized_pnl"`
	DividendIncome float64              `json:"dividend_income"`
	Trades         int                  `json:"trades"`
	Wins           int                  `json:"wins"`
	Losses         int                  `json:"losses"`
	PeakValue      float64              `json:"peak_value"`
	MaxDrawdown    float64              `json:"max_drawdown"`
}

// Snapshot copies the trader's state under its lock.
func (t *Trader) Snapshot() TraderSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	positions := make(map[string]Position, len(t.Portfolio.Positions))
	for asset, pos := range t.Portfolio.Positions {
		positions[asset] = *pos
	}
	return TraderSnapshot{
		ID:             t.ID,
		Name:           t.Name,
		Cash:           t.Portfolio.Cash,
		Positions:      positions,
		RealizedPnL:    t.Portfolio.RealizedPnL,
		DividendIncome: t.Portfolio.DividendIncome,
		Trades:         len(t.History),
		Wins:           t.Wins,
		Losses:         t.Losses,
		PeakValue:      t.PeakValue,
		MaxDrawdown:    t.MaxDrawdown,
	}
}

// AddPending records an outstanding order under the trader's lock.
func (t *Trader) AddPending(o *models.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Portfolio.AddPending(o)
}

// RemovePending drops an outstanding order under the trader's lock.
func (t *Trader) RemovePending(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Portfolio.RemovePending(id)
}
