package portfolio

import (
	"venue/internal/models"
)

// Position tracks signed exposure in one asset. Positive quantity is
// long, negative is short. AvgCost is the quantity-weighted average
// entry price of the open quantity.
type Position struct {
	Asset    string  `json:"asset"`
	Quantity int64   `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// UnrealizedPnL marks the open quantity against the given price.
func (p *Position) UnrealizedPnL(mark float64) float64 {
	return (mark - p.AvgCost) * float64(p.Quantity)
}

// Portfolio is pure per-participant accounting: cash, positions keyed by
// asset, pending orders keyed by order id, and cumulative realized P&L.
// It contains no matching logic and no locking of its own; callers
// serialize access per participant (see Trader).
type Portfolio struct {
	Cash           float64                  `json:"cash"`
	Positions      map[string]*Position     `json:"positions"`
	Pending        map[int]*models.Order    `json:"-"`
	RealizedPnL    float64                  `json:"realized_pnl"`
	DividendIncome float64                  `json:"dividend_income"`
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(cash float64) *Portfolio {
	return &Portfolio{
		Cash:      cash,
		Positions: make(map[string]*Position),
		Pending:   make(map[int]*models.Order),
	}
}

// CanAfford reports whether cash covers the notional qty*price.
// Side-effect free.
func (p *Portfolio) CanAfford(qty int64, price float64) bool {
	return p.Cash >= float64(qty)*price
}

// CanSell reports whether the portfolio holds at least qty of asset.
// Side-effect free.
func (p *Portfolio) CanSell(asset string, qty int64) bool {
	pos, ok := p.Positions[asset]
	return ok && pos.Quantity >= qty
}

// UpdatePosition applies a signed fill quantity at the given price.
//
// Opening or adding to a same-direction position blends the average cost;
// reducing or reversing realizes P&L on the closed quantity against the
// old average cost. A position that nets to exactly zero is removed from
// the map: downstream code treats presence-in-map as "has exposure".
func (p *Portfolio) UpdatePosition(asset string, qty int64, price float64) {
	if qty == 0 {
		return
	}
	pos, ok := p.Positions[asset]
	if !ok {
		p.Positions[asset] = &Position{Asset: asset, Quantity: qty, AvgCost: price}
		return
	}

	sameDirection := (pos.Quantity > 0) == (qty > 0)
	if sameDirection {
		newQty := pos.Quantity + qty
		pos.AvgCost = (float64(pos.Quantity)*pos.AvgCost + float64(qty)*price) / float64(newQty)
		pos.Quantity = newQty
		return
	}

	closed := qty
	if abs(qty) > abs(pos.Quantity) {
		closed = -pos.Quantity
	}
	// Realize against the old basis. For a short (negative quantity) the
	// sign flips: profit when the price fell below the basis.
	if pos.Quantity > 0 {
		p.RealizedPnL += float64(-closed) * (price - pos.AvgCost)
	} else {
		p.RealizedPnL += float64(closed) * (pos.AvgCost - price)
	}

	remaining := pos.Quantity + qty
	switch {
	case remaining == 0:
		delete(p.Positions, asset)
	case (remaining > 0) == (pos.Quantity > 0):
		// Partial reduction keeps the old basis.
		pos.Quantity = remaining
	default:
		// Full reversal opens the leftover at the fill price.
		pos.Quantity = remaining
		pos.AvgCost = price
	}
}

// ReceiveDividend credits cash for long positions only. Shorts neither
// pay nor receive in this model.
func (p *Portfolio) ReceiveDividend(asset string, perShare float64) float64 {
	pos, ok := p.Positions[asset]
	if !ok || pos.Quantity <= 0 {
		return 0
	}
	amount := float64(pos.Quantity) * perShare
	p.Cash += amount
	p.DividendIncome += amount
	return amount
}

// TotalValue is cash plus every position marked at the supplied prices.
// Positions with no mark price are valued at their average cost.
func (p *Portfolio) TotalValue(marks map[string]float64) float64 {
	total := p.Cash
	for asset, pos := range p.Positions {
		mark, ok := marks[asset]
		if !ok {
			mark = pos.AvgCost
		}
		total += mark * float64(pos.Quantity)
	}
	return total
}

// AddPending records an order as outstanding on some book.
func (p *Portfolio) AddPending(o *models.Order) {
	p.Pending[o.ID] = o
}

// RemovePending drops an order from the pending map. No-op if absent.
func (p *Portfolio) RemovePending(id int) {
	delete(p.Pending, id)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
