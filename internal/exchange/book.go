package exchange

import (
	"sync"
	"time"

	"venue/internal/models"
	"venue/internal/portfolio"
)

// Market order conversion constants. A market order is re-priced to an
// aggressive limit so it crosses on the next match pass instead of
// resting at an unmarketable price.
const (
	marketBuffer      = 1.0
	marketBuyDefault  = 1_000_000.0
	marketSellDefault = 0.01
)

// priceLevel holds the FIFO queue of resting orders at one price.
type priceLevel struct {
	price  float64
	orders []*models.Order
}

func (l *priceLevel) totalQuantity() int64 {
	var total int64
	for _, o := range l.orders {
		total += o.Quantity
	}
	return total
}

// OrderBook holds resting orders for a single asset under price-time
// priority: bids descending by price, asks ascending, FIFO within a
// level. Untriggered stop orders sit in a separate holding area and are
// never resting liquidity. A mutex gives the book a single logical
// writer; books for different assets share nothing.
type OrderBook struct {
	mu    sync.Mutex
	asset string
	bids  []*priceLevel // descending price
	asks  []*priceLevel // ascending price
	stops []*models.Order
}

// NewOrderBook creates an empty book for one asset.
func NewOrderBook(asset string) *OrderBook {
	return &OrderBook{asset: asset}
}

// Asset returns the asset this book trades.
func (b *OrderBook) Asset() string {
	return b.asset
}

// AddOrder places an order on the book. Returns false if the order's
// asset does not match the book, so callers can route elsewhere. Stop
// orders go to the holding area; market orders are converted to
// aggressively priced limit orders before insertion.
func (b *OrderBook) AddOrder(o *models.Order) bool {
	if o.Asset != b.asset {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Kind == models.KindStop {
		b.stops = append(b.stops, o)
		return true
	}

	if o.Kind == models.KindMarket {
		if o.Side == models.SideBuy {
			if ask, ok := b.bestAskLocked(); ok {
				o.Price = ask + marketBuffer
			} else {
				o.Price = marketBuyDefault
			}
		} else {
			if bid, ok := b.bestBidLocked(); ok {
				o.Price = bid - marketBuffer
				if o.Price < marketSellDefault {
					o.Price = marketSellDefault
				}
			} else {
				o.Price = marketSellDefault
			}
		}
		o.Kind = models.KindLimit
	}

	if o.Side == models.SideBuy {
		b.bids = insertOrder(b.bids, o, func(a, bb float64) bool { return a > bb })
	} else {
		b.asks = insertOrder(b.asks, o, func(a, bb float64) bool { return a < bb })
	}
	return true
}

// insertOrder appends o to its price level, creating the level at the
// sorted position if needed. better reports whether price a sorts ahead
// of price b on this side.
func insertOrder(levels []*priceLevel, o *models.Order, better func(a, b float64) bool) []*priceLevel {
	idx := len(levels)
	for i, lvl := range levels {
		if lvl.price == o.Price {
			lvl.orders = append(lvl.orders, o)
			return levels
		}
		if better(o.Price, lvl.price) {
			idx = i
			break
		}
	}
	level := &priceLevel{price: o.Price, orders: []*models.Order{o}}
	levels = append(levels, nil)
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = level
	return levels
}

// CancelOrder removes the order with the given id from whichever side or
// the stop area holds it, dropping its level if emptied. Linear scan:
// books stay shallow in this venue. No-op if the id is not found.
func (b *OrderBook) CancelOrder(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if removed := removeFromLevels(&b.bids, id); removed {
		return true
	}
	if removed := removeFromLevels(&b.asks, id); removed {
		return true
	}
	for i, o := range b.stops {
		if o.ID == id {
			b.stops = append(b.stops[:i], b.stops[i+1:]...)
			return true
		}
	}
	return false
}

func removeFromLevels(levels *[]*priceLevel, id int) bool {
	for li, lvl := range *levels {
		for oi, o := range lvl.orders {
			if o.ID == id {
				lvl.orders = append(lvl.orders[:oi], lvl.orders[oi+1:]...)
				if len(lvl.orders) == 0 {
					*levels = append((*levels)[:li], (*levels)[li+1:]...)
				}
				return true
			}
		}
	}
	return false
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestBidLocked()
}

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestAskLocked()
}

func (b *OrderBook) bestBidLocked() (float64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	return b.bids[0].price, true
}

func (b *OrderBook) bestAskLocked() (float64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].price, true
}

// CheckStopOrders evaluates every held stop against the current trade
// price. Triggered stops are converted to marketable orders priced at
// the current price and returned for re-submission via AddOrder;
// untriggered stops stay held. Triggering is kept independent from
// matching on purpose.
func (b *OrderBook) CheckStopOrders(currentPrice float64) []*models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var triggered []*models.Order
	remaining := b.stops[:0]
	for _, o := range b.stops {
		if o.IsTriggered(currentPrice) {
			o.Kind = models.KindMarket
			o.Price = currentPrice
			triggered = append(triggered, o)
		} else {
			remaining = append(remaining, o)
		}
	}
	b.stops = remaining
	return triggered
}

// MatchResult reports the outcome of one match pass: executed trades,
// orders fully filled, and resting orders cancelled as infeasible.
type MatchResult struct {
	Trades           []models.Trade
	FilledOrderIDs   []int
	CanceledOrderIDs []int
}

// Match runs the price-time priority matching loop against the given
// participant accounts and returns the executed trades.
//
// While the book crosses, the front orders of the best bid and ask
// levels trade min(buy remaining, sell remaining) at the passive price:
// whichever order arrived earlier sets the price, the later arrival is
// the aggressor. Before committing, the buyer must afford the notional
// and the seller must hold the quantity; an infeasible resting order is
// cancelled outright and the loop retries, so one stale order never
// blocks the book. Trades are applied to both counterparties' accounts
// as they occur, keeping multi-fill feasibility honest.
func (b *OrderBook) Match(traders map[int]*portfolio.Trader) MatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result MatchResult
	for {
		bid, okBid := b.bestBidLocked()
		ask, okAsk := b.bestAskLocked()
		if !okBid || !okAsk || bid < ask {
			break
		}

		buy := b.bids[0].orders[0]
		sell := b.asks[0].orders[0]

		qty := buy.Quantity
		if sell.Quantity < qty {
			qty = sell.Quantity
		}
		// The earlier order is passive and sets the price.
		price := buy.Price
		if buy.SubmittedAt.After(sell.SubmittedAt) {
			price = sell.Price
		}

		buyer := traders[buy.TraderID]
		seller := traders[sell.TraderID]
		if buyer == nil || !buyer.CanAfford(qty, price) {
			b.dropFrontLocked(models.SideBuy, traders)
			result.CanceledOrderIDs = append(result.CanceledOrderIDs, buy.ID)
			continue
		}
		if seller == nil || !seller.CanSell(b.asset, qty) {
			b.dropFrontLocked(models.SideSell, traders)
			result.CanceledOrderIDs = append(result.CanceledOrderIDs, sell.ID)
			continue
		}

		trade := models.Trade{
			Asset:       b.asset,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			BuyerID:     buy.TraderID,
			SellerID:    sell.TraderID,
			Price:       price,
			Quantity:    qty,
			ExecutedAt:  time.Now(),
		}
		// Pre-checked above; application cannot fail.
		_ = buyer.ExecuteTrade(trade, models.SideBuy)
		_ = seller.ExecuteTrade(trade, models.SideSell)
		result.Trades = append(result.Trades, trade)

		buy.Quantity -= qty
		sell.Quantity -= qty
		if buy.Quantity == 0 {
			b.popFrontLocked(models.SideBuy)
			buyer.RemovePending(buy.ID)
			result.FilledOrderIDs = append(result.FilledOrderIDs, buy.ID)
		}
		if sell.Quantity == 0 {
			b.popFrontLocked(models.SideSell)
			seller.RemovePending(sell.ID)
			result.FilledOrderIDs = append(result.FilledOrderIDs, sell.ID)
		}
	}
	return result
}

// popFrontLocked removes the front order of the best level on one side,
// dropping the level if emptied.
func (b *OrderBook) popFrontLocked(side models.Side) *models.Order {
	levels := &b.bids
	if side == models.SideSell {
		levels = &b.asks
	}
	lvl := (*levels)[0]
	o := lvl.orders[0]
	lvl.orders = lvl.orders[1:]
	if len(lvl.orders) == 0 {
		*levels = (*levels)[1:]
	}
	return o
}

// dropFrontLocked cancels an infeasible front order and clears the
// owner's pending entry. The owner is not notified.
func (b *OrderBook) dropFrontLocked(side models.Side, traders map[int]*portfolio.Trader) {
	o := b.popFrontLocked(side)
	if t, ok := traders[o.TraderID]; ok {
		t.RemovePending(o.ID)
	}
}

// DepthLevel summarizes one price level of resting liquidity.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int     `json:"orders"`
}

// MarketDepth aggregates the top levels of both sides. Spread is nil
// when either side is empty.
type MarketDepth struct {
	Asset  string       `json:"asset"`
	Bids   []DepthLevel `json:"bids"`
	Asks   []DepthLevel `json:"asks"`
	Spread *float64     `json:"spread,omitempty"`
}

// GetMarketDepth returns the top n price levels per side with summed
// quantity and order count, plus the bid-ask spread. Read-only.
func (b *OrderBook) GetMarketDepth(n int) MarketDepth {
	b.mu.Lock()
	defer b.mu.Unlock()

	depth := MarketDepth{Asset: b.asset}
	for i, lvl := range b.bids {
		if i >= n {
			break
		}
		depth.Bids = append(depth.Bids, DepthLevel{Price: lvl.price, Quantity: lvl.totalQuantity(), Orders: len(lvl.orders)})
	}
	for i, lvl := range b.asks {
		if i >= n {
			break
		}
		depth.Asks = append(depth.Asks, DepthLevel{Price: lvl.price, Quantity: lvl.totalQuantity(), Orders: len(lvl.orders)})
	}
	if len(b.bids) > 0 && len(b.asks) > 0 {
		spread := b.asks[0].price - b.bids[0].price
		depth.Spread = &spread
	}
	return depth
}
