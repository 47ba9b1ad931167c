package exchange

import (
	"sync"

	"go.uber.org/zap"

	"venue/internal/models"
	"venue/internal/portfolio"
)

// Engine fans a batch of newly submitted orders out to the correct
// per-asset order book and collects the resulting trades. It owns the
// tick counter, trade id sequence, registered traders and the latest
// trade price per asset.
type Engine struct {
	mu          sync.Mutex
	books       map[string]*OrderBook
	traders     map[int]*portfolio.Trader
	lastPrice   map[string]float64
	tick        int
	nextTradeID int
	logger      *zap.Logger
}

// NewEngine creates an engine with no books; books are created lazily
// the first time an asset is traded.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		books:       make(map[string]*OrderBook),
		traders:     make(map[int]*portfolio.Trader),
		lastPrice:   make(map[string]float64),
		nextTradeID: 1,
		logger:      logger,
	}
}

// RegisterTrader adds a trader to the engine. An existing trader with
// the same id is replaced.
func (e *Engine) RegisterTrader(t *portfolio.Trader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traders[t.ID] = t
}

// Trader returns the registered trader with the given id, or nil.
func (e *Engine) Trader(id int) *portfolio.Trader {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.traders[id]
}

// Book returns the book for an asset, creating it on first use.
func (e *Engine) Book(asset string) *OrderBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bookLocked(asset)
}

func (e *Engine) bookLocked(asset string) *OrderBook {
	book, ok := e.books[asset]
	if !ok {
		book = NewOrderBook(asset)
		e.books[asset] = book
	}
	return book
}

// LastPrice returns the latest trade price for an asset.
func (e *Engine) LastPrice(asset string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.lastPrice[asset]
	return p, ok
}

// Tick returns the current tick index.
func (e *Engine) Tick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// StepResult aggregates one tick's outcome across all books.
type StepResult struct {
	Trades           []models.Trade
	FilledOrderIDs   []int
	CanceledOrderIDs []int
}

// Step runs one discrete time step over a batch of submitted orders.
//
// Per asset touched this tick: resting stops are checked against the
// latest trade price and triggered ones re-submitted (skipped when the
// asset has never traded), the batch's orders are added, then the book
// is matched. Trades are stamped with ids, the last trade price is
// refreshed, and every registered trader is marked to market before the
// tick's trade stream is returned.
func (e *Engine) Step(orders []*models.Order) StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++

	byAsset := make(map[string][]*models.Order)
	for _, o := range orders {
		o.Tick = e.tick
		byAsset[o.Asset] = append(byAsset[o.Asset], o)
	}
	// Books with resting orders are matched every tick, not only when
	// new flow arrives, so stop triggers from the previous tick's close
	// are honored.
	for asset := range e.books {
		if _, ok := byAsset[asset]; !ok {
			byAsset[asset] = nil
		}
	}

	var result StepResult
	for asset, batch := range byAsset {
		book := e.bookLocked(asset)

		if last, ok := e.lastPrice[asset]; ok {
			for _, triggered := range book.CheckStopOrders(last) {
				book.AddOrder(triggered)
			}
		}

		for _, o := range batch {
			if !book.AddOrder(o) {
				e.logger.Warn("order routed to wrong book",
					zap.Int("order_id", o.ID),
					zap.String("order_asset", o.Asset),
					zap.String("book_asset", asset))
				continue
			}
			if t := e.traders[o.TraderID]; t != nil {
				t.AddPending(o)
			}
		}

		matched := book.Match(e.traders)
		for i := range matched.Trades {
			matched.Trades[i].ID = e.nextTradeID
			e.nextTradeID++
			e.lastPrice[asset] = matched.Trades[i].Price
		}
		result.Trades = append(result.Trades, matched.Trades...)
		result.FilledOrderIDs = append(result.FilledOrderIDs, matched.FilledOrderIDs...)
		result.CanceledOrderIDs = append(result.CanceledOrderIDs, matched.CanceledOrderIDs...)
	}

	if len(result.Trades) > 0 {
		for _, t := range e.traders {
			t.MarkToMarket(e.lastPrice)
		}
	}
	return result
}

// CancelOrder removes the order from whichever book holds it and clears
// the owner's pending entry. Returns false if no book held the id.
func (e *Engine) CancelOrder(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, book := range e.books {
		if book.CancelOrder(id) {
			for _, t := range e.traders {
				t.RemovePending(id)
			}
			return true
		}
	}
	return false
}

// PayDividend credits every registered trader's long position in the
// asset with a per-share cash dividend. Shorts are unaffected.
func (e *Engine) PayDividend(asset string, perShare float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range e.traders {
		if amount := t.ReceiveDividend(asset, perShare); amount > 0 {
			e.logger.Debug("dividend paid",
				zap.Int("trader_id", t.ID),
				zap.String("asset", asset),
				zap.Float64("amount", amount))
		}
	}
}

// Depth returns the aggregated top-of-book view for an asset.
func (e *Engine) Depth(asset string, levels int) MarketDepth {
	return e.Book(asset).GetMarketDepth(levels)
}

// Assets lists the assets with a live book.
func (e *Engine) Assets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	assets := make([]string, 0, len(e.books))
	for asset := range e.books {
		assets = append(assets, asset)
	}
	return assets
}
