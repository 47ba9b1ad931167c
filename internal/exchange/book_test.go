package exchange

import (
	"testing"
	"time"

	"venue/internal/models"
	"venue/internal/portfolio"
)

func newTestTrader(id int, cash float64, holdings map[string]int64) *portfolio.Trader {
	t := portfolio.NewTrader(id, "", cash)
	for asset, qty := range holdings {
		t.Portfolio.UpdatePosition(asset, qty, 100)
	}
	return t
}

func limitOrder(id, traderID int, side models.Side, price float64, qty int64, at time.Time) *models.Order {
	return &models.Order{
		ID:          id,
		TraderID:    traderID,
		Asset:       "TECH",
		Side:        side,
		Kind:        models.KindLimit,
		Quantity:    qty,
		Price:       price,
		SubmittedAt: at,
	}
}

func TestOrderBook_AddOrder(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()

	orders := []*models.Order{
		limitOrder(1, 1, models.SideBuy, 100, 10, now.Add(-time.Second)),
		limitOrder(2, 1, models.SideBuy, 101, 20, now),
		limitOrder(3, 1, models.SideBuy, 100, 30, now.Add(time.Second)),
		limitOrder(4, 2, models.SideSell, 103, 10, now),
		limitOrder(5, 2, models.SideSell, 102, 20, now),
	}
	for _, o := range orders {
		if !book.AddOrder(o) {
			t.Fatalf("expected order %d to be accepted", o.ID)
		}
	}

	if bid, ok := book.BestBid(); !ok || bid != 101 {
		t.Errorf("expected best bid 101, got %v (%v)", bid, ok)
	}
	if ask, ok := book.BestAsk(); !ok || ask != 102 {
		t.Errorf("expected best ask 102, got %v (%v)", ask, ok)
	}

	depth := book.GetMarketDepth(5)
	if len(depth.Bids) != 2 {
		t.Errorf("expected 2 bid levels, got %d", len(depth.Bids))
	}
	if depth.Bids[1].Quantity != 40 || depth.Bids[1].Orders != 2 {
		t.Errorf("expected aggregated level qty=40 orders=2, got qty=%d orders=%d",
			depth.Bids[1].Quantity, depth.Bids[1].Orders)
	}
}

func TestOrderBook_AddOrder_AssetMismatch(t *testing.T) {
	book := NewOrderBook("TECH")
	order := limitOrder(1, 1, models.SideBuy, 100, 10, time.Now())
	order.Asset = "ENERGY"

	if book.AddOrder(order) {
		t.Error("expected mismatched asset to be rejected")
	}
	if _, ok := book.BestBid(); ok {
		t.Error("rejected order must not rest on the book")
	}
}

func TestOrderBook_MarketOrderConversion(t *testing.T) {
	book := NewOrderBook("TECH")
	traders := map[int]*portfolio.Trader{
		1: newTestTrader(1, 100000, nil),
		2: newTestTrader(2, 0, map[string]int64{"TECH": 100}),
	}

	ask := limitOrder(1, 2, models.SideSell, 101.0, 50, time.Now().Add(-time.Second))
	if !book.AddOrder(ask) {
		t.Fatal("failed to add resting ask")
	}

	market := &models.Order{
		ID:          2,
		TraderID:    1,
		Asset:       "TECH",
		Side:        models.SideBuy,
		Kind:        models.KindMarket,
		Quantity:    50,
		SubmittedAt: time.Now(),
	}
	if !book.AddOrder(market) {
		t.Fatal("failed to add market order")
	}

	// Converted to a limit priced through the ask
	if market.Kind != models.KindLimit {
		t.Errorf("expected market order converted to limit, got %s", market.Kind)
	}
	if market.Price < 101.0+marketBuffer {
		t.Errorf("expected converted price >= %.2f, got %.2f", 101.0+marketBuffer, market.Price)
	}

	result := book.Match(traders)
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	// Fills at the resting ask's price, not the converted price
	if result.Trades[0].Price != 101.0 {
		t.Errorf("expected trade at 101.0, got %.2f", result.Trades[0].Price)
	}
	if result.Trades[0].Quantity != 50 {
		t.Errorf("expected trade quantity 50, got %d", result.Trades[0].Quantity)
	}
}

func TestOrderBook_MarketOrderEmptyBookDefaults(t *testing.T) {
	book := NewOrderBook("TECH")

	buy := &models.Order{ID: 1, TraderID: 1, Asset: "TECH", Side: models.SideBuy, Kind: models.KindMarket, Quantity: 10, SubmittedAt: time.Now()}
	sell := &models.Order{ID: 2, TraderID: 2, Asset: "TECH", Side: models.SideSell, Kind: models.KindMarket, Quantity: 10, SubmittedAt: time.Now()}

	book.AddOrder(buy)
	if buy.Price != marketBuyDefault {
		t.Errorf("expected default buy price %.2f, got %.2f", marketBuyDefault, buy.Price)
	}
	// The resting market buy is now liquidity, so the market sell prices
	// off it rather than the floor default.
	book.AddOrder(sell)
	if sell.Price != marketBuyDefault-marketBuffer {
		t.Errorf("expected sell priced under the bid, got %.2f", sell.Price)
	}
}

func TestOrderBook_CancelOrder(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()

	book.AddOrder(limitOrder(1, 1, models.SideBuy, 100, 10, now))
	book.AddOrder(limitOrder(2, 2, models.SideSell, 105, 20, now))

	tests := []struct {
		name          string
		orderID       int
		expectRemoved bool
	}{
		{name: "RemoveBid", orderID: 1, expectRemoved: true},
		{name: "RemoveAsk", orderID: 2, expectRemoved: true},
		{name: "NonExistentOrder", orderID: 999, expectRemoved: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			removed := book.CancelOrder(tt.orderID)
			if removed != tt.expectRemoved {
				t.Errorf("expected removed=%v, got %v", tt.expectRemoved, removed)
			}
		})
	}

	// Emptied levels are gone entirely
	if _, ok := book.BestBid(); ok {
		t.Error("expected empty bid side after cancels")
	}
	if _, ok := book.BestAsk(); ok {
		t.Error("expected empty ask side after cancels")
	}
}

func TestOrderBook_CancelIdempotent(t *testing.T) {
	book := NewOrderBook("TECH")
	book.AddOrder(limitOrder(1, 1, models.SideBuy, 100, 10, time.Now()))

	book.CancelOrder(42)
	book.CancelOrder(42)

	if bid, ok := book.BestBid(); !ok || bid != 100 {
		t.Errorf("cancel of unknown id must not alter the book, best bid %v (%v)", bid, ok)
	}
}

func TestOrderBook_CheckStopOrders(t *testing.T) {
	book := NewOrderBook("TECH")
	book.AddOrder(limitOrder(1, 2, models.SideSell, 100, 10, time.Now()))

	stop := &models.Order{
		ID:          2,
		TraderID:    1,
		Asset:       "TECH",
		Side:        models.SideSell,
		Kind:        models.KindStop,
		Quantity:    10,
		StopPrice:   95,
		SubmittedAt: time.Now(),
	}
	book.AddOrder(stop)

	// Stops are not resting liquidity
	if _, ok := book.BestBid(); ok {
		t.Error("stop order must not appear as resting liquidity")
	}

	if triggered := book.CheckStopOrders(96); len(triggered) != 0 {
		t.Errorf("expected no triggers at 96, got %d", len(triggered))
	}

	triggered := book.CheckStopOrders(94)
	if len(triggered) != 1 {
		t.Fatalf("expected 1 trigger at 94, got %d", len(triggered))
	}
	if triggered[0].Kind != models.KindMarket || triggered[0].Price != 94 {
		t.Errorf("expected marketable order at 94, got kind=%s price=%.2f", triggered[0].Kind, triggered[0].Price)
	}

	// Re-submission makes it an aggressively priced resting order
	if !book.AddOrder(triggered[0]) {
		t.Fatal("failed to re-add triggered stop")
	}
	if triggered[0].Kind != models.KindLimit {
		t.Errorf("expected re-added stop converted to limit, got %s", triggered[0].Kind)
	}

	// The stop area no longer holds it
	if again := book.CheckStopOrders(94); len(again) != 0 {
		t.Errorf("expected stop area empty, got %d triggers", len(again))
	}
}

func TestOrderBook_Match_TimePriority(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()
	traders := map[int]*portfolio.Trader{
		1: newTestTrader(1, 100000, nil),
		2: newTestTrader(2, 0, map[string]int64{"TECH": 100}),
		3: newTestTrader(3, 0, map[string]int64{"TECH": 100}),
	}

	first := limitOrder(1, 2, models.SideSell, 100, 10, now.Add(-2*time.Second))
	second := limitOrder(2, 3, models.SideSell, 100, 10, now.Add(-time.Second))
	book.AddOrder(first)
	book.AddOrder(second)

	book.AddOrder(limitOrder(3, 1, models.SideBuy, 100, 10, now))
	result := book.Match(traders)

	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	if result.Trades[0].SellOrderID != 1 {
		t.Errorf("expected earlier sell order to fill first, got order %d", result.Trades[0].SellOrderID)
	}
	// The later order at the same price is still resting
	if second.Quantity != 10 {
		t.Errorf("expected later order untouched, remaining %d", second.Quantity)
	}
}

func TestOrderBook_Match_Scenario(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()

	traderA := portfolio.NewTrader(1, "A", 10000)
	traderB := portfolio.NewTrader(2, "B", 0)
	traderB.Portfolio.UpdatePosition("TECH", 100, 90)
	traders := map[int]*portfolio.Trader{1: traderA, 2: traderB}

	// B's sell carries the earlier timestamp, so B is passive
	book.AddOrder(limitOrder(10, 2, models.SideSell, 100, 50, now.Add(-time.Second)))
	book.AddOrder(limitOrder(11, 1, models.SideBuy, 100, 50, now))

	result := book.Match(traders)
	if len(result.Trades) != 1 {
		t.Fatalf("expected exactly 1 trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.Quantity != 50 || trade.Price != 100 || trade.BuyerID != 1 || trade.SellerID != 2 {
		t.Errorf("unexpected trade: %+v", trade)
	}

	if traderA.Portfolio.Cash != 5000 {
		t.Errorf("expected buyer cash 5000, got %.2f", traderA.Portfolio.Cash)
	}
	posA := traderA.Portfolio.Positions["TECH"]
	if posA == nil || posA.Quantity != 50 || posA.AvgCost != 100 {
		t.Errorf("unexpected buyer position: %+v", posA)
	}

	if traderB.Portfolio.Cash != 5000 {
		t.Errorf("expected seller cash 5000, got %.2f", traderB.Portfolio.Cash)
	}
	posB := traderB.Portfolio.Positions["TECH"]
	if posB == nil || posB.Quantity != 50 {
		t.Errorf("unexpected seller position: %+v", posB)
	}
}

func TestOrderBook_Match_PartialFill(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()
	traders := map[int]*portfolio.Trader{
		1: newTestTrader(1, 100000, nil),
		2: newTestTrader(2, 0, map[string]int64{"TECH": 100}),
	}

	sell := limitOrder(1, 2, models.SideSell, 100, 30, now.Add(-time.Second))
	book.AddOrder(sell)
	book.AddOrder(limitOrder(2, 1, models.SideBuy, 100, 10, now))

	result := book.Match(traders)
	if len(result.Trades) != 1 || result.Trades[0].Quantity != 10 {
		t.Fatalf("expected one 10-lot trade, got %+v", result.Trades)
	}
	if sell.Quantity != 20 {
		t.Errorf("expected 20 remaining on the resting sell, got %d", sell.Quantity)
	}
	// The partially filled sell still rests; the buy is gone
	if ask, ok := book.BestAsk(); !ok || ask != 100 {
		t.Errorf("expected resting ask at 100, got %v (%v)", ask, ok)
	}
	if _, ok := book.BestBid(); ok {
		t.Error("expected bid side empty after full fill")
	}
}

func TestOrderBook_Match_InfeasibleOrdersCancelled(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()

	broke := portfolio.NewTrader(1, "broke", 10) // cannot afford 10 @ 100
	funded := portfolio.NewTrader(2, "funded", 100000)
	seller := newTestTrader(3, 0, map[string]int64{"TECH": 100})
	empty := portfolio.NewTrader(4, "empty", 0) // nothing to deliver
	traders := map[int]*portfolio.Trader{1: broke, 2: funded, 3: seller, 4: empty}

	// The broke buyer has price priority; the funded buyer should trade
	// once the infeasible order is swept out.
	book.AddOrder(limitOrder(1, 1, models.SideBuy, 101, 10, now.Add(-time.Second)))
	book.AddOrder(limitOrder(2, 2, models.SideBuy, 100, 10, now))
	// The position-less seller has time priority at the best ask.
	book.AddOrder(limitOrder(3, 4, models.SideSell, 100, 10, now.Add(-time.Second)))
	book.AddOrder(limitOrder(4, 3, models.SideSell, 100, 10, now))

	result := book.Match(traders)
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.BuyerID != 2 || trade.SellerID != 3 {
		t.Errorf("expected funded buyer and holding seller to trade, got %+v", trade)
	}
	if len(result.CanceledOrderIDs) != 2 {
		t.Errorf("expected 2 infeasible orders cancelled, got %v", result.CanceledOrderIDs)
	}
}

func TestOrderBook_Match_NoResidualCross(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()
	traders := map[int]*portfolio.Trader{
		1: newTestTrader(1, 1000000, nil),
		2: newTestTrader(2, 0, map[string]int64{"TECH": 1000}),
	}

	for i := 0; i < 5; i++ {
		book.AddOrder(limitOrder(i+1, 1, models.SideBuy, 100+float64(i), 10, now.Add(time.Duration(i)*time.Millisecond)))
		book.AddOrder(limitOrder(i+10, 2, models.SideSell, 98+float64(i), 10, now.Add(time.Duration(i)*time.Millisecond)))
	}
	book.Match(traders)

	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if okBid && okAsk && bid >= ask {
		t.Errorf("book still crossed after match: bid=%.2f ask=%.2f", bid, ask)
	}
}

func TestOrderBook_FillConservation(t *testing.T) {
	book := NewOrderBook("TECH")
	now := time.Now()
	traders := map[int]*portfolio.Trader{
		1: newTestTrader(1, 1000000, nil),
		2: newTestTrader(2, 0, map[string]int64{"TECH": 1000}),
	}

	const buyQty = 45
	book.AddOrder(limitOrder(1, 2, models.SideSell, 100, 10, now.Add(-3*time.Second)))
	book.AddOrder(limitOrder(2, 2, models.SideSell, 100, 20, now.Add(-2*time.Second)))
	book.AddOrder(limitOrder(3, 2, models.SideSell, 101, 40, now.Add(-time.Second)))
	book.AddOrder(limitOrder(4, 1, models.SideBuy, 101, buyQty, now))

	result := book.Match(traders)
	var filled int64
	for _, trade := range result.Trades {
		filled += trade.Quantity
	}
	if filled != buyQty {
		t.Errorf("expected %d filled in total, got %d", buyQty, filled)
	}
}
