package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"venue/internal/exchange"
	"venue/internal/models"
	"venue/internal/portfolio"
)

// Drives random order flow through the engine in-process and reports
// throughput. Useful for exercising stops, market conversion and the
// accounting under sustained crossing flow.
func main() {
	ticks := flag.Int("ticks", 1000, "number of ticks to run")
	ordersPerTick := flag.Int("orders-per-tick", 20, "orders submitted per tick")
	traders := flag.Int("traders", 10, "number of traders")
	asset := flag.String("asset", "TECH", "asset to trade")
	basePrice := flag.Float64("base-price", 100, "mid price used for randomization")
	priceBand := flag.Float64("price-band", 5, "max offset from the mid for limit prices")
	cash := flag.Float64("cash", 1_000_000, "starting cash per trader")
	inventory := flag.Int64("inventory", 1000, "starting position per trader")
	marketRatio := flag.Int("market-ratio", 10, "1 in N orders is a market order")
	stopRatio := flag.Int("stop-ratio", 20, "1 in N orders is a stop order")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for the random stream")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	engine := exchange.NewEngine(zap.NewNop())

	for i := 1; i <= *traders; i++ {
		t := portfolio.NewTrader(i, fmt.Sprintf("loadgen-%d", i), *cash)
		t.Portfolio.UpdatePosition(*asset, *inventory, *basePrice)
		engine.RegisterTrader(t)
	}

	var totalTrades, totalVolume int64
	nextID := 1

	start := time.Now()
	for tick := 0; tick < *ticks; tick++ {
		batch := make([]*models.Order, 0, *ordersPerTick)
		for i := 0; i < *ordersPerTick; i++ {
			order := nextRandomOrder(rng, &nextID, *asset, *basePrice, *priceBand, *marketRatio, *stopRatio, *traders)
			if order != nil {
				batch = append(batch, order)
			}
		}
		result := engine.Step(batch)
		totalTrades += int64(len(result.Trades))
		for _, t := range result.Trades {
			totalVolume += t.Quantity
		}
	}
	elapsed := time.Since(start)

	last, _ := engine.LastPrice(*asset)
	depth := engine.Depth(*asset, 5)

	fmt.Printf("ticks=%d orders=%d trades=%d volume=%d elapsed=%s (%.0f orders/s)\n",
		*ticks, nextID-1, totalTrades, totalVolume, elapsed,
		float64(nextID-1)/elapsed.Seconds())
	fmt.Printf("last=%.2f bids=%d asks=%d\n", last, len(depth.Bids), len(depth.Asks))
}

func nextRandomOrder(rng *rand.Rand, nextID *int, asset string, base, band float64, marketRatio, stopRatio, traders int) *models.Order {
	side := models.SideBuy
	if rng.Intn(2) == 0 {
		side = models.SideSell
	}

	kind := models.KindLimit
	price := base + (rng.Float64()*2-1)*band
	stopPrice := 0.0
	switch {
	case stopRatio > 0 && rng.Intn(stopRatio) == 0:
		kind = models.KindStop
		stopPrice = base + (rng.Float64()*2-1)*band
		price = 0
	case marketRatio > 0 && rng.Intn(marketRatio) == 0:
		kind = models.KindMarket
		price = 0
	}

	qty := int64(rng.Intn(50) + 1)
	traderID := rng.Intn(traders) + 1

	order, err := models.NewOrder(*nextID, traderID, asset, side, kind, qty, price, stopPrice)
	if err != nil {
		return nil
	}
	*nextID++
	return order
}
