package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"venue/internal/config"
	"venue/internal/db"
	"venue/internal/models"
)

// Seed the database with test data
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// First check if we already have trades
	trades, err := database.GetAllTrades(ctx)
	if err != nil {
		log.Fatalf("Failed to check trades: %v", err)
	}

	if len(trades) > 0 {
		fmt.Printf("Database already has %d trades. No need to seed.\n", len(trades))
		os.Exit(0)
	}

	// bcrypt hash of "password"
	const seedHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

	seedParticipant := func(username string) int {
		var id int
		err := database.Pool.QueryRow(ctx, "SELECT id FROM participants WHERE username = $1", username).Scan(&id)
		if err == nil {
			return id
		}
		err = database.Pool.QueryRow(ctx,
			"INSERT INTO participants (username, password_hash) VALUES ($1, $2) RETURNING id",
			username, seedHash).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to create participant %s: %v", username, err)
		}
		return id
	}

	buyerID := seedParticipant("trader1")
	sellerID := seedParticipant("trader2")

	seedOrder := func(traderID int, side models.Side, price float64, qty int64, age time.Duration) int {
		var id int
		err := database.Pool.QueryRow(ctx,
			"INSERT INTO orders (trader_id, asset, side, kind, quantity, price, stop_price, tick, status, created_at) "+
				"VALUES ($1, 'TECH', $2, 'limit', $3, $4, 0, 0, 'filled', NOW() - $5::interval) RETURNING id",
			traderID, side, qty, price, age.String()).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to create order: %v", err)
		}
		return id
	}

	type fill struct {
		price float64
		qty   int64
		age   time.Duration
	}
	fills := []fill{
		{price: 98.0, qty: 40, age: 72 * time.Hour},
		{price: 100.0, qty: 25, age: 48 * time.Hour},
		{price: 103.5, qty: 60, age: 24 * time.Hour},
	}

	for _, f := range fills {
		buyOrder := seedOrder(buyerID, models.SideBuy, f.price, f.qty, f.age)
		sellOrder := seedOrder(sellerID, models.SideSell, f.price, f.qty, f.age)

		trade := models.Trade{
			Asset:       "TECH",
			BuyOrderID:  buyOrder,
			SellOrderID: sellOrder,
			BuyerID:     buyerID,
			SellerID:    sellerID,
			Price:       f.price,
			Quantity:    f.qty,
			ExecutedAt:  time.Now().Add(-f.age),
		}
		if _, err := database.CreateTrade(ctx, &trade); err != nil {
			log.Fatalf("Failed to create trade: %v", err)
		}
	}

	fmt.Println("Successfully seeded the database with test trades!")
}
