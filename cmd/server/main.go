package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"venue/internal/api"
	"venue/internal/auth"
	"venue/internal/config"
	"venue/internal/db"
	"venue/internal/exchange"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func broadcastDepth(engine *exchange.Engine, levels int, logger *zap.Logger) {
	depths := make(map[string]exchange.MarketDepth)
	for _, asset := range engine.Assets() {
		depths[asset] = engine.Depth(asset, levels)
	}
	data, err := json.Marshal(depths)
	if err != nil {
		logger.Error("failed to marshal depth", zap.Error(err))
		return
	}

	clientsMu.RLock()
	stale := make([]*WSClient, 0)
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			logger.Warn("failed to send depth update", zap.Error(err))
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(engine *exchange.Engine, levels int, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send the current depth straight away
		broadcastDepth(engine, levels, logger)

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up config, database, engine, and HTTP server
func main() {
	ctx := context.Background()

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	engine := exchange.NewEngine(logger)
	authService := auth.NewAuthService(database, cfg.JWTSecret)
	handler := api.NewHandler(database, engine, authService, logger, cfg.StartingCash, cfg.DepthLevels)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint
	r.Get("/ws", handleWebSocket(engine, cfg.DepthLevels, logger))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/depth", handler.GetDepth)
		r.Get("/trades", handler.GetTrades)
		r.Get("/portfolio", handler.GetPortfolio)
	})

	// Periodic depth broadcast
	go func() {
		ticker := time.NewTicker(cfg.BroadcastInterval)
		for range ticker.C {
			broadcastDepth(engine, cfg.DepthLevels, logger)
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
