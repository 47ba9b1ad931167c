package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"venue/internal/auth"
	"venue/internal/db"
	"venue/internal/exchange"
	"venue/internal/models"
	"venue/internal/portfolio"
)

type contextKey string

const traderIDKey contextKey = "trader_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB           *db.DB
	Engine       *exchange.Engine
	AuthService  *auth.AuthService
	Logger       *zap.Logger
	StartingCash float64
	DepthLevels  int
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, engine *exchange.Engine, authService *auth.AuthService, logger *zap.Logger, startingCash float64, depthLevels int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		DB:           database,
		Engine:       engine,
		AuthService:  authService,
		Logger:       logger,
		StartingCash: startingCash,
		DepthLevels:  depthLevels,
	}
}

// Register handles participant registration and funds the new trader
// with the venue's starting cash.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	participant, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register participant"}`, http.StatusInternalServerError)
		return
	}

	h.Engine.RegisterTrader(portfolio.NewTrader(participant.ID, participant.Username, h.StartingCash))

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       participant.ID,
		"username": participant.Username,
	})
}

// Login handles participant login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	// Make sure a trader account exists after a server restart.
	if participant, err := h.DB.GetParticipantByUsername(r.Context(), req.Username); err == nil {
		if h.Engine.Trader(participant.ID) == nil {
			h.Engine.RegisterTrader(portfolio.NewTrader(participant.ID, participant.Username, h.StartingCash))
		}
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		traderID, err := h.AuthService.GetTraderFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), traderIDKey, traderID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceOrder validates the intent, persists it, and runs it through the
// matching engine as a one-order tick.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	traderID, ok := r.Context().Value(traderIDKey).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Asset     string  `json:"asset"`
		Side      string  `json:"side"`
		Kind      string  `json:"kind"`
		Quantity  int64   `json:"quantity"`
		Price     float64 `json:"price"`
		StopPrice float64 `json:"stop_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Asset == "" {
		http.Error(w, `{"error": "Asset required"}`, http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = string(models.KindLimit)
	}

	order, err := models.NewOrder(0, traderID, req.Asset, models.Side(req.Side), models.Kind(req.Kind), req.Quantity, req.Price, req.StopPrice)
	if err != nil {
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	// Save order to database
	dbOrder, err := h.DB.CreateOrder(r.Context(), order)
	if err != nil {
		http.Error(w, `{"error": "Failed to create order"}`, http.StatusInternalServerError)
		return
	}
	order.ID = dbOrder.ID

	result := h.Engine.Step([]*models.Order{order})

	// Save trades to database
	for _, trade := range result.Trades {
		if _, err := h.DB.CreateTrade(r.Context(), &trade); err != nil {
			http.Error(w, `{"error": "Failed to record trade"}`, http.StatusInternalServerError)
			return
		}
	}

	// Mirror book outcomes into order status
	for _, orderID := range result.FilledOrderIDs {
		if err := h.DB.UpdateOrderStatus(r.Context(), orderID, "filled"); err != nil {
			http.Error(w, `{"error": "Failed to update order status"}`, http.StatusInternalServerError)
			return
		}
	}
	for _, orderID := range result.CanceledOrderIDs {
		if err := h.DB.UpdateOrderStatus(r.Context(), orderID, "canceled"); err != nil {
			http.Error(w, `{"error": "Failed to update order status"}`, http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Order placed",
		"order_id": order.ID,
		"trades":   len(result.Trades),
	})
}

// GetOrders retrieves a participant's orders
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	traderID, ok := r.Context().Value(traderIDKey).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orders, err := h.DB.GetParticipantOrders(r.Context(), traderID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(orders)
}

// GetDepth retrieves the aggregated market depth for one asset
func (h *Handler) GetDepth(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		http.Error(w, `{"error": "Asset required"}`, http.StatusBadRequest)
		return
	}

	levels := h.DepthLevels
	if raw := r.URL.Query().Get("levels"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			levels = n
		}
	}

	json.NewEncoder(w).Encode(h.Engine.Depth(asset, levels))
}

// GetTrades retrieves a participant's trade history
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	traderID, ok := r.Context().Value(traderIDKey).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	trades, err := h.DB.GetParticipantTrades(r.Context(), traderID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve trades"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(trades)
}

// GetPortfolio returns the trader's accounting snapshot
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	traderID, ok := r.Context().Value(traderIDKey).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	trader := h.Engine.Trader(traderID)
	if trader == nil {
		http.Error(w, `{"error": "Trader not found"}`, http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(trader.Snapshot())
}

// CancelOrder cancels an open order in the database and the book
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	traderID, ok := r.Context().Value(traderIDKey).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderIDStr := chi.URLParam(r, "id")
	orderID, err := strconv.Atoi(orderIDStr)
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	// Cancel order in database
	err = h.DB.CancelOrder(r.Context(), orderID, traderID)
	if err != nil {
		http.Error(w, `{"error": "Failed to cancel order: `+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	// Remove from the book. Not finding it is non-fatal: the DB is the
	// source of truth and the order may already have filled.
	if !h.Engine.CancelOrder(orderID) {
		h.Logger.Info("order not found in any book", zap.Int("order_id", orderID))
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Order canceled"})
}
