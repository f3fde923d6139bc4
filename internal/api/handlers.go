package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/logging"
)

// handleDetectorStatus returns the detector's runtime counters
func (s *Server) handleDetectorStatus(c *gin.Context) {
	successResponse(c, s.detector.Stats())
}

// handleStartDetector starts the detection loop
func (s *Server) handleStartDetector(c *gin.Context) {
	if err := s.detector.Start(); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	successResponse(c, gin.H{"running": true})
}

// handleStopDetector stops the detection loop
func (s *Server) handleStopDetector(c *gin.Context) {
	s.detector.Stop()
	successResponse(c, gin.H{"running": false})
}

// handleAnalyzeSymbol runs one on-demand analysis pass for a symbol
func (s *Server) handleAnalyzeSymbol(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	setup, err := s.detector.AnalyzeSymbol(ctx, symbol)
	if err != nil {
		logging.FromContext(c.Request.Context()).WithComponent("API").
			Error("manual analysis failed", "symbol", symbol, "error", err)
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	successResponse(c, setup)
}

// handleGetWatchlist returns the symbols under detection
func (s *Server) handleGetWatchlist(c *gin.Context) {
	successResponse(c, s.detector.Watchlist())
}

type watchlistRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// handleAddToWatchlist adds a symbol to the watchlist and persists it
func (s *Server) handleAddToWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	s.detector.AddSymbol(symbol)

	if s.repo != nil {
		if err := s.repo.AddWatchlistSymbol(c.Request.Context(), symbol); err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to persist watchlist entry")
			return
		}
	}

	successResponse(c, gin.H{"symbol": symbol, "watchlist": s.detector.Watchlist()})
}

// handleRemoveFromWatchlist drops a symbol from detection
func (s *Server) handleRemoveFromWatchlist(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	s.detector.RemoveSymbol(symbol)

	if s.repo != nil {
		if err := s.repo.RemoveWatchlistSymbol(c.Request.Context(), symbol); err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to remove watchlist entry")
			return
		}
	}

	successResponse(c, gin.H{"symbol": symbol, "watchlist": s.detector.Watchlist()})
}

// handleGetSetups returns the current in-memory setups, highest confluence first
func (s *Server) handleGetSetups(c *gin.Context) {
	// persisted=true reads from the database instead of live state
	if c.Query("persisted") == "true" && s.repo != nil {
		setups, err := s.repo.GetSetups(c.Request.Context())
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to load setups")
			return
		}
		successResponse(c, setups)
		return
	}

	successResponse(c, s.detector.Setups())
}

// handleGetSetup returns the latest setup for a symbol, falling back to the
// persisted copy when the detector has none in memory
func (s *Server) handleGetSetup(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	if setup := s.detector.Setup(symbol); setup != nil {
		successResponse(c, setup)
		return
	}

	if s.repo != nil {
		setup, err := s.repo.GetSetup(c.Request.Context(), symbol)
		if err != nil {
			errorResponse(c, http.StatusInternalServerError, "failed to load setup")
			return
		}
		if setup != nil {
			successResponse(c, setup)
			return
		}
	}

	errorResponse(c, http.StatusNotFound, "no setup for symbol")
}

// handleGetSetupHistory returns persisted stage transitions for a symbol
func (s *Server) handleGetSetupHistory(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusNotImplemented, "persistence is disabled")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	history, err := s.repo.GetTransitionHistory(c.Request.Context(), symbol, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "failed to load transition history")
		return
	}

	successResponse(c, history)
}

// handleGetBroadcastMode reports which delivery backend the process settled on
func (s *Server) handleGetBroadcastMode(c *gin.Context) {
	successResponse(c, gin.H{"mode": string(s.distributor.Mode())})
}

// handleGetStreamStats returns connection and subscription counts
func (s *Server) handleGetStreamStats(c *gin.Context) {
	successResponse(c, gin.H{
		"total_clients":   s.hub.GetTotalClientCount(),
		"connected_users": s.hub.GetConnectedUsers(),
		"watched_symbols": s.bridge.WatchedSymbols(),
	})
}

type streamSymbolRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// handleSubscribeSymbol subscribes the calling user to a symbol's price feed
func (s *Server) handleSubscribeSymbol(c *gin.Context) {
	var req streamSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	userID := s.getUserID(c)

	if err := s.bridge.Subscribe(userID, symbol); err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}

	// Greet a subscriber whose symbol already has an active setup
	if setup := s.detector.Setup(symbol); setup != nil {
		msg := fmt.Sprintf("Heads up: %s has a %s %s setup, confluence %d (%s).",
			symbol, setup.Stage, setup.Direction, setup.ConfluenceScore, setup.Grade)
		s.distributor.SendToUser(userID, events.NewCompanionMessage(msg))
	}

	successResponse(c, gin.H{"symbol": symbol})
}

// handleUnsubscribeSymbol removes the calling user from a symbol's price feed
func (s *Server) handleUnsubscribeSymbol(c *gin.Context) {
	var req streamSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	s.bridge.Unsubscribe(s.getUserID(c), symbol)

	successResponse(c, gin.H{"symbol": symbol})
}

type adminAlertRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message" binding:"required"`
	Severity string `json:"severity"`
}

// handleAdminAlert broadcasts an operator alert to every connected client
func (s *Server) handleAdminAlert(c *gin.Context) {
	var req adminAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "message is required")
		return
	}

	if req.Severity == "" {
		req.Severity = "info"
	}

	s.eventBus.PublishAdminAlert(req.Title, req.Message, req.Severity)
	successResponse(c, gin.H{"sent": true})
}

type gammaFlipRequest struct {
	Symbol string  `json:"symbol" binding:"required"`
	Price  float64 `json:"price"`
}

// handleSetGammaFlip records a symbol's gamma flip level for coaching
// triggers. Price 0 clears the level.
func (s *Server) handleSetGammaFlip(c *gin.Context) {
	var req gammaFlipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	symbol := strings.ToUpper(req.Symbol)
	s.bridge.SetGammaFlip(symbol, req.Price)
	successResponse(c, gin.H{"symbol": symbol, "price": req.Price})
}
