package api

import (
	"log"
	"net/http"

	"trade-mentor-server/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin allow-listing happens at the CORS layer
		return true
	},
}

// AuthenticatedWSHandler creates a WebSocket handler that requires authentication.
// Supports both Authorization header and query param token, since browser
// WebSocket clients cannot set headers.
func AuthenticatedWSHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authEnabled {
			userID := auth.GetUserID(c)

			// If not authenticated via header, try query param token
			if userID == "" {
				token := c.Query("token")
				if token != "" {
					claims, err := s.jwtManager.ValidateAccessToken(token)
					if err == nil && claims != nil {
						c.Set(auth.ContextKeyUserID, claims.UserID)
						c.Set(auth.ContextKeyEmail, claims.Email)
						c.Set(auth.ContextKeyIsAdmin, claims.IsAdmin)
						c.Set(auth.ContextKeyClaims, claims)
						userID = claims.UserID
					}
				}
			}

			if userID == "" {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   auth.ErrUnauthorized.Code,
					"message": "authentication required for WebSocket connection",
				})
				return
			}
		}

		s.handleWebSocket(c)
	}
}

// handleWebSocket upgrades the connection and attaches it to the hub. When
// the connection's last sibling drops, the user's price subscriptions are
// released so the bridge stops fetching on their behalf.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	userID := s.getUserID(c)
	client := s.hub.Attach(conn, userID)

	go func() {
		<-client.Done()
		if s.hub.GetUserClientCount(userID) == 0 {
			s.bridge.UnsubscribeAll(userID)
		}
	}()
}
