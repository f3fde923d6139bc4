package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/auth"
	"trade-mentor-server/internal/detector"
	"trade-mentor-server/internal/distribution"
	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/marketdata"
	"trade-mentor-server/internal/pricebridge"
	"trade-mentor-server/internal/scoring"
)

const testSecret = "test-secret"

// newTestServer wires the full pipeline over the mock provider with Redis
// disabled, so the distributor stays in local mode.
func newTestServer(t *testing.T, jwtManager *auth.JWTManager) *Server {
	t.Helper()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	provider := marketdata.NewMockClient()
	bus := events.NewEventBus()

	hub := distribution.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Close)

	distributor := distribution.NewDistributor(hub, config.RedisConfig{Enabled: false}, "test:events", logger)

	coaching := pricebridge.NewCoachingEngine(0.25)
	bridge := pricebridge.NewBridge(provider, nil, distributor, coaching, config.BridgeConfig{
		MinBroadcastInterval: 100,
		PollingInterval:      3600,
	}, logger)

	analyzer := analysis.NewMTFAnalyzer(provider, []marketdata.Timeframe{marketdata.TF5m, marketdata.TF1h}, 50)
	scorer := scoring.NewScorer(scoring.Config{})

	det := detector.NewDetector(provider, analyzer, scorer, bus, nil, coaching, config.DetectorConfig{
		DetectionInterval: 3600,
	}, 0, logger)
	det.AddSymbol("SPY")

	return NewServer(config.ServerConfig{Port: 0}, nil, bus, det, bridge, hub, distributor, jwtManager, true)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthReportsBroadcastMode(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse(t, w)
	require.Equal(t, "healthy", resp["status"])
	require.Equal(t, "local", resp["broadcast_mode"])
}

func TestWatchlistLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/api/watchlist", `{"symbol":"msft"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/watchlist", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	require.Contains(t, resp["data"], "MSFT")

	w = doRequest(s, http.MethodDelete, "/api/watchlist/MSFT", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/watchlist", "")
	resp = parseResponse(t, w)
	require.NotContains(t, resp["data"], "MSFT")
}

func TestWatchlistRejectsEmptySymbol(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/api/watchlist", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualAnalyzeProducesSetup(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/api/detector/analyze/SPY", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse(t, w)
	setup, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "SPY", setup["symbol"])
}

func TestStreamModeIsLocalWithoutRedis(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/stream/mode", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse(t, w)
	data := resp["data"].(map[string]interface{})
	require.Equal(t, "local", data["mode"])
}

func TestStreamSubscribeRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodPost, "/api/stream/subscribe", `{"symbol":"SPY"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/stream/stats", "")
	resp := parseResponse(t, w)
	data := resp["data"].(map[string]interface{})
	require.Contains(t, data["watched_symbols"], "SPY")

	w = doRequest(s, http.MethodPost, "/api/stream/unsubscribe", `{"symbol":"SPY"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func signTestToken(t *testing.T, userID string, isAdmin bool) string {
	t.Helper()
	claims := auth.Claims{
		UserClaims: auth.UserClaims{UserID: userID, IsAdmin: isAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestAuthGuardsAPIRoutes(t *testing.T) {
	s := newTestServer(t, auth.NewJWTManager(testSecret, ""))

	w := doRequest(s, http.MethodGet, "/api/watchlist", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/watchlist", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-1", false))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAlertRequiresAdminRole(t *testing.T) {
	s := newTestServer(t, auth.NewJWTManager(testSecret, ""))

	body := `{"message":"maintenance at close"}`

	req := httptest.NewRequest(http.MethodPost, "/api/admin/alert", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "user-1", false))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/alert", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "admin-1", true))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownSetupReturns404(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/api/setups/ZZZZ", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestResponsesCarryTraceID(t *testing.T) {
	s := newTestServer(t, nil)

	w := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, w.Header().Get("X-Trace-ID"), 32)
}
