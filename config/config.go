package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MarketDataConfig   MarketDataConfig   `json:"market_data"`
	DetectorConfig     DetectorConfig     `json:"detector"`
	ScoringConfig      ScoringConfig      `json:"scoring"`
	BridgeConfig       BridgeConfig       `json:"price_bridge"`
	DistributionConfig DistributionConfig `json:"distribution"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
}

// MarketDataConfig holds market data provider configuration
type MarketDataConfig struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	StreamURL string `json:"stream_url"`
	MockMode  bool   `json:"mock_mode"` // Use simulated data when the provider is unavailable
}

// DetectorConfig holds setup detection configuration
type DetectorConfig struct {
	Enabled               bool     `json:"enabled"`
	Driver                string   `json:"driver"`             // "polling" or "event"
	DetectionInterval     int      `json:"detection_interval"` // Seconds between polling sweeps
	DebounceInterval      int      `json:"debounce_interval"`  // Seconds between event-driven analyses per symbol
	MaxConcurrentAnalyses int      `json:"max_concurrent_analyses"`
	WorkerCount           int      `json:"worker_count"` // Concurrent workers per polling sweep
	BarLimit              int      `json:"bar_limit"`    // Bars fetched per timeframe
	DefaultWatchlist      []string `json:"default_watchlist"`
}

// ScoringConfig holds confluence scoring thresholds
type ScoringConfig struct {
	MinConfluenceScore    int     `json:"min_confluence_score"`    // Minimum to publish a setup at all
	ReadyThreshold        int     `json:"ready_threshold"`         // Confluence required for stage=ready
	LevelTolerancePercent float64 `json:"level_tolerance_percent"` // Proximity window around a level
}

// BridgeConfig holds price fan-out throttling configuration
type BridgeConfig struct {
	MinBroadcastInterval   int     `json:"min_broadcast_interval_ms"` // Milliseconds between broadcasts per symbol
	SignificantMovePercent float64 `json:"significant_move_percent"`  // Move size that bypasses the throttle
	PollingInterval        int     `json:"polling_interval"`          // Seconds between quote polls when no stream
	LevelApproachPercent   float64 `json:"level_approach_percent"`    // Distance that fires a level approach event
}

// DistributionConfig selects the broadcast backend
type DistributionConfig struct {
	Channel string `json:"channel"` // Redis pub/sub channel for cross-instance fan-out
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds web server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	TLSEnabled      bool   `json:"tls_enabled"`
	TLSCertFile     string `json:"tls_cert_file"`
	TLSKeyFile      string `json:"tls_key_file"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
}

// AuthConfig holds JWT validation configuration. Token issuance lives with
// the identity service; this server only validates.
type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

// VaultConfig holds HashiCorp Vault configuration for provider credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// RedisConfig holds Redis configuration for cross-instance broadcasting
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func Load() (*Config, error) {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Market data config
	cfg.MarketDataConfig.APIKey = getEnvOrDefault("MARKET_DATA_API_KEY", cfg.MarketDataConfig.APIKey)
	cfg.MarketDataConfig.BaseURL = getEnvOrDefault("MARKET_DATA_BASE_URL", cfg.MarketDataConfig.BaseURL)
	if cfg.MarketDataConfig.BaseURL == "" {
		cfg.MarketDataConfig.BaseURL = "https://api.polygon.io"
	}
	cfg.MarketDataConfig.StreamURL = getEnvOrDefault("MARKET_DATA_STREAM_URL", cfg.MarketDataConfig.StreamURL)
	if cfg.MarketDataConfig.StreamURL == "" {
		cfg.MarketDataConfig.StreamURL = "wss://socket.polygon.io/stocks"
	}
	cfg.MarketDataConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"

	// Detector config
	cfg.DetectorConfig.Enabled = getEnvOrDefault("DETECTOR_ENABLED", "true") == "true"
	cfg.DetectorConfig.Driver = getEnvOrDefault("DETECTOR_DRIVER", "polling")
	cfg.DetectorConfig.DetectionInterval = getEnvIntOrDefault("DETECTOR_INTERVAL", 30)
	cfg.DetectorConfig.DebounceInterval = getEnvIntOrDefault("DETECTOR_DEBOUNCE_INTERVAL", 10)
	cfg.DetectorConfig.MaxConcurrentAnalyses = getEnvIntOrDefault("DETECTOR_MAX_CONCURRENT", 4)
	cfg.DetectorConfig.WorkerCount = getEnvIntOrDefault("DETECTOR_WORKER_COUNT", 4)
	cfg.DetectorConfig.BarLimit = getEnvIntOrDefault("DETECTOR_BAR_LIMIT", 100)
	if watchlist := os.Getenv("DETECTOR_WATCHLIST"); watchlist != "" {
		cfg.DetectorConfig.DefaultWatchlist = splitAndTrim(watchlist)
	}
	if len(cfg.DetectorConfig.DefaultWatchlist) == 0 {
		cfg.DetectorConfig.DefaultWatchlist = []string{"SPY", "QQQ", "AAPL", "TSLA", "NVDA"}
	}

	// Scoring config
	cfg.ScoringConfig.MinConfluenceScore = getEnvIntOrDefault("SCORING_MIN_CONFLUENCE", 60)
	cfg.ScoringConfig.ReadyThreshold = getEnvIntOrDefault("SCORING_READY_THRESHOLD", 70)
	cfg.ScoringConfig.LevelTolerancePercent = getEnvFloatOrDefault("SCORING_LEVEL_TOLERANCE", 0.5)

	// Price bridge config
	cfg.BridgeConfig.MinBroadcastInterval = getEnvIntOrDefault("BRIDGE_MIN_BROADCAST_MS", 500)
	cfg.BridgeConfig.SignificantMovePercent = getEnvFloatOrDefault("BRIDGE_SIGNIFICANT_MOVE", 0.1)
	cfg.BridgeConfig.PollingInterval = getEnvIntOrDefault("BRIDGE_POLLING_INTERVAL", 5)
	cfg.BridgeConfig.LevelApproachPercent = getEnvFloatOrDefault("BRIDGE_LEVEL_APPROACH", 0.25)

	// Distribution config
	cfg.DistributionConfig.Channel = getEnvOrDefault("DISTRIBUTION_CHANNEL", "trade-mentor:events")

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.TLSEnabled = getEnvOrDefault("SERVER_TLS_ENABLED", "false") == "true"
	cfg.ServerConfig.TLSCertFile = getEnvOrDefault("SERVER_TLS_CERT", "")
	cfg.ServerConfig.TLSKeyFile = getEnvOrDefault("SERVER_TLS_KEY", "")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)
	cfg.ServerConfig.RateLimitPerMin = getEnvIntOrDefault("SERVER_RATE_LIMIT_PER_MIN", 120)

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.Issuer = getEnvOrDefault("AUTH_ISSUER", "trade-mentor")

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "trade-mentor/api-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Database config
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", strconv.FormatBool(cfg.DatabaseConfig.URL != "")) == "true"

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", strconv.FormatBool(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)
}

func (c *Config) validate() error {
	switch c.DetectorConfig.Driver {
	case "polling", "event":
	default:
		return fmt.Errorf("invalid detector driver %q (want polling or event)", c.DetectorConfig.Driver)
	}
	if c.ScoringConfig.ReadyThreshold < c.ScoringConfig.MinConfluenceScore {
		return fmt.Errorf("ready threshold %d below minimum confluence %d",
			c.ScoringConfig.ReadyThreshold, c.ScoringConfig.MinConfluenceScore)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth enabled but AUTH_JWT_SECRET is not set")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
