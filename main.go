package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/api"
	"trade-mentor-server/internal/auth"
	"trade-mentor-server/internal/database"
	"trade-mentor-server/internal/detector"
	"trade-mentor-server/internal/distribution"
	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/logging"
	"trade-mentor-server/internal/marketdata"
	"trade-mentor-server/internal/pricebridge"
	"trade-mentor-server/internal/scoring"
	"trade-mentor-server/internal/vault"

	"github.com/rs/zerolog"
)

// analysisTimeframes drive the multi-timeframe trend vote. Ordered lowest
// to highest so higher-timeframe levels win merges.
var analysisTimeframes = []marketdata.Timeframe{
	marketdata.TF5m,
	marketdata.TF15m,
	marketdata.TF1h,
	marketdata.TF4h,
	marketdata.TF1d,
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	zl := newZerolog(cfg.LoggingConfig)

	// Root context for long-running components
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Provider credentials: Vault when enabled, env/config otherwise
	apiKey := cfg.MarketDataConfig.APIKey
	baseURL := cfg.MarketDataConfig.BaseURL

	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatalf("Failed to initialize vault client: %v", err)
	}
	if vaultClient.IsEnabled() {
		creds, err := vaultClient.GetProviderCredentials(ctx)
		if err != nil {
			logger.Warn("Failed to read provider credentials from vault, falling back to env", "error", err)
		} else if creds != nil {
			apiKey = creds.APIKey
			if creds.BaseURL != "" {
				baseURL = creds.BaseURL
			}
			logger.Info("Provider credentials loaded from vault")
		}
	}

	// Market data provider
	var provider marketdata.Provider
	if cfg.MarketDataConfig.MockMode {
		provider = marketdata.NewMockClient()
		logger.Info("Market data provider running in mock mode")
	} else {
		provider = marketdata.NewClient(apiKey, baseURL)
		if !provider.IsConfigured() {
			logger.Warn("Market data provider has no API key; detection will skip all symbols")
		}
	}

	// Live stream (optional; polling covers its absence)
	var streamer marketdata.Streamer
	if !cfg.MarketDataConfig.MockMode && apiKey != "" && cfg.MarketDataConfig.StreamURL != "" {
		streamClient := marketdata.NewStreamClient(apiKey, cfg.MarketDataConfig.StreamURL)
		if err := streamClient.Connect(ctx); err != nil {
			logger.Warn("Stream connect failed, continuing without live feed", "error", err)
		} else {
			streamer = streamClient
			logger.Info("Market data stream connected", "url", cfg.MarketDataConfig.StreamURL)
		}
	}

	// Database (optional; the pipeline runs in-memory without it)
	var repo *database.Repository
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(cfg.DatabaseConfig.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		repo = database.NewRepository(db)

		if err := repo.SeedWatchlist(ctx, cfg.DetectorConfig.DefaultWatchlist); err != nil {
			logger.Warn("Failed to seed watchlist", "error", err)
		}
	}

	// Distribution: hub plus broker probe
	hub := distribution.NewHub(zl)
	go hub.Run()

	distributor := distribution.NewDistributor(hub, cfg.RedisConfig, cfg.DistributionConfig.Channel, zl)
	distributor.Start(ctx)
	distributor.BindBus(eventBus)
	logger.Info("Distribution started", "mode", string(distributor.Mode()))

	// Price bridge with coaching signals
	coaching := pricebridge.NewCoachingEngine(cfg.BridgeConfig.LevelApproachPercent)
	bridge := pricebridge.NewBridge(provider, streamer, distributor, coaching, cfg.BridgeConfig, zl)
	bridge.Start(ctx)

	// Analysis and scoring
	analyzer := analysis.NewMTFAnalyzer(provider, analysisTimeframes, cfg.DetectorConfig.BarLimit)
	scorer := scoring.NewScorer(scoring.Config{
		LevelTolerancePercent: cfg.ScoringConfig.LevelTolerancePercent,
		ReadyThreshold:        cfg.ScoringConfig.ReadyThreshold,
	})

	var store detector.Store
	if repo != nil {
		store = repo
	}

	det := detector.NewDetector(
		provider,
		analyzer,
		scorer,
		eventBus,
		store,
		coaching,
		cfg.DetectorConfig,
		cfg.ScoringConfig.MinConfluenceScore,
		zl,
	)

	// One driver per deployment: candle-close events when a stream exists
	// and the config asks for it, interval polling otherwise
	if cfg.DetectorConfig.Driver == "event" && streamer != nil {
		det.UseListener(
			streamer,
			time.Duration(cfg.DetectorConfig.DebounceInterval)*time.Second,
			cfg.DetectorConfig.MaxConcurrentAnalyses,
		)
		logger.Info("Detector driver: event", "debounce_s", cfg.DetectorConfig.DebounceInterval)
	} else {
		if cfg.DetectorConfig.Driver == "event" {
			logger.Warn("Event driver requested but no stream available, falling back to polling")
		}
		det.UsePoller(
			time.Duration(cfg.DetectorConfig.DetectionInterval)*time.Second,
			cfg.DetectorConfig.WorkerCount,
		)
		logger.Info("Detector driver: polling", "interval_s", cfg.DetectorConfig.DetectionInterval)
	}

	// Watchlist: persisted entries win over the config default
	watchlist := cfg.DetectorConfig.DefaultWatchlist
	if repo != nil {
		if persisted, err := repo.GetWatchlist(ctx); err != nil {
			logger.Warn("Failed to load persisted watchlist", "error", err)
		} else if len(persisted) > 0 {
			watchlist = persisted
		}
	}
	for _, symbol := range watchlist {
		det.AddSymbol(symbol)
	}
	logger.Info("Watchlist loaded", "symbols", strings.Join(watchlist, ","))

	if cfg.DetectorConfig.Enabled {
		if err := det.Start(); err != nil {
			log.Fatalf("Failed to start detector: %v", err)
		}
		logger.Info("Setup detector started")
	}

	// JWT validation (tokens are issued by the identity service)
	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer)
		logger.Info("JWT validation enabled", "issuer", cfg.AuthConfig.Issuer)
	}

	productionMode := !strings.EqualFold(cfg.LoggingConfig.Level, "DEBUG")
	server := api.NewServer(
		cfg.ServerConfig,
		repo,
		eventBus,
		det,
		bridge,
		hub,
		distributor,
		jwtManager,
		productionMode,
	)

	// Start web server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	log.Printf("Trade mentor server listening on %s:%d", cfg.ServerConfig.Host, cfg.ServerConfig.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down web server: %v", err)
	}

	det.Stop()
	bridge.Stop()
	distributor.Close()
	hub.Close()
	if streamer != nil {
		streamer.Close()
	}
	cancel()

	log.Println("Shutdown complete")
}

// newZerolog builds the root logger used by the streaming components
func newZerolog(cfg config.LoggingConfig) zerolog.Logger {
	var out *os.File
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = zerolog.DebugLevel
	case "WARN":
		level = zerolog.WarnLevel
	case "ERROR":
		level = zerolog.ErrorLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
