package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection from a connection URL
func NewDB(url string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database")

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Latest setup per symbol; each analysis cycle replaces the row
		`CREATE TABLE IF NOT EXISTS setups (
			symbol VARCHAR(20) PRIMARY KEY,
			direction VARCHAR(10) NOT NULL,
			stage VARCHAR(12) NOT NULL,
			confluence_score INTEGER NOT NULL,
			level_score INTEGER NOT NULL,
			trend_score INTEGER NOT NULL,
			patience_score INTEGER NOT NULL,
			patience_candles INTEGER NOT NULL DEFAULT 0,
			grade VARCHAR(3) NOT NULL,
			coach_note TEXT,
			level_type VARCHAR(20),
			level_price DECIMAL(20, 8),
			level_timeframe VARCHAR(5),
			entry_price DECIMAL(20, 8),
			stop_price DECIMAL(20, 8),
			target_1r DECIMAL(20, 8),
			target_2r DECIMAL(20, 8),
			target_3r DECIMAL(20, 8),
			detected_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_setups_stage ON setups(stage)`,
		`CREATE INDEX IF NOT EXISTS idx_setups_confluence ON setups(confluence_score)`,

		// Append-only stage transition audit log
		`CREATE TABLE IF NOT EXISTS setup_transitions (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			from_stage VARCHAR(12),
			to_stage VARCHAR(12) NOT NULL,
			confluence_score INTEGER NOT NULL,
			occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_symbol ON setup_transitions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_occurred ON setup_transitions(occurred_at)`,

		// Persisted watchlist, seeded from config on first boot
		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol VARCHAR(20) PRIMARY KEY,
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("Database migrations completed")
	return nil
}
