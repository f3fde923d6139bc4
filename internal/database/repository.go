package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/marketdata"
	"trade-mentor-server/internal/scoring"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SETUPS
// ============================================================================

// UpsertSetup replaces the stored setup for the symbol
func (r *Repository) UpsertSetup(ctx context.Context, setup *scoring.DetectedSetup) error {
	var levelType, levelTimeframe *string
	var levelPrice *float64
	if setup.PrimaryLevel != nil {
		lt := string(setup.PrimaryLevel.Type)
		ltf := string(setup.PrimaryLevel.Timeframe)
		levelType, levelTimeframe = &lt, &ltf
		levelPrice = &setup.PrimaryLevel.Price
	}

	var entry, stop, t1, t2, t3 *float64
	if setup.TradeParams != nil {
		entry = &setup.TradeParams.Entry
		stop = &setup.TradeParams.Stop
		t1 = &setup.TradeParams.Target1R
		t2 = &setup.TradeParams.Target2R
		t3 = &setup.TradeParams.Target3R
	}

	query := `
		INSERT INTO setups (
			symbol, direction, stage, confluence_score, level_score, trend_score,
			patience_score, patience_candles, grade, coach_note,
			level_type, level_price, level_timeframe,
			entry_price, stop_price, target_1r, target_2r, target_3r, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (symbol) DO UPDATE SET
			direction = EXCLUDED.direction,
			stage = EXCLUDED.stage,
			confluence_score = EXCLUDED.confluence_score,
			level_score = EXCLUDED.level_score,
			trend_score = EXCLUDED.trend_score,
			patience_score = EXCLUDED.patience_score,
			patience_candles = EXCLUDED.patience_candles,
			grade = EXCLUDED.grade,
			coach_note = EXCLUDED.coach_note,
			level_type = EXCLUDED.level_type,
			level_price = EXCLUDED.level_price,
			level_timeframe = EXCLUDED.level_timeframe,
			entry_price = EXCLUDED.entry_price,
			stop_price = EXCLUDED.stop_price,
			target_1r = EXCLUDED.target_1r,
			target_2r = EXCLUDED.target_2r,
			target_3r = EXCLUDED.target_3r,
			detected_at = EXCLUDED.detected_at,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.db.Pool.Exec(ctx, query,
		setup.Symbol, setup.Direction, setup.Stage, setup.ConfluenceScore,
		setup.LevelScore, setup.TrendScore, setup.PatienceScore, setup.PatienceCandles,
		setup.Grade, setup.CoachNote, levelType, levelPrice, levelTimeframe,
		entry, stop, t1, t2, t3, setup.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert setup for %s: %w", setup.Symbol, err)
	}
	return nil
}

// GetSetup fetches the stored setup for one symbol
func (r *Repository) GetSetup(ctx context.Context, symbol string) (*scoring.DetectedSetup, error) {
	query := setupSelect + ` WHERE symbol = $1`
	setup, err := scanSetup(r.db.Pool.QueryRow(ctx, query, strings.ToUpper(symbol)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return setup, err
}

// GetSetups fetches all stored setups, strongest first
func (r *Repository) GetSetups(ctx context.Context) ([]*scoring.DetectedSetup, error) {
	query := setupSelect + ` ORDER BY confluence_score DESC`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query setups: %w", err)
	}
	defer rows.Close()

	var setups []*scoring.DetectedSetup
	for rows.Next() {
		setup, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		setups = append(setups, setup)
	}
	return setups, rows.Err()
}

const setupSelect = `
	SELECT symbol, direction, stage, confluence_score, level_score, trend_score,
	       patience_score, patience_candles, grade, coach_note,
	       level_type, level_price, level_timeframe,
	       entry_price, stop_price, target_1r, target_2r, target_3r, detected_at
	FROM setups`

func scanSetup(row pgx.Row) (*scoring.DetectedSetup, error) {
	var setup scoring.DetectedSetup
	var coachNote, levelType, levelTimeframe *string
	var levelPrice, entry, stop, t1, t2, t3 *float64

	err := row.Scan(
		&setup.Symbol, &setup.Direction, &setup.Stage, &setup.ConfluenceScore,
		&setup.LevelScore, &setup.TrendScore, &setup.PatienceScore, &setup.PatienceCandles,
		&setup.Grade, &coachNote, &levelType, &levelPrice, &levelTimeframe,
		&entry, &stop, &t1, &t2, &t3, &setup.DetectedAt,
	)
	if err != nil {
		return nil, err
	}

	if coachNote != nil {
		setup.CoachNote = *coachNote
	}
	if levelType != nil && levelPrice != nil {
		level := analysis.KeyLevel{
			Type:  analysis.LevelType(*levelType),
			Price: *levelPrice,
		}
		if levelTimeframe != nil {
			level.Timeframe = marketdata.Timeframe(*levelTimeframe)
		}
		setup.PrimaryLevel = &level
	}
	if entry != nil && stop != nil {
		setup.TradeParams = &scoring.TradeParams{Entry: *entry, Stop: *stop}
		if t1 != nil {
			setup.TradeParams.Target1R = *t1
		}
		if t2 != nil {
			setup.TradeParams.Target2R = *t2
		}
		if t3 != nil {
			setup.TradeParams.Target3R = *t3
		}
	}
	return &setup, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// RecordTransition appends one stage transition to the audit log
func (r *Repository) RecordTransition(ctx context.Context, symbol string, from, to scoring.Stage, confluence int) error {
	query := `
		INSERT INTO setup_transitions (id, symbol, from_stage, to_stage, confluence_score)
		VALUES ($1, $2, $3, $4, $5)
	`
	var fromVal *string
	if from != "" {
		f := string(from)
		fromVal = &f
	}
	_, err := r.db.Pool.Exec(ctx, query, uuid.New(), strings.ToUpper(symbol), fromVal, to, confluence)
	if err != nil {
		return fmt.Errorf("record transition for %s: %w", symbol, err)
	}
	return nil
}

// SetupTransition is one row of the stage audit log
type SetupTransition struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	FromStage       string    `json:"from_stage,omitempty"`
	ToStage         string    `json:"to_stage"`
	ConfluenceScore int       `json:"confluence_score"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// GetTransitionHistory returns recent transitions for a symbol, newest first
func (r *Repository) GetTransitionHistory(ctx context.Context, symbol string, limit int) ([]SetupTransition, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, symbol, COALESCE(from_stage, ''), to_stage, confluence_score, occurred_at
		FROM setup_transitions
		WHERE symbol = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var history []SetupTransition
	for rows.Next() {
		var t SetupTransition
		if err := rows.Scan(&t.ID, &t.Symbol, &t.FromStage, &t.ToStage, &t.ConfluenceScore, &t.OccurredAt); err != nil {
			return nil, err
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

// ============================================================================
// WATCHLIST
// ============================================================================

// GetWatchlist returns the persisted watchlist symbols
func (r *Repository) GetWatchlist(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT symbol FROM watchlist ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// AddWatchlistSymbol persists a watchlist addition
func (r *Repository) AddWatchlistSymbol(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO watchlist (symbol) VALUES ($1) ON CONFLICT (symbol) DO NOTHING`,
		strings.ToUpper(symbol))
	return err
}

// RemoveWatchlistSymbol persists a watchlist removal
func (r *Repository) RemoveWatchlistSymbol(ctx context.Context, symbol string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM watchlist WHERE symbol = $1`, strings.ToUpper(symbol))
	return err
}

// SeedWatchlist inserts the default symbols if the table is empty
func (r *Repository) SeedWatchlist(ctx context.Context, symbols []string) error {
	var count int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM watchlist`).Scan(&count); err != nil {
		return fmt.Errorf("count watchlist: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, symbol := range symbols {
		if err := r.AddWatchlistSymbol(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}
