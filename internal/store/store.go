// Package store provides crash-safe, transactional persistence for trades,
// settlement-pending positions, per-day counters, and the realized-PnL
// ledger, backed by modernc.org/sqlite. Replaces the
// teacher's one-file-per-market JSON layout: the arbitrage engine needs
// cross-row transactions (the circuit-breaker flip must commit in the same
// transaction as the PnL append) that a flat-file store cannot give us.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"gabagool-arb/pkg/types"
)

// Store is a transactional facade over a single sqlite database file.
type Store struct {
	db *sql.DB
}

// Open creates or migrates the database at path and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers, avoid SQLITE_BUSY
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the additive schema. Every statement is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS) so restarts never fail on an
// already-migrated database.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			condition_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			market_slug TEXT,
			market_end_time INTEGER,
			yes_price_intent REAL,
			no_price_intent REAL,
			yes_cost REAL,
			no_cost REAL,
			yes_shares REAL,
			no_shares REAL,
			hedge_ratio REAL,
			execution_status TEXT,
			rebalance_action TEXT,
			yes_order_status TEXT,
			no_order_status TEXT,
			expected_profit REAL,
			actual_profit REAL,
			status TEXT NOT NULL DEFAULT 'pending',
			dry_run INTEGER NOT NULL DEFAULT 0,
			pre_fill_yes_depth REAL,
			pre_fill_no_depth REAL,
			created_at INTEGER NOT NULL,
			resolved_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_condition ON trades(condition_id)`,
		`CREATE TABLE IF NOT EXISTS positions_settlement_queue (
			trade_id TEXT NOT NULL,
			condition_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			side TEXT NOT NULL,
			asset TEXT,
			shares REAL NOT NULL,
			entry_price REAL NOT NULL,
			entry_cost REAL NOT NULL,
			market_end_time INTEGER,
			claimed INTEGER NOT NULL DEFAULT 0,
			proceeds REAL,
			profit REAL,
			claim_attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			PRIMARY KEY (trade_id, token_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_unclaimed ON positions_settlement_queue(claimed, market_end_time)`,
		`CREATE TABLE IF NOT EXISTS markets (
			condition_id TEXT PRIMARY KEY,
			asset TEXT NOT NULL,
			yes_token_id TEXT NOT NULL,
			no_token_id TEXT NOT NULL,
			slug TEXT,
			start_time INTEGER,
			end_time INTEGER,
			first_seen_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			date TEXT PRIMARY KEY,
			pnl REAL NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			exposure REAL NOT NULL DEFAULT 0,
			opportunities_seen INTEGER NOT NULL DEFAULT 0,
			opportunities_skipped INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS realized_pnl (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT NOT NULL,
			amount REAL NOT NULL,
			pnl_type TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS circuit_breaker_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			realized_pnl REAL NOT NULL DEFAULT 0,
			hit INTEGER NOT NULL DEFAULT 0,
			hit_at INTEGER,
			hit_reason TEXT
		)`,
		`INSERT OR IGNORE INTO circuit_breaker_state (id, realized_pnl, hit) VALUES (1, 0, 0)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS depth_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			condition_id TEXT NOT NULL,
			token_id TEXT NOT NULL,
			top3_depth REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}
	return nil
}

// SaveTrade inserts a new TradeRecord.
func (s *Store) SaveTrade(ctx context.Context, t types.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (trade_id, condition_id, asset, market_slug, market_end_time,
			yes_price_intent, no_price_intent, yes_cost, no_cost, yes_shares, no_shares,
			hedge_ratio, execution_status, rebalance_action, yes_order_status, no_order_status,
			expected_profit, actual_profit, status, dry_run, pre_fill_yes_depth, pre_fill_no_depth, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.TradeID, t.ConditionID, t.Asset, t.MarketSlug, t.MarketEndTime.Unix(),
		t.YesPriceIntent, t.NoPriceIntent, t.YesCost, t.NoCost, t.YesShares, t.NoShares,
		t.HedgeRatio, string(t.ExecutionStatus), string(t.RebalanceAction), t.YesOrderStatus, t.NoOrderStatus,
		t.ExpectedProfit, t.ActualProfit, string(t.Status), boolInt(t.DryRun), t.PreFillYesDepth, t.PreFillNoDepth, t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// ResolveTrade records a trade's final settlement outcome.
func (s *Store) ResolveTrade(ctx context.Context, tradeID string, won bool, actualProfit float64) error {
	status := types.TradeLoss
	if won {
		status = types.TradeWin
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE trades SET status = ?, actual_profit = ?, resolved_at = ? WHERE trade_id = ?`,
		string(status), actualProfit, time.Now().Unix(), tradeID)
	if err != nil {
		return fmt.Errorf("resolve trade: %w", err)
	}
	return nil
}

// AddToSettlementQueue persists one side's position for later redemption.
func (s *Store) AddToSettlementQueue(ctx context.Context, p types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions_settlement_queue
			(trade_id, condition_id, token_id, side, asset, shares, entry_price, entry_cost, market_end_time, claimed, proceeds, profit, claim_attempts, last_error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.TradeID, p.ConditionID, p.TokenID, p.Side, p.Asset, p.Shares, p.EntryPrice, p.EntryCost, p.MarketEndTime.Unix(),
		boolInt(p.Claimed), p.Proceeds, p.Profit, p.ClaimAttempts, p.LastError)
	if err != nil {
		return fmt.Errorf("add to settlement queue: %w", err)
	}
	return nil
}

// MarkPositionClaimed records a successful on-chain redemption.
func (s *Store) MarkPositionClaimed(ctx context.Context, tradeID, tokenID string, proceeds, profit float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions_settlement_queue SET claimed = 1, proceeds = ?, profit = ? WHERE trade_id = ? AND token_id = ?`,
		proceeds, profit, tradeID, tokenID)
	if err != nil {
		return fmt.Errorf("mark position claimed: %w", err)
	}
	return nil
}

// RecordClaimAttempt bumps the retry counter for a failed redemption.
func (s *Store) RecordClaimAttempt(ctx context.Context, tradeID, tokenID, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions_settlement_queue SET claim_attempts = claim_attempts + 1, last_error = ? WHERE trade_id = ? AND token_id = ?`,
		errMsg, tradeID, tokenID)
	if err != nil {
		return fmt.Errorf("record claim attempt: %w", err)
	}
	return nil
}

// GetClaimablePositions returns unclaimed positions whose market ended at
// least waitMinutes ago and have fewer than retryLimit recorded attempts.
func (s *Store) GetClaimablePositions(ctx context.Context, waitMinutes, retryLimit int) ([]types.Position, error) {
	cutoff := time.Now().Add(-time.Duration(waitMinutes) * time.Minute).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, condition_id, token_id, side, asset, shares, entry_price, entry_cost,
			market_end_time, claimed, proceeds, profit, claim_attempts, last_error
		FROM positions_settlement_queue
		WHERE claimed = 0 AND market_end_time <= ? AND claim_attempts < ?`, cutoff, retryLimit)
	if err != nil {
		return nil, fmt.Errorf("query claimable positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetUnclaimedPositions returns every unclaimed position regardless of
// retry count or market end time, for startup reconciliation.
func (s *Store) GetUnclaimedPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, condition_id, token_id, side, asset, shares, entry_price, entry_cost,
			market_end_time, claimed, proceeds, profit, claim_attempts, last_error
		FROM positions_settlement_queue WHERE claimed = 0`)
	if err != nil {
		return nil, fmt.Errorf("query unclaimed positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]types.Position, error) {
	var out []types.Position
	for rows.Next() {
		var p types.Position
		var claimed int
		var endTime int64
		var proceeds, profit sql.NullFloat64
		var lastError sql.NullString
		if err := rows.Scan(&p.TradeID, &p.ConditionID, &p.TokenID, &p.Side, &p.Asset, &p.Shares,
			&p.EntryPrice, &p.EntryCost, &endTime, &claimed, &proceeds, &profit, &p.ClaimAttempts, &lastError); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.MarketEndTime = time.Unix(endTime, 0)
		p.Claimed = claimed != 0
		p.Proceeds = proceeds.Float64
		p.Profit = profit.Float64
		p.LastError = lastError.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPositionsForTrade returns every settlement-queue row for a trade_id
// (one per filled side), claimed or not, so a caller can tell whether all
// of a trade's sibling positions have settled.
func (s *Store) GetPositionsForTrade(ctx context.Context, tradeID string) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, condition_id, token_id, side, asset, shares, entry_price, entry_cost,
			market_end_time, claimed, proceeds, profit, claim_attempts, last_error
		FROM positions_settlement_queue WHERE trade_id = ?`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query positions for trade: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// UpsertMarket idempotently records a discovered market for dashboard history.
func (s *Store) UpsertMarket(ctx context.Context, m types.Market) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markets (condition_id, asset, yes_token_id, no_token_id, slug, start_time, end_time, first_seen_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(condition_id) DO UPDATE SET
			yes_token_id = excluded.yes_token_id, no_token_id = excluded.no_token_id,
			slug = excluded.slug, start_time = excluded.start_time, end_time = excluded.end_time`,
		m.ConditionID, m.Asset, m.YesTokenID, m.NoTokenID, m.Slug, m.StartTime.Unix(), m.EndTime.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert market: %w", err)
	}
	return nil
}

// UpdateDailyStats upserts the per-day counters for the given date (UTC
// YYYY-MM-DD), applying the given deltas.
func (s *Store) UpdateDailyStats(ctx context.Context, date string, pnlDelta float64, tradesDelta, winsDelta, lossesDelta int, exposureDelta float64, oppsSeenDelta, oppsSkippedDelta int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, pnl, trades, wins, losses, exposure, opportunities_seen, opportunities_skipped)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(date) DO UPDATE SET
			pnl = pnl + excluded.pnl,
			trades = trades + excluded.trades,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			exposure = exposure + excluded.exposure,
			opportunities_seen = opportunities_seen + excluded.opportunities_seen,
			opportunities_skipped = opportunities_skipped + excluded.opportunities_skipped`,
		date, pnlDelta, tradesDelta, winsDelta, lossesDelta, exposureDelta, oppsSeenDelta, oppsSkippedDelta)
	if err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	return nil
}

// RecordRealizedPnL appends to the realized-PnL ledger and, in the same
// transaction, recomputes the running sum and flips the circuit breaker if
// it has dropped to or below −maxDailyLoss. The ledger is the source of
// truth for the running sum.
func (s *Store) RecordRealizedPnL(ctx context.Context, tradeID string, amount float64, pnlType string, maxDailyLoss float64) (types.CircuitBreakerState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.CircuitBreakerState{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO realized_pnl (trade_id, amount, pnl_type, created_at) VALUES (?,?,?,?)`,
		tradeID, amount, pnlType, time.Now().Unix()); err != nil {
		return types.CircuitBreakerState{}, fmt.Errorf("append realized pnl: %w", err)
	}

	var sum float64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM realized_pnl`).Scan(&sum); err != nil {
		return types.CircuitBreakerState{}, fmt.Errorf("sum realized pnl: %w", err)
	}

	var state types.CircuitBreakerState
	var hit int
	var hitAt sql.NullInt64
	var hitReason sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT hit, hit_at, hit_reason FROM circuit_breaker_state WHERE id = 1`).Scan(&hit, &hitAt, &hitReason); err != nil {
		return types.CircuitBreakerState{}, fmt.Errorf("read circuit breaker state: %w", err)
	}
	state.RealizedPnL = sum
	state.Hit = hit != 0

	if !state.Hit && sum <= -maxDailyLoss {
		state.Hit = true
		state.HitAt = time.Now()
		state.HitReason = fmt.Sprintf("realized_pnl %.2f <= -max_daily_loss %.2f", sum, maxDailyLoss)
		if _, err := tx.ExecContext(ctx,
			`UPDATE circuit_breaker_state SET realized_pnl = ?, hit = 1, hit_at = ?, hit_reason = ? WHERE id = 1`,
			sum, state.HitAt.Unix(), state.HitReason); err != nil {
			return types.CircuitBreakerState{}, fmt.Errorf("flip circuit breaker: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE circuit_breaker_state SET realized_pnl = ? WHERE id = 1`, sum); err != nil {
			return types.CircuitBreakerState{}, fmt.Errorf("update circuit breaker pnl: %w", err)
		}
		if hitAt.Valid {
			state.HitAt = time.Unix(hitAt.Int64, 0)
		}
		state.HitReason = hitReason.String
	}

	if err := tx.Commit(); err != nil {
		return types.CircuitBreakerState{}, fmt.Errorf("commit realized pnl tx: %w", err)
	}
	return state, nil
}

// GetCircuitBreakerState returns the current process-wide breaker state.
func (s *Store) GetCircuitBreakerState(ctx context.Context) (types.CircuitBreakerState, error) {
	var state types.CircuitBreakerState
	var hit int
	var hitAt sql.NullInt64
	var hitReason sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT realized_pnl, hit, hit_at, hit_reason FROM circuit_breaker_state WHERE id = 1`).
		Scan(&state.RealizedPnL, &hit, &hitAt, &hitReason)
	if err != nil {
		return types.CircuitBreakerState{}, fmt.Errorf("get circuit breaker state: %w", err)
	}
	state.Hit = hit != 0
	if hitAt.Valid {
		state.HitAt = time.Unix(hitAt.Int64, 0)
	}
	state.HitReason = hitReason.String
	return state, nil
}

// ResetCircuitBreaker clears a tripped breaker (operator action only).
func (s *Store) ResetCircuitBreaker(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE circuit_breaker_state SET hit = 0, hit_at = NULL, hit_reason = NULL WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("reset circuit breaker: %w", err)
	}
	return nil
}

// GetTodayStats returns today's (UTC) daily counters, zero-valued if no
// activity has been recorded yet.
func (s *Store) GetTodayStats(ctx context.Context) (types.DailyCounters, error) {
	return s.getStats(ctx, time.Now().UTC().Format("2006-01-02"))
}

func (s *Store) getStats(ctx context.Context, date string) (types.DailyCounters, error) {
	stats := types.DailyCounters{Date: date}
	row := s.db.QueryRowContext(ctx, `
		SELECT pnl, trades, wins, losses, exposure, opportunities_seen, opportunities_skipped
		FROM daily_stats WHERE date = ?`, date)
	err := row.Scan(&stats.PnL, &stats.Trades, &stats.Wins, &stats.Losses, &stats.Exposure, &stats.OpportunitiesSeen, &stats.OpportunitiesSkipped)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return types.DailyCounters{}, fmt.Errorf("get stats for %s: %w", date, err)
	}
	return stats, nil
}

// GetAllTimeStats aggregates daily_stats across every recorded day.
func (s *Store) GetAllTimeStats(ctx context.Context) (types.DailyCounters, error) {
	stats := types.DailyCounters{Date: "all-time"}
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl),0), COALESCE(SUM(trades),0), COALESCE(SUM(wins),0),
			COALESCE(SUM(losses),0), COALESCE(SUM(exposure),0), COALESCE(SUM(opportunities_seen),0),
			COALESCE(SUM(opportunities_skipped),0)
		FROM daily_stats`)
	if err := row.Scan(&stats.PnL, &stats.Trades, &stats.Wins, &stats.Losses, &stats.Exposure, &stats.OpportunitiesSeen, &stats.OpportunitiesSkipped); err != nil {
		return types.DailyCounters{}, fmt.Errorf("get all-time stats: %w", err)
	}
	return stats, nil
}

// GetRecentTrades returns up to limit of the most recently created trades.
func (s *Store) GetRecentTrades(ctx context.Context, limit int) ([]types.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, condition_id, asset, market_slug, market_end_time, yes_price_intent, no_price_intent,
			yes_cost, no_cost, yes_shares, no_shares, hedge_ratio, execution_status, rebalance_action,
			yes_order_status, no_order_status, expected_profit, actual_profit, status, dry_run,
			pre_fill_yes_depth, pre_fill_no_depth, created_at, resolved_at
		FROM trades ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent trades: %w", err)
	}
	defer rows.Close()

	var out []types.TradeRecord
	for rows.Next() {
		var t types.TradeRecord
		var endTime, createdAt int64
		var resolvedAt sql.NullInt64
		var dryRun int
		var execStatus, rebalanceAction string
		if err := rows.Scan(&t.TradeID, &t.ConditionID, &t.Asset, &t.MarketSlug, &endTime, &t.YesPriceIntent, &t.NoPriceIntent,
			&t.YesCost, &t.NoCost, &t.YesShares, &t.NoShares, &t.HedgeRatio, &execStatus, &rebalanceAction,
			&t.YesOrderStatus, &t.NoOrderStatus, &t.ExpectedProfit, &t.ActualProfit, &t.Status, &dryRun,
			&t.PreFillYesDepth, &t.PreFillNoDepth, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.MarketEndTime = time.Unix(endTime, 0)
		t.CreatedAt = time.Unix(createdAt, 0)
		t.ExecutionStatus = types.ExecutionStatus(execStatus)
		t.RebalanceAction = types.RebalanceAction(rebalanceAction)
		t.DryRun = dryRun != 0
		if resolvedAt.Valid {
			t.ResolvedAt = time.Unix(resolvedAt.Int64, 0)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetPnLHistory returns realized-PnL ledger entries created within the
// given lookback window, oldest first. A zero lookback returns the whole
// ledger.
func (s *Store) GetPnLHistory(ctx context.Context, lookback time.Duration) ([]types.TradeRecord, error) {
	var since int64
	if lookback > 0 {
		since = time.Now().Add(-lookback).Unix()
	}
	rows, err := s.db.QueryContext(ctx, `SELECT trade_id, amount, created_at FROM realized_pnl WHERE created_at >= ? ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("get pnl history: %w", err)
	}
	defer rows.Close()
	var out []types.TradeRecord
	for rows.Next() {
		var t types.TradeRecord
		var createdAt int64
		if err := rows.Scan(&t.TradeID, &t.ActualProfit, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pnl history row: %w", err)
		}
		t.ResolvedAt = time.Unix(createdAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveFillRecord persists one leg's fill for slippage telemetry.
func (s *Store) SaveFillRecord(ctx context.Context, tradeID, tokenID, side string, price, size float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (trade_id, token_id, side, price, size, created_at) VALUES (?,?,?,?,?,?)`,
		tradeID, tokenID, side, price, size, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save fill record: %w", err)
	}
	return nil
}

// SaveLiquiditySnapshot persists a pre-fill top-3 depth reading.
func (s *Store) SaveLiquiditySnapshot(ctx context.Context, conditionID, tokenID string, top3Depth float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO depth_snapshots (condition_id, token_id, top3_depth, created_at) VALUES (?,?,?,?)`,
		conditionID, tokenID, top3Depth, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save liquidity snapshot: %w", err)
	}
	return nil
}

// GetSlippageStats aggregates, over the given lookback window, the gap
// between each fill's executed price and the trade's intended price for
// that side (yes_price_intent/no_price_intent on the parent trades row).
func (s *Store) GetSlippageStats(ctx context.Context, lookback time.Duration) (types.SlippageStats, error) {
	since := time.Now().Add(-lookback).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.side, f.price, t.yes_price_intent, t.no_price_intent
		FROM fills f
		JOIN trades t ON t.trade_id = f.trade_id
		WHERE f.created_at >= ?`, since)
	if err != nil {
		return types.SlippageStats{}, fmt.Errorf("query slippage stats: %w", err)
	}
	defer rows.Close()

	var stats types.SlippageStats
	var sumCents float64
	for rows.Next() {
		var side string
		var price, yesIntent, noIntent float64
		if err := rows.Scan(&side, &price, &yesIntent, &noIntent); err != nil {
			return types.SlippageStats{}, fmt.Errorf("scan slippage row: %w", err)
		}
		intent := yesIntent
		if side == "NO" {
			intent = noIntent
		}
		slippageCents := (price - intent) * 100
		if slippageCents < 0 {
			slippageCents = -slippageCents
		}
		stats.SampleCount++
		sumCents += slippageCents
		if slippageCents > stats.MaxSlippageCents {
			stats.MaxSlippageCents = slippageCents
		}
	}
	if err := rows.Err(); err != nil {
		return types.SlippageStats{}, fmt.Errorf("iterate slippage rows: %w", err)
	}
	if stats.SampleCount > 0 {
		stats.AvgSlippageCents = sumCents / float64(stats.SampleCount)
	}
	return stats, nil
}

// CleanupOldLiquidityData deletes depth_snapshots rows older than the
// configured retention window.
func (s *Store) CleanupOldLiquidityData(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	_, err := s.db.ExecContext(ctx, `DELETE FROM depth_snapshots WHERE created_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup old liquidity data: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
