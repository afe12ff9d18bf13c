// Package marketapi persists LMSR markets and their trade logs in sqlite.
// The database holds the market definitions and the append-only trade rows;
// in-memory engine state is rebuilt on demand by replaying a market's log
// through pkg/market.
package marketapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/kpello/lmsrmarket/pkg/market"
)

var (
	ErrMarketNotFound    = errors.New("marketapi: market not found")
	ErrMarketResolved    = errors.New("marketapi: market already resolved")
	ErrMarketNotResolved = errors.New("marketapi: market not resolved yet")
)

type SqliteStore struct {
	db *sql.DB
}

// MarketInfo is a stored market's definition row.
type MarketInfo struct {
	ID             string
	B              float64
	Outcomes       []string
	IsResolved     bool
	WinningOutcome string
	DateCreated    string
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

func NewSqliteStore(dbName string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dbName+"?_busy_timeout=10000")
	if err != nil {
		return nil, err
	}
	// one writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) dbid(ctx context.Context, marketUUID string) (int64, error) {
	var dbid int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM markets WHERE uuid = ?", marketUUID).Scan(&dbid)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", ErrMarketNotFound, marketUUID)
	}
	if err != nil {
		return 0, err
	}
	return dbid, nil
}

// CreateMarket persists a new market with the given outcome set and
// liquidity parameter and returns its uuid. The parameters are validated
// by the engine before anything is written.
func (s *SqliteStore) CreateMarket(ctx context.Context, outcomes []string, b float64) (string, error) {
	if _, err := market.New(outcomes, b); err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	uuid := shortuuid.New()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO markets (uuid, b, is_resolved, date_created)
		VALUES (?, ?, 0, ?)`, uuid, b, now())
	if err != nil {
		return "", err
	}
	marketID, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	for i, o := range outcomes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (market_id, name, ord)
			VALUES (?, ?, ?)`, marketID, o, i)
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Info().Str("market", uuid).Float64("b", b).Int("outcomes", len(outcomes)).Msg("created-market")
	return uuid, nil
}

// GetMarket returns a stored market's definition.
func (s *SqliteStore) GetMarket(ctx context.Context, marketUUID string) (*MarketInfo, error) {
	info := &MarketInfo{ID: marketUUID}
	var winner sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT b, is_resolved, winning_outcome, date_created
		FROM markets WHERE uuid = ?`, marketUUID).
		Scan(&info.B, &info.IsResolved, &winner, &info.DateCreated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketUUID)
	}
	if err != nil {
		return nil, err
	}
	info.WinningOutcome = winner.String

	marketID, err := s.dbid(ctx, marketUUID)
	if err != nil {
		return nil, err
	}
	info.Outcomes, err = s.outcomeNames(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *SqliteStore) outcomeNames(ctx context.Context, marketID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM outcomes
		WHERE market_id = ?
		ORDER BY ord`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SqliteStore) storedBets(ctx context.Context, marketID int64) ([]market.Bet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcomes.name, trades.shares
		FROM trades
		JOIN outcomes ON trades.outcome_id = outcomes.id
		WHERE trades.market_id = ?
		ORDER BY trades.id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets := []market.Bet{}
	for rows.Next() {
		var bet market.Bet
		if err := rows.Scan(&bet.Outcome, &bet.Shares); err != nil {
			return nil, err
		}
		bets = append(bets, bet)
	}
	return bets, rows.Err()
}

// LoadMarket rebuilds the in-memory market for the given uuid by replaying
// its stored trade log in application order.
func (s *SqliteStore) LoadMarket(ctx context.Context, marketUUID string) (*market.Market, error) {
	info, err := s.GetMarket(ctx, marketUUID)
	if err != nil {
		return nil, err
	}
	marketID, err := s.dbid(ctx, marketUUID)
	if err != nil {
		return nil, err
	}
	m, err := market.New(info.Outcomes, info.B)
	if err != nil {
		return nil, err
	}
	bets, err := s.storedBets(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := m.Replay(bets); err != nil {
		return nil, fmt.Errorf("marketapi: corrupt trade log for market %s: %w", marketUUID, err)
	}
	return m, nil
}

// PlaceTrade applies a trade to a stored market and records it. The load,
// apply, and insert happen under an exclusive transaction so concurrent
// callers serialize on the database.
func (s *SqliteStore) PlaceTrade(ctx context.Context, marketUUID, outcome string, shares float64) (*market.TradeResult, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.ExecContext(ctx, "BEGIN EXCLUSIVE TRANSACTION;")
	defer conn.ExecContext(ctx, "ROLLBACK;")

	var marketID int64
	var b float64
	var isResolved bool
	err = conn.QueryRowContext(ctx, `
		SELECT id, b, is_resolved FROM markets WHERE uuid = ?`, marketUUID).
		Scan(&marketID, &b, &isResolved)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketUUID)
	}
	if err != nil {
		return nil, err
	}
	if isResolved {
		return nil, fmt.Errorf("%w: %s", ErrMarketResolved, marketUUID)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, name FROM outcomes
		WHERE market_id = ?
		ORDER BY ord`, marketID)
	if err != nil {
		return nil, err
	}
	names := []string{}
	outcomeIDs := map[string]int64{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
		outcomeIDs[name] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, `
		SELECT outcomes.name, trades.shares
		FROM trades
		JOIN outcomes ON trades.outcome_id = outcomes.id
		WHERE trades.market_id = ?
		ORDER BY trades.id`, marketID)
	if err != nil {
		return nil, err
	}
	bets := []market.Bet{}
	for rows.Next() {
		var bet market.Bet
		if err := rows.Scan(&bet.Outcome, &bet.Shares); err != nil {
			rows.Close()
			return nil, err
		}
		bets = append(bets, bet)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m, err := market.New(names, b)
	if err != nil {
		return nil, err
	}
	if err := m.Replay(bets); err != nil {
		return nil, fmt.Errorf("marketapi: corrupt trade log for market %s: %w", marketUUID, err)
	}
	result, err := m.ApplyTrade(outcome, shares)
	if err != nil {
		return nil, err
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO trades (uuid, market_id, outcome_id, shares, cost, date_created)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.Trade.ID, marketID, outcomeIDs[outcome],
		result.Trade.Shares, result.Trade.Cost, now())
	if err != nil {
		return nil, err
	}
	if _, err = conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return nil, err
	}
	log.Debug().Str("market", marketUUID).Str("trade", result.Trade.ID).
		Str("outcome", outcome).Float64("shares", shares).
		Float64("cost", result.Trade.Cost).Msg("placed-trade")
	return result, nil
}

// GetTrades returns a market's committed trades in application order.
func (s *SqliteStore) GetTrades(ctx context.Context, marketUUID string) ([]market.Trade, error) {
	marketID, err := s.dbid(ctx, marketUUID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trades.uuid, outcomes.name, trades.shares, trades.cost
		FROM trades
		JOIN outcomes ON trades.outcome_id = outcomes.id
		WHERE trades.market_id = ?
		ORDER BY trades.id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []market.Trade{}
	for rows.Next() {
		var tr market.Trade
		if err := rows.Scan(&tr.ID, &tr.Outcome, &tr.Shares, &tr.Cost); err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// GetOpenMarkets lists markets that have not resolved yet.
func (s *SqliteStore) GetOpenMarkets(ctx context.Context) ([]*MarketInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid FROM markets
		WHERE is_resolved = 0
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	uuids := []string{}
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			rows.Close()
			return nil, err
		}
		uuids = append(uuids, uuid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	markets := []*MarketInfo{}
	for _, uuid := range uuids {
		info, err := s.GetMarket(ctx, uuid)
		if err != nil {
			return nil, err
		}
		markets = append(markets, info)
	}
	return markets, nil
}

// ResolveMarket declares the winning outcome for a market. Resolution is
// final; further trades and a second resolution are rejected.
func (s *SqliteStore) ResolveMarket(ctx context.Context, marketUUID, winningOutcome string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.ExecContext(ctx, "BEGIN EXCLUSIVE TRANSACTION;")
	defer conn.ExecContext(ctx, "ROLLBACK;")

	var marketID int64
	var isResolved bool
	err = conn.QueryRowContext(ctx, `
		SELECT id, is_resolved FROM markets WHERE uuid = ?`, marketUUID).
		Scan(&marketID, &isResolved)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, marketUUID)
	}
	if err != nil {
		return err
	}
	if isResolved {
		return fmt.Errorf("%w: %s", ErrMarketResolved, marketUUID)
	}

	var outcomeID int64
	err = conn.QueryRowContext(ctx, `
		SELECT id FROM outcomes WHERE market_id = ? AND name = ?`,
		marketID, winningOutcome).Scan(&outcomeID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %q", market.ErrUnknownOutcome, winningOutcome)
	}
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `
		UPDATE markets
		SET is_resolved = 1, winning_outcome = ?, date_resolved = ?
		WHERE id = ?`, winningOutcome, now(), marketID)
	if err != nil {
		return err
	}
	if _, err = conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return err
	}
	log.Info().Str("market", marketUUID).Str("winner", winningOutcome).Msg("resolved-market")
	return nil
}

// SettleMarket computes the settlement for a resolved market from its
// stored trade log. It can be called any number of times; nothing is
// written.
func (s *SqliteStore) SettleMarket(ctx context.Context, marketUUID string) (*market.Settlement, error) {
	info, err := s.GetMarket(ctx, marketUUID)
	if err != nil {
		return nil, err
	}
	if !info.IsResolved {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotResolved, marketUUID)
	}
	trades, err := s.GetTrades(ctx, marketUUID)
	if err != nil {
		return nil, err
	}
	return market.Settle(info.B, info.Outcomes, trades, info.WinningOutcome)
}
