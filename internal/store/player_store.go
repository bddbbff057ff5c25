package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/player"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// PlayerStore keeps player profiles, win/loss records and the betting
// balance ledger.
type PlayerStore struct {
	db       *sqlx.DB
	starting decimal.Decimal
}

const (
	getPlayerQuery    = "SELECT * FROM players WHERE id = ?"
	upsertPlayerQuery = `
		INSERT INTO players (id, display_name, avatar_url, provider, balance)
		VALUES (:id, :display_name, :avatar_url, :provider, :balance)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			provider = COALESCE(excluded.provider, players.provider)
	`
	ensureAccountQuery = `
		INSERT INTO players (id, display_name, balance) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	getBalanceQuery    = "SELECT balance FROM players WHERE id = ?"
	updateBalanceQuery = "UPDATE players SET balance = ? WHERE id = ?"
	addWinQuery        = "UPDATE players SET wins = wins + 1 WHERE id = ?"
	addLossQuery       = "UPDATE players SET losses = losses + 1 WHERE id = ?"
	leaderboardQuery   = "SELECT * FROM players ORDER BY wins DESC, losses ASC LIMIT ?"
)

// NewPlayerStore creates a store whose new accounts open with startingBalance.
func NewPlayerStore(db *sqlx.DB, startingBalance decimal.Decimal) *PlayerStore {
	return &PlayerStore{db: db, starting: startingBalance}
}

// SavePlayer inserts the player with the starting balance or refreshes the
// profile of an existing one. The balance of an existing player is kept.
func (s *PlayerStore) SavePlayer(ctx context.Context, p *player.Player) error {
	row := *p
	row.Balance = s.starting
	_, err := s.db.NamedExecContext(ctx, upsertPlayerQuery, &row)
	return err
}

func (s *PlayerStore) GetPlayer(ctx context.Context, id string) (*player.Player, error) {
	var p player.Player
	err := s.db.GetContext(ctx, &p, getPlayerQuery, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PlayerStore) Leaderboard(ctx context.Context, limit int) ([]player.Player, error) {
	var players []player.Player
	err := s.db.SelectContext(ctx, &players, leaderboardQuery, limit)
	return players, err
}

func (s *PlayerStore) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	balance, err := s.balanceTx(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, tx.Commit()
}

// Adjust applies delta to the balance and returns the new balance. A debit
// that would leave the balance negative is rejected with
// battle.ErrInsufficientBalance.
func (s *PlayerStore) Adjust(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	balance, err := s.balanceTx(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}

	next := balance.Add(delta)
	if next.IsNegative() {
		return balance, battle.ErrInsufficientBalance
	}
	if _, err := tx.ExecContext(ctx, updateBalanceQuery, next, id); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return next, tx.Commit()
}

func (s *PlayerStore) RecordResult(ctx context.Context, winnerID, loserID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []struct {
		id    string
		query string
	}{{winnerID, addWinQuery}, {loserID, addLossQuery}} {
		if _, err := tx.ExecContext(ctx, ensureAccountQuery, q.id, q.id, s.starting); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q.query, q.id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PlayerStore) balanceTx(ctx context.Context, tx *sqlx.Tx, id string) (decimal.Decimal, error) {
	if _, err := tx.ExecContext(ctx, ensureAccountQuery, id, id, s.starting); err != nil {
		return decimal.Zero, fmt.Errorf("failed to open account: %w", err)
	}

	var balance decimal.Decimal
	if err := tx.GetContext(ctx, &balance, getBalanceQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("account %s vanished: %w", id, err)
		}
		return decimal.Zero, err
	}
	return balance, nil
}
