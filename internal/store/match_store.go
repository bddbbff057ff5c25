package store

import (
	"context"
	"time"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/jmoiron/sqlx"
)

// MatchRecord is the archived outcome of a finished match.
type MatchRecord struct {
	ID         string    `db:"id" json:"id"`
	GuildID    string    `db:"guild_id" json:"guild_id"`
	FighterAID string    `db:"fighter_a_id" json:"fighter_a_id"`
	FighterBID string    `db:"fighter_b_id" json:"fighter_b_id"`
	WinnerID   string    `db:"winner_id" json:"winner_id"`
	WinnerSide string    `db:"winner_side" json:"winner_side"`
	Degraded   bool      `db:"degraded" json:"degraded"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type MatchStore struct {
	db *sqlx.DB
}

func NewMatchStore(db *sqlx.DB) *MatchStore {
	return &MatchStore{db: db}
}

func (s *MatchStore) ArchiveMatch(ctx context.Context, m *battle.Match) error {
	if m.Result == nil {
		return nil
	}
	rec := MatchRecord{
		ID:         m.ID.String(),
		GuildID:    m.GuildID,
		FighterAID: m.A.ID,
		FighterBID: m.B.ID,
		WinnerID:   m.Result.Winner.ID,
		WinnerSide: string(m.Result.Side),
		Degraded:   m.Result.Degraded,
		CreatedAt:  m.CreatedAt,
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO matches (id, guild_id, fighter_a_id, fighter_b_id, winner_id, winner_side, degraded, created_at)
		VALUES (:id, :guild_id, :fighter_a_id, :fighter_b_id, :winner_id, :winner_side, :degraded, :created_at)`, rec)
	return err
}

func (s *MatchStore) GetMatch(ctx context.Context, id string) (*MatchRecord, error) {
	var rec MatchRecord
	err := s.db.GetContext(ctx, &rec, "SELECT * FROM matches WHERE id = ?", id)
	return &rec, err
}

func (s *MatchStore) RecentMatches(ctx context.Context, guildID string, limit int) ([]MatchRecord, error) {
	var recs []MatchRecord
	err := s.db.SelectContext(ctx, &recs, "SELECT * FROM matches WHERE guild_id = ? ORDER BY created_at DESC LIMIT ?", guildID, limit)
	return recs, err
}
