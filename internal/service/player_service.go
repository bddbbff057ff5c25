package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/player"
	"github.com/AdamBeresnev/parlor/internal/store"
	"github.com/google/uuid"
	"github.com/markbates/goth"
)

type PlayerService struct {
	store *store.PlayerStore
}

func NewPlayerService(store *store.PlayerStore) *PlayerService {
	return &PlayerService{store: store}
}

// FindOrCreatePlayerByProvider keys players by provider and provider user ID
// and refreshes their name and avatar on every login.
func (s *PlayerService) FindOrCreatePlayerByProvider(ctx context.Context, gothUser goth.User) (*player.Player, error) {
	name := gothUser.NickName
	if name == "" {
		name = gothUser.Name
	}
	p := &player.Player{
		ID:          gothUser.Provider + ":" + gothUser.UserID,
		DisplayName: name,
		AvatarURL:   player.Optional(gothUser.AvatarURL),
		Provider:    player.Optional(gothUser.Provider),
	}
	if err := s.store.SavePlayer(ctx, p); err != nil {
		return nil, err
	}
	return s.store.GetPlayer(ctx, p.ID)
}

// CreateGuestPlayer gives an anonymous visitor a fresh identity.
func (s *PlayerService) CreateGuestPlayer(ctx context.Context) (*player.Player, error) {
	id := "guest:" + uuid.NewString()
	p := &player.Player{
		ID:          id,
		DisplayName: "Guest " + id[len("guest:"):len("guest:")+4],
	}
	if err := s.store.SavePlayer(ctx, p); err != nil {
		return nil, err
	}
	return s.store.GetPlayer(ctx, id)
}

func (s *PlayerService) GetPlayer(ctx context.Context, id string) (*player.Player, error) {
	p, err := s.store.GetPlayer(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, battle.ErrNotRegistered
	}
	return p, err
}

func (s *PlayerService) Leaderboard(ctx context.Context, limit int) ([]player.Player, error) {
	return s.store.Leaderboard(ctx, limit)
}

// Participant turns a stored player into a fighter.
func Participant(p *player.Player) *battle.Participant {
	return &battle.Participant{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.Avatar(),
	}
}
