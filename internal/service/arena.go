package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/AdamBeresnev/parlor/internal/random"
)

// Arena is everything one guild plays with.
type Arena struct {
	GuildID string
	Session *Session
	Betting *BettingService
	Matches *MatchService
}

type ArenaDeps struct {
	Ledger    Ledger
	Limits    BetLimits
	Presenter Presenter
	Events    pubsub.Publisher
	Archive   MatchArchive
	Records   RecordKeeper
	Assets    AssetSource
	Match     MatchOptions
	Session   SessionOptions
}

func NewArena(guildID string, deps ArenaDeps) (*Arena, error) {
	matchRNG, err := random.New()
	if err != nil {
		return nil, err
	}
	sessionRNG, err := random.New()
	if err != nil {
		return nil, err
	}

	market := NewMarket()
	betting := NewBettingService(market, deps.Ledger, deps.Limits)
	matches := NewMatchService(betting, deps.Presenter, deps.Events, deps.Archive, deps.Records, matchRNG, deps.Match)
	session := NewSession(guildID, matches, Equipper{Source: deps.Assets}, betting, deps.Events, sessionRNG, deps.Session)

	return &Arena{GuildID: guildID, Session: session, Betting: betting, Matches: matches}, nil
}

// Arenas hands out one arena per guild, created on first use.
type Arenas struct {
	mu     sync.Mutex
	deps   ArenaDeps
	arenas map[string]*Arena
}

func NewArenas(deps ArenaDeps) *Arenas {
	return &Arenas{deps: deps, arenas: make(map[string]*Arena)}
}

func (a *Arenas) Get(guildID string) (*Arena, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if arena, ok := a.arenas[guildID]; ok {
		return arena, nil
	}
	arena, err := NewArena(guildID, a.deps)
	if err != nil {
		return nil, fmt.Errorf("create arena for %s: %w", guildID, err)
	}
	a.arenas[guildID] = arena
	return arena, nil
}

// ResetAll abandons every run and refunds open stakes. Used on shutdown.
func (a *Arenas) ResetAll(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, arena := range a.arenas {
		arena.Session.Reset(ctx)
	}
}
