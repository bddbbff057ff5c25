package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/config"
	"github.com/AdamBeresnev/parlor/internal/generation"
	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/google/uuid"
)

type Presenter interface {
	Present(ctx context.Context, matchID uuid.UUID, brief generation.MatchBrief, sink generation.SceneSink) (generation.Presentation, error)
}

type MatchArchive interface {
	ArchiveMatch(ctx context.Context, m *battle.Match) error
}

type RecordKeeper interface {
	RecordResult(ctx context.Context, winnerID, loserID string) error
}

type MatchOptions struct {
	Theme          string
	BettingEnabled bool
	BettingWindow  time.Duration
	FailurePolicy  string
	// Debug skips the betting window wait.
	Debug bool
}

// MatchService runs one 1v1 match end to end: market, resolution,
// presentation, settlement and archive.
type MatchService struct {
	betting   *BettingService
	presenter Presenter
	events    pubsub.Publisher
	archive   MatchArchive
	records   RecordKeeper
	opts      MatchOptions

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMatchService wires a runner. archive and records may be nil.
func NewMatchService(betting *BettingService, presenter Presenter, events pubsub.Publisher, archive MatchArchive, records RecordKeeper, rng *rand.Rand, opts MatchOptions) *MatchService {
	if events == nil {
		events = pubsub.Discard{}
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = config.FailureContinue
	}
	return &MatchService{
		betting:   betting,
		presenter: presenter,
		events:    events,
		archive:   archive,
		records:   records,
		opts:      opts,
		rng:       rng,
	}
}

type betsOpenPayload struct {
	MatchID uuid.UUID     `json:"match_id"`
	Window  time.Duration `json:"window"`
}

type oddsPayload struct {
	MatchID uuid.UUID `json:"match_id"`
	Odds    Odds      `json:"odds"`
}

type payoutsPayload struct {
	MatchID uuid.UUID `json:"match_id"`
	Voided  bool      `json:"voided"`
	Payouts []Payout  `json:"payouts"`
}

func (s *MatchService) RunMatch(ctx context.Context, guildID string, a, b *battle.Participant) (*battle.Match, error) {
	m := battle.NewMatch(guildID, a, b)
	log := slog.With("guild_id", guildID, "match_id", m.ID)

	betting := s.opts.BettingEnabled && s.betting != nil
	if betting {
		if err := s.betting.Market().Open(m.ID); err != nil {
			return nil, fmt.Errorf("open market: %w", err)
		}
	}
	s.publish(guildID, pubsub.EventMatchStarted, m.Snapshot())

	s.rngMu.Lock()
	side := Resolve(a, b, s.rng)
	s.rngMu.Unlock()
	log.Info("match resolved", "winner", m.Fighter(side).ID, "side", side)

	brief := generation.MatchBrief{A: a, B: b, WinnerSide: side, Theme: s.opts.Theme}
	sink := func(ctx context.Context, scene generation.Scene) error {
		s.publish(guildID, pubsub.EventScene, scene)
		if scene.Phase == generation.PhaseMeeting && betting {
			return s.runBettingWindow(ctx, guildID, m.ID)
		}
		return nil
	}

	pres, err := s.presenter.Present(ctx, m.ID, brief, sink)
	if err != nil {
		if betting {
			s.void(context.WithoutCancel(ctx), guildID, m.ID)
		}
		return nil, fmt.Errorf("present match %s: %w", m.ID, err)
	}

	degraded := pres.Failed()
	m.SetResult(side, degraded)
	if degraded {
		log.Warn("presentation failed outright", "policy", s.opts.FailurePolicy)
	}

	if betting {
		s.settle(ctx, guildID, m, degraded)
	}

	if s.archive != nil {
		if err := s.archive.ArchiveMatch(ctx, m); err != nil {
			log.Error("failed to archive match", "error", err)
		}
	}
	if s.records != nil {
		if err := s.records.RecordResult(ctx, m.Result.Winner.ID, m.Result.Loser.ID); err != nil {
			log.Error("failed to record result", "error", err)
		}
	}

	s.publish(guildID, pubsub.EventMatchFinished, m.Snapshot())
	return m, nil
}

func (s *MatchService) runBettingWindow(ctx context.Context, guildID string, matchID uuid.UUID) error {
	s.publish(guildID, pubsub.EventBetsOpen, betsOpenPayload{MatchID: matchID, Window: s.opts.BettingWindow})
	if !s.opts.Debug {
		if err := sleep(ctx, s.opts.BettingWindow); err != nil {
			return err
		}
	}

	odds, err := s.betting.Market().Close(matchID)
	if err != nil {
		return fmt.Errorf("close market: %w", err)
	}
	s.publish(guildID, pubsub.EventBetsClosed, oddsPayload{MatchID: matchID, Odds: odds})
	return nil
}

func (s *MatchService) settle(ctx context.Context, guildID string, m *battle.Match, degraded bool) {
	market := s.betting.Market()
	if market.State(m.ID) == MarketOpen {
		if _, err := market.Close(m.ID); err != nil {
			slog.Error("failed to close market", "match_id", m.ID, "error", err)
		}
	}

	if degraded && s.opts.FailurePolicy == config.FailureVoid {
		s.void(ctx, guildID, m.ID)
		return
	}

	payouts, err := s.betting.Settle(ctx, m.ID, m.Result.Side)
	if err != nil {
		slog.Error("failed to settle market, refunding", "match_id", m.ID, "error", err)
		s.void(ctx, guildID, m.ID)
		return
	}
	s.publish(guildID, pubsub.EventPayouts, payoutsPayload{MatchID: m.ID, Payouts: payouts})
}

// void refunds the match's stakes and announces the refunds.
func (s *MatchService) void(ctx context.Context, guildID string, matchID uuid.UUID) {
	refunds := s.betting.Void(ctx, matchID)
	s.publish(guildID, pubsub.EventPayouts, payoutsPayload{MatchID: matchID, Voided: true, Payouts: refunds})
}

func (s *MatchService) publish(guildID, eventType string, payload any) {
	s.events.Publish(pubsub.Event{Type: eventType, GuildID: guildID, Payload: payload})
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
