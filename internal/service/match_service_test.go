package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/config"
	"github.com/AdamBeresnev/parlor/internal/generation"
	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/AdamBeresnev/parlor/internal/random"
	"github.com/AdamBeresnev/parlor/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePresenter hands every phase to the sink. With failed set, scenes carry
// neither an image nor a narrated line.
type fakePresenter struct {
	failed bool
	err    error
}

func (f *fakePresenter) Present(ctx context.Context, matchID uuid.UUID, _ generation.MatchBrief, sink generation.SceneSink) (generation.Presentation, error) {
	if f.err != nil {
		return generation.Presentation{}, f.err
	}
	var pres generation.Presentation
	for _, phase := range generation.Phases {
		scene := generation.Scene{MatchID: matchID, Phase: phase, Text: string(phase)}
		if !f.failed {
			scene.Narrated = true
			scene.Image = &generation.Image{Data: []byte("png"), ContentType: "image/png"}
		}
		if err := sink(ctx, scene); err != nil {
			return pres, err
		}
		pres.Scenes = append(pres.Scenes, scene)
	}
	return pres, nil
}

// recorder keeps every event and lets a test react to one synchronously.
type recorder struct {
	mu     sync.Mutex
	events []pubsub.Event
	on     func(pubsub.Event)
}

func (r *recorder) Publish(e pubsub.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	on := r.on
	r.mu.Unlock()
	if on != nil {
		on(e)
	}
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// armed always beats unarmed, so the winner is known up front.
func armedVsUnarmed() (*battle.Participant, *battle.Participant) {
	a := &battle.Participant{ID: "alpha", DisplayName: "Alpha", Asset: &battle.Asset{Name: "Sword", RarityRank: 10}}
	b := &battle.Participant{ID: "beta", DisplayName: "Beta"}
	return a, b
}

type matchFixture struct {
	svc     *MatchService
	betting *BettingService
	events  *recorder
}

func newMatchFixture(presenter Presenter, policy string, archive MatchArchive, records RecordKeeper) *matchFixture {
	betting := NewBettingService(NewMarket(), store.NewMemoryLedger(d(100)), BetLimits{Min: d(1)})
	events := &recorder{}
	svc := NewMatchService(betting, presenter, events, archive, records, random.Seeded(1), MatchOptions{
		BettingEnabled: true,
		FailurePolicy:  policy,
		Debug:          true,
	})
	return &matchFixture{svc: svc, betting: betting, events: events}
}

// betDuringWindow places alice 30 on A and bob 10 on B once bets open.
func (f *matchFixture) betDuringWindow(t *testing.T) {
	f.events.on = func(e pubsub.Event) {
		if e.Type != pubsub.EventBetsOpen {
			return
		}
		matchID := e.Payload.(betsOpenPayload).MatchID
		_, err := f.betting.PlaceBet(context.Background(), matchID, "alice", Stake{Amount: d(30)}, battle.SideA)
		assert.NoError(t, err)
		_, err = f.betting.PlaceBet(context.Background(), matchID, "bob", Stake{Amount: d(10)}, battle.SideB)
		assert.NoError(t, err)
	}
}

func TestRunMatch_SettlesBets(t *testing.T) {
	f := newMatchFixture(&fakePresenter{}, config.FailureContinue, nil, nil)
	f.betDuringWindow(t)
	a, b := armedVsUnarmed()

	m, err := f.svc.RunMatch(t.Context(), "guild", a, b)
	require.NoError(t, err)
	require.NotNil(t, m.Result)
	assert.Equal(t, battle.SideA, m.Result.Side)
	assert.False(t, m.Result.Degraded)

	assert.True(t, balanceOf(t, f.betting, "alice").Equal(d(110)))
	assert.True(t, balanceOf(t, f.betting, "bob").Equal(d(90)))
	assert.Equal(t, MarketSettled, f.betting.Market().State(m.ID))

	assert.Equal(t, []string{
		pubsub.EventMatchStarted,
		pubsub.EventScene,
		pubsub.EventBetsOpen,
		pubsub.EventBetsClosed,
		pubsub.EventScene,
		pubsub.EventScene,
		pubsub.EventPayouts,
		pubsub.EventMatchFinished,
	}, f.events.types())
}

func TestRunMatch_BetAfterCloseRejected(t *testing.T) {
	f := newMatchFixture(&fakePresenter{}, config.FailureContinue, nil, nil)
	var matchID uuid.UUID
	f.events.on = func(e pubsub.Event) {
		if e.Type == pubsub.EventBetsClosed {
			matchID = e.Payload.(oddsPayload).MatchID
			_, err := f.betting.PlaceBet(context.Background(), matchID, "late", Stake{Amount: d(5)}, battle.SideA)
			assert.ErrorIs(t, err, battle.ErrMarketClosed)
		}
	}
	a, b := armedVsUnarmed()

	_, err := f.svc.RunMatch(t.Context(), "guild", a, b)
	require.NoError(t, err)
	assert.True(t, balanceOf(t, f.betting, "late").Equal(d(100)))
}

func TestRunMatch_FailurePolicy(t *testing.T) {
	testCases := []struct {
		name      string
		policy    string
		wantAlice int64
		wantBob   int64
	}{
		{"continue settles normally", config.FailureContinue, 110, 90},
		{"void refunds everyone", config.FailureVoid, 100, 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newMatchFixture(&fakePresenter{failed: true}, tc.policy, nil, nil)
			f.betDuringWindow(t)
			a, b := armedVsUnarmed()

			m, err := f.svc.RunMatch(t.Context(), "guild", a, b)
			require.NoError(t, err)
			assert.True(t, m.Result.Degraded)
			assert.Equal(t, battle.SideA, m.Result.Side)
			assert.True(t, balanceOf(t, f.betting, "alice").Equal(d(tc.wantAlice)))
			assert.True(t, balanceOf(t, f.betting, "bob").Equal(d(tc.wantBob)))
			assert.Equal(t, MarketSettled, f.betting.Market().State(m.ID))
		})
	}
}

func TestRunMatch_PresentErrorVoids(t *testing.T) {
	boom := errors.New("presenter down")
	f := newMatchFixture(&fakePresenter{err: boom}, config.FailureContinue, nil, nil)
	a, b := armedVsUnarmed()

	var opened uuid.UUID
	f.events.on = func(e pubsub.Event) {
		if e.Type == pubsub.EventMatchStarted {
			opened = e.Payload.(*battle.Match).ID
			_, err := f.betting.PlaceBet(context.Background(), opened, "alice", Stake{Amount: d(25)}, battle.SideB)
			assert.NoError(t, err)
		}
	}

	m, err := f.svc.RunMatch(t.Context(), "guild", a, b)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, m)
	assert.Equal(t, MarketSettled, f.betting.Market().State(opened))
	assert.True(t, balanceOf(t, f.betting, "alice").Equal(d(100)))
	assert.Zero(t, f.events.count(pubsub.EventMatchFinished))
	assert.Equal(t, 1, f.events.count(pubsub.EventPayouts))
}

func TestRunMatch_SettleFailureRefunds(t *testing.T) {
	f := newMatchFixture(&fakePresenter{}, config.FailureContinue, nil, nil)
	a, b := armedVsUnarmed()
	m := battle.NewMatch("guild", a, b)
	require.NoError(t, f.betting.Market().Open(m.ID))
	_, err := f.betting.PlaceBet(t.Context(), m.ID, "alice", Stake{Amount: d(20)}, battle.SideA)
	require.NoError(t, err)
	// A side the market does not know makes resolution fail.
	m.Result = &battle.Result{Winner: a, Loser: b, Side: battle.Side("C")}

	f.svc.settle(t.Context(), "guild", m, false)

	assert.True(t, balanceOf(t, f.betting, "alice").Equal(d(100)))
	assert.Equal(t, MarketSettled, f.betting.Market().State(m.ID))
	require.Equal(t, []string{pubsub.EventPayouts}, f.events.types())
	payload := f.events.events[0].Payload.(payoutsPayload)
	assert.True(t, payload.Voided)
	require.Len(t, payload.Payouts, 1)
	assert.Equal(t, "alice", payload.Payouts[0].BettorID)
}

func TestRunMatch_PublishesSnapshots(t *testing.T) {
	f := newMatchFixture(&fakePresenter{}, config.FailureContinue, nil, nil)
	a, b := armedVsUnarmed()

	m, err := f.svc.RunMatch(t.Context(), "guild", a, b)
	require.NoError(t, err)

	a.Asset.Name = "Rerolled"
	a.Bonus = 1000
	for _, e := range f.events.events {
		if e.Type != pubsub.EventMatchStarted && e.Type != pubsub.EventMatchFinished {
			continue
		}
		published := e.Payload.(*battle.Match)
		assert.Equal(t, m.ID, published.ID)
		assert.NotSame(t, a, published.A)
		assert.Equal(t, "Sword", published.A.Asset.Name)
		assert.Zero(t, published.A.Bonus)
	}
	finished := f.events.events[len(f.events.events)-1].Payload.(*battle.Match)
	require.NotNil(t, finished.Result)
	assert.Same(t, finished.A, finished.Result.Winner)
}

func TestRunMatch_WithoutBetting(t *testing.T) {
	events := &recorder{}
	svc := NewMatchService(nil, &fakePresenter{}, events, nil, nil, random.Seeded(3), MatchOptions{BettingEnabled: true, Debug: true})
	a, b := armedVsUnarmed()

	m, err := svc.RunMatch(t.Context(), "guild", a, b)
	require.NoError(t, err)
	assert.Equal(t, "alpha", m.Result.Winner.ID)
	assert.Zero(t, events.count(pubsub.EventBetsOpen))
	assert.Zero(t, events.count(pubsub.EventPayouts))
}

func TestRunMatch_ArchivesAndRecords(t *testing.T) {
	db := setupTestDB(t)
	matches := store.NewMatchStore(db)
	players := store.NewPlayerStore(db, d(1000))
	f := newMatchFixture(&fakePresenter{}, config.FailureContinue, matches, players)
	a, b := armedVsUnarmed()

	m, err := f.svc.RunMatch(t.Context(), "guild-1", a, b)
	require.NoError(t, err)

	rec, err := matches.GetMatch(t.Context(), m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "alpha", rec.WinnerID)
	assert.Equal(t, "guild-1", rec.GuildID)

	winner, err := players.GetPlayer(t.Context(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, winner.Wins)
	loser, err := players.GetPlayer(t.Context(), "beta")
	require.NoError(t, err)
	assert.Equal(t, 1, loser.Losses)
}
