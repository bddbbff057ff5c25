package service

import (
	"sort"
	"sync"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MarketState string

const (
	MarketUnopened MarketState = "unopened"
	MarketOpen     MarketState = "open"
	MarketClosed   MarketState = "closed"
	// MarketSettled is a pool that was resolved or voided. Its id cannot be
	// opened again.
	MarketSettled MarketState = "settled"
)

type Bet struct {
	BettorID string          `json:"bettor_id"`
	Amount   decimal.Decimal `json:"amount"`
	Side     battle.Side     `json:"side"`
}

type Payout struct {
	BettorID string          `json:"bettor_id"`
	Stake    decimal.Decimal `json:"stake"`
	Payout   decimal.Decimal `json:"payout"`
	Profit   decimal.Decimal `json:"profit"`
}

type Odds struct {
	StakeA      decimal.Decimal `json:"stake_a"`
	StakeB      decimal.Decimal `json:"stake_b"`
	MultiplierA decimal.Decimal `json:"multiplier_a"`
	MultiplierB decimal.Decimal `json:"multiplier_b"`
}

func (o Odds) Total() decimal.Decimal {
	return o.StakeA.Add(o.StakeB)
}

type pool struct {
	state       MarketState
	stakes      map[battle.Side]decimal.Decimal
	multipliers map[battle.Side]decimal.Decimal
	bets        map[string]Bet
}

func (p *pool) total() decimal.Decimal {
	return p.stakes[battle.SideA].Add(p.stakes[battle.SideB])
}

func (p *pool) odds() Odds {
	return Odds{
		StakeA:      p.stakes[battle.SideA],
		StakeB:      p.stakes[battle.SideB],
		MultiplierA: p.multipliers[battle.SideA],
		MultiplierB: p.multipliers[battle.SideB],
	}
}

// Market holds one pari-mutuel pool per match. Pools are single use: resolving
// or voiding a pool discards it and leaves a tombstone behind.
type Market struct {
	mu      sync.Mutex
	pools   map[uuid.UUID]*pool
	settled map[uuid.UUID]struct{}
}

func NewMarket() *Market {
	return &Market{
		pools:   make(map[uuid.UUID]*pool),
		settled: make(map[uuid.UUID]struct{}),
	}
}

func (m *Market) Open(matchID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[matchID]; ok {
		if p.state == MarketOpen {
			return nil
		}
		return &battle.StateError{Op: "open market", State: string(p.state)}
	}
	if _, ok := m.settled[matchID]; ok {
		return &battle.StateError{Op: "open market", State: string(MarketSettled)}
	}

	one := decimal.NewFromInt(1)
	m.pools[matchID] = &pool{
		state:       MarketOpen,
		stakes:      map[battle.Side]decimal.Decimal{battle.SideA: decimal.Zero, battle.SideB: decimal.Zero},
		multipliers: map[battle.Side]decimal.Decimal{battle.SideA: one, battle.SideB: one},
		bets:        make(map[string]Bet),
	}
	return nil
}

// PlaceBet records the bettor's stake. A bettor holds at most one bet per
// match: a new bet replaces the previous one, which is returned so the caller
// can refund it.
func (m *Market) PlaceBet(matchID uuid.UUID, bettorID string, amount decimal.Decimal, side battle.Side) (*Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[matchID]
	if !ok || p.state != MarketOpen {
		return nil, battle.ErrMarketClosed
	}
	if !side.Valid() {
		return nil, battle.ErrInvalidSide
	}
	if !amount.IsPositive() {
		return nil, battle.ErrInvalidAmount
	}

	var previous *Bet
	if prev, ok := p.bets[bettorID]; ok {
		p.stakes[prev.Side] = p.stakes[prev.Side].Sub(prev.Amount)
		previous = &prev
	}

	p.bets[bettorID] = Bet{BettorID: bettorID, Amount: amount, Side: side}
	p.stakes[side] = p.stakes[side].Add(amount)
	return previous, nil
}

// Close stops betting and fixes the multipliers. A side nobody backed keeps a
// multiplier of 1.
func (m *Market) Close(matchID uuid.UUID) (Odds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[matchID]
	if !ok {
		state := MarketUnopened
		if _, settled := m.settled[matchID]; settled {
			state = MarketSettled
		}
		return Odds{}, &battle.StateError{Op: "close market", State: string(state)}
	}
	if p.state != MarketOpen {
		return Odds{}, &battle.StateError{Op: "close market", State: string(p.state)}
	}

	p.state = MarketClosed
	total := p.total()
	for _, side := range []battle.Side{battle.SideA, battle.SideB} {
		if stake := p.stakes[side]; stake.IsPositive() {
			p.multipliers[side] = total.Div(stake)
		}
	}
	return p.odds(), nil
}

// Resolve pays the winning side and discards the pool. An unknown or already
// resolved match yields no payouts and no error.
func (m *Market) Resolve(matchID uuid.UUID, winner battle.Side) ([]Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[matchID]
	if !ok {
		return []Payout{}, nil
	}
	if p.state != MarketClosed {
		return nil, &battle.StateError{Op: "resolve market", State: string(p.state)}
	}
	if !winner.Valid() {
		return nil, battle.ErrInvalidSide
	}
	m.discardLocked(matchID)

	total := p.total()
	winningStake := p.stakes[winner]
	payouts := make([]Payout, 0, len(p.bets))
	for _, bet := range p.bets {
		if bet.Side != winner || !winningStake.IsPositive() {
			continue
		}
		// stake * total / winningStake is stake * multiplier without the
		// rounding of the stored multiplier.
		amount := bet.Amount.Mul(total).Div(winningStake)
		payouts = append(payouts, Payout{
			BettorID: bet.BettorID,
			Stake:    bet.Amount,
			Payout:   amount,
			Profit:   amount.Sub(bet.Amount),
		})
	}
	sortPayouts(payouts)
	return payouts, nil
}

// Void refunds every stake and discards the pool.
func (m *Market) Void(matchID uuid.UUID) []Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voidLocked(matchID)
}

// VoidAll voids every open or closed pool. Refunds are keyed by match.
func (m *Market) VoidAll() map[uuid.UUID][]Payout {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uuid.UUID][]Payout, len(m.pools))
	for id := range m.pools {
		out[id] = m.voidLocked(id)
	}
	return out
}

func (m *Market) voidLocked(matchID uuid.UUID) []Payout {
	p, ok := m.pools[matchID]
	if !ok {
		return []Payout{}
	}
	m.discardLocked(matchID)

	refunds := make([]Payout, 0, len(p.bets))
	for _, bet := range p.bets {
		refunds = append(refunds, Payout{
			BettorID: bet.BettorID,
			Stake:    bet.Amount,
			Payout:   bet.Amount,
			Profit:   decimal.Zero,
		})
	}
	sortPayouts(refunds)
	return refunds
}

func (m *Market) State(matchID uuid.UUID) MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[matchID]; ok {
		return p.state
	}
	if _, ok := m.settled[matchID]; ok {
		return MarketSettled
	}
	return MarketUnopened
}

func (m *Market) Odds(matchID uuid.UUID) (Odds, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[matchID]
	if !ok {
		return Odds{}, false
	}
	return p.odds(), true
}

func (m *Market) Bet(matchID uuid.UUID, bettorID string) (Bet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[matchID]
	if !ok {
		return Bet{}, false
	}
	b, ok := p.bets[bettorID]
	return b, ok
}

func (m *Market) discardLocked(matchID uuid.UUID) {
	delete(m.pools, matchID)
	m.settled[matchID] = struct{}{}
}

// Largest profit first, bettor ID breaks ties so output is stable.
func sortPayouts(p []Payout) {
	sort.Slice(p, func(i, j int) bool {
		if c := p[i].Profit.Cmp(p[j].Profit); c != 0 {
			return c > 0
		}
		return p[i].BettorID < p[j].BettorID
	})
}
