package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger holds spendable balances. Adjust must reject a delta that would
// leave the balance negative with battle.ErrInsufficientBalance.
type Ledger interface {
	Balance(ctx context.Context, id string) (decimal.Decimal, error)
	Adjust(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)
}

// Stake is what a bettor offers: a fixed amount or the whole balance.
type Stake struct {
	Amount decimal.Decimal
	AllIn  bool
}

type BetLimits struct {
	Min decimal.Decimal
	// Max of zero means unlimited.
	Max decimal.Decimal
}

type BettingService struct {
	// mu makes balance read, debit and market stake one step so two
	// concurrent ALL-IN bets cannot both spend the same balance.
	mu     sync.Mutex
	market *Market
	ledger Ledger
	limits BetLimits
}

func NewBettingService(market *Market, ledger Ledger, limits BetLimits) *BettingService {
	return &BettingService{market: market, ledger: ledger, limits: limits}
}

func (s *BettingService) Market() *Market {
	return s.market
}

// PlaceBet debits the stake and records it in the market. A bet that replaces
// an earlier one refunds the earlier stake.
func (s *BettingService) PlaceBet(ctx context.Context, matchID uuid.UUID, bettorID string, stake Stake, side battle.Side) (Bet, error) {
	if !side.Valid() {
		return Bet{}, battle.ErrInvalidSide
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.market.State(matchID) != MarketOpen {
		return Bet{}, battle.ErrMarketClosed
	}

	amount := stake.Amount
	if stake.AllIn {
		balance, err := s.ledger.Balance(ctx, bettorID)
		if err != nil {
			return Bet{}, fmt.Errorf("failed to read balance: %w", err)
		}
		if prev, ok := s.market.Bet(matchID, bettorID); ok {
			balance = balance.Add(prev.Amount)
		}
		amount = balance
	}

	if stake.AllIn && s.limits.Max.IsPositive() && amount.GreaterThan(s.limits.Max) {
		amount = s.limits.Max
	}
	if !amount.IsPositive() {
		if stake.AllIn {
			return Bet{}, battle.ErrInsufficientBalance
		}
		return Bet{}, battle.ErrInvalidAmount
	}
	if amount.LessThan(s.limits.Min) || (s.limits.Max.IsPositive() && amount.GreaterThan(s.limits.Max)) {
		return Bet{}, battle.ErrBetOutOfRange
	}

	// The previous stake comes back before the new one is taken so a bettor
	// can move their whole balance to the other side.
	prev, hadPrev := s.market.Bet(matchID, bettorID)
	if hadPrev {
		if _, err := s.ledger.Adjust(ctx, bettorID, prev.Amount); err != nil {
			return Bet{}, fmt.Errorf("failed to refund previous bet: %w", err)
		}
	}

	if _, err := s.ledger.Adjust(ctx, bettorID, amount.Neg()); err != nil {
		if hadPrev {
			s.restore(ctx, bettorID, prev.Amount.Neg())
		}
		return Bet{}, err
	}

	if _, err := s.market.PlaceBet(matchID, bettorID, amount, side); err != nil {
		s.restore(ctx, bettorID, amount)
		if hadPrev {
			s.restore(ctx, bettorID, prev.Amount.Neg())
		}
		return Bet{}, err
	}

	return Bet{BettorID: bettorID, Amount: amount, Side: side}, nil
}

// Settle resolves the market and credits every payout.
func (s *BettingService) Settle(ctx context.Context, matchID uuid.UUID, winner battle.Side) ([]Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payouts, err := s.market.Resolve(matchID, winner)
	if err != nil {
		return nil, err
	}
	s.credit(ctx, matchID, payouts)
	return payouts, nil
}

// Void refunds every stake on the match.
func (s *BettingService) Void(ctx context.Context, matchID uuid.UUID) []Payout {
	s.mu.Lock()
	defer s.mu.Unlock()

	refunds := s.market.Void(matchID)
	s.credit(ctx, matchID, refunds)
	return refunds
}

// VoidAll refunds every stake still held by the market.
func (s *BettingService) VoidAll(ctx context.Context) map[uuid.UUID][]Payout {
	s.mu.Lock()
	defer s.mu.Unlock()

	refunds := s.market.VoidAll()
	for matchID, payouts := range refunds {
		s.credit(ctx, matchID, payouts)
	}
	return refunds
}

func (s *BettingService) Balance(ctx context.Context, bettorID string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, bettorID)
}

func (s *BettingService) credit(ctx context.Context, matchID uuid.UUID, payouts []Payout) {
	for _, p := range payouts {
		if _, err := s.ledger.Adjust(ctx, p.BettorID, p.Payout); err != nil {
			slog.Error("failed to credit payout", "match_id", matchID, "bettor_id", p.BettorID, "amount", p.Payout.String(), "error", err)
		}
	}
}

func (s *BettingService) restore(ctx context.Context, bettorID string, delta decimal.Decimal) {
	if _, err := s.ledger.Adjust(ctx, bettorID, delta); err != nil {
		slog.Error("failed to restore balance", "bettor_id", bettorID, "delta", delta.String(), "error", err)
	}
}
