package service

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/AdamBeresnev/parlor/internal/battle"
)

const (
	FallbackScore = 100.0
	CeilingScore  = 10000.0
	FloorScore    = 500.0

	BonusChance = 0.25
	BonusValue  = 1000.0
)

// Score is the weight a participant brings into the weighted draw.
func Score(p *battle.Participant) float64 {
	var s float64
	if p.InFallback() {
		s = FallbackScore
	} else {
		s = max(FloorScore, CeilingScore-float64(p.Asset.RarityRank))
	}
	return s + p.Bonus
}

// Resolve decides which side wins. Deterministic tiers are checked first; the
// weighted draw consumes exactly one value from rng, so a seeded source
// replays the same outcome.
func Resolve(a, b *battle.Participant, rng *rand.Rand) battle.Side {
	switch {
	case a.InFallback() && !b.InFallback():
		return battle.SideB
	case b.InFallback() && !a.InFallback():
		return battle.SideA
	case a.InFallback() && b.InFallback():
		if a.Tier.Dominates(b.Tier) {
			return battle.SideA
		}
		if b.Tier.Dominates(a.Tier) {
			return battle.SideB
		}
	}

	return WeightedDraw(Score(a), Score(b), rng)
}

// WeightedDraw picks A with probability scoreA/(scoreA+scoreB). Two zero
// scores are a coin flip.
func WeightedDraw(scoreA, scoreB float64, rng *rand.Rand) battle.Side {
	scoreA, scoreB = max(scoreA, 0), max(scoreB, 0)
	total := scoreA + scoreB
	if total == 0 {
		if rng.IntN(2) == 0 {
			return battle.SideA
		}
		return battle.SideB
	}
	if rng.Float64()*total < scoreA {
		return battle.SideA
	}
	return battle.SideB
}

// AssetSource lists the collectibles a participant owns.
type AssetSource interface {
	Assets(ctx context.Context, participantID string) ([]battle.Asset, error)
}

// NoAssets puts everyone in fallback mode.
type NoAssets struct{}

func (NoAssets) Assets(context.Context, string) ([]battle.Asset, error) {
	return nil, nil
}

// StaticAssets serves a fixed inventory, keyed by participant ID.
type StaticAssets map[string][]battle.Asset

func (s StaticAssets) Assets(_ context.Context, id string) ([]battle.Asset, error) {
	return s[id], nil
}

// Equipper re-rolls equipment and round bonus for a set of participants.
type Equipper struct {
	Source AssetSource
}

// Reroll equips a random owned asset (or a random fallback sub-tier) and rolls
// the per-round bonus for every participant.
func (e Equipper) Reroll(ctx context.Context, participants []*battle.Participant, rng *rand.Rand) error {
	src := e.Source
	if src == nil {
		src = NoAssets{}
	}
	for _, p := range participants {
		assets, err := src.Assets(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("load assets for %s: %w", p.ID, err)
		}
		if len(assets) > 0 {
			a := assets[rng.IntN(len(assets))]
			p.Asset = &a
			p.Tier = battle.TierNone
		} else {
			p.Asset = nil
			if rng.IntN(2) == 0 {
				p.Tier = battle.TierPrime
			} else {
				p.Tier = battle.TierCommon
			}
		}
		p.Bonus = 0
		if rng.Float64() < BonusChance {
			p.Bonus = BonusValue
		}
	}
	return nil
}
