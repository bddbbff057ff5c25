package service

import (
	"context"
	"testing"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAsset(id string, rank int) *battle.Participant {
	return &battle.Participant{ID: id, Asset: &battle.Asset{Name: id + "-card", RarityRank: rank}}
}

func fallback(id string, tier battle.Tier) *battle.Participant {
	return &battle.Participant{ID: id, Tier: tier}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		p    *battle.Participant
		want float64
	}{
		{"fallback", fallback("a", battle.TierCommon), FallbackScore},
		{"rare asset", withAsset("a", 1), CeilingScore - 1},
		{"common asset hits the floor", withAsset("a", 20000), FloorScore},
		{"bonus is added", &battle.Participant{Asset: &battle.Asset{RarityRank: 9000}, Bonus: BonusValue}, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.p))
		})
	}
}

func TestResolve_AssetAlwaysBeatsFallback(t *testing.T) {
	rng := random.Seeded(7)
	for range 200 {
		assert.Equal(t, battle.SideB, Resolve(fallback("a", battle.TierPrime), withAsset("b", 9999), rng))
		assert.Equal(t, battle.SideA, Resolve(withAsset("a", 9999), fallback("b", battle.TierPrime), rng))
	}
}

func TestResolve_DominantTierWins(t *testing.T) {
	rng := random.Seeded(11)
	for range 200 {
		assert.Equal(t, battle.SideA, Resolve(fallback("a", battle.TierPrime), fallback("b", battle.TierCommon), rng))
		assert.Equal(t, battle.SideB, Resolve(fallback("a", battle.TierCommon), fallback("b", battle.TierPrime), rng))
	}
}

func TestResolve_SameTierIsRoughlyEven(t *testing.T) {
	rng := random.Seeded(3)
	winsA := 0
	const n = 4000
	for range n {
		if Resolve(fallback("a", battle.TierCommon), fallback("b", battle.TierCommon), rng) == battle.SideA {
			winsA++
		}
	}
	assert.InDelta(t, 0.5, float64(winsA)/n, 0.05)
}

func TestResolve_ReplaysWithSameSeed(t *testing.T) {
	a, b := withAsset("a", 100), withAsset("b", 4000)
	first := make([]battle.Side, 50)
	rng := random.Seeded(42)
	for i := range first {
		first[i] = Resolve(a, b, rng)
	}
	rng = random.Seeded(42)
	for i := range first {
		assert.Equal(t, first[i], Resolve(a, b, rng))
	}
}

func TestWeightedDraw(t *testing.T) {
	t.Run("proportional to score", func(t *testing.T) {
		rng := random.Seeded(99)
		winsA := 0
		const n = 10000
		for range n {
			if WeightedDraw(300, 100, rng) == battle.SideA {
				winsA++
			}
		}
		assert.InDelta(t, 0.75, float64(winsA)/n, 0.03)
	})

	t.Run("zero scores are a coin flip", func(t *testing.T) {
		rng := random.Seeded(5)
		seen := map[battle.Side]bool{}
		for range 100 {
			seen[WeightedDraw(0, 0, rng)] = true
		}
		assert.True(t, seen[battle.SideA])
		assert.True(t, seen[battle.SideB])
	})

	t.Run("zero against positive never wins", func(t *testing.T) {
		rng := random.Seeded(6)
		for range 100 {
			assert.Equal(t, battle.SideB, WeightedDraw(0, 10, rng))
		}
	})
}

func TestEquipper_Reroll(t *testing.T) {
	owned := []battle.Asset{{Name: "Gold", RarityRank: 3}, {Name: "Silver", RarityRank: 40}}
	e := Equipper{Source: StaticAssets{"collector": owned}}

	collector := &battle.Participant{ID: "collector", Tier: battle.TierPrime}
	empty := &battle.Participant{ID: "empty", Asset: &battle.Asset{Name: "stale"}}

	rng := random.Seeded(1)
	bonuses := 0
	for range 200 {
		err := e.Reroll(context.Background(), []*battle.Participant{collector, empty}, rng)
		require.NoError(t, err)

		require.NotNil(t, collector.Asset)
		assert.Contains(t, owned, *collector.Asset)
		assert.Equal(t, battle.TierNone, collector.Tier)

		assert.Nil(t, empty.Asset)
		assert.Contains(t, []battle.Tier{battle.TierPrime, battle.TierCommon}, empty.Tier)

		for _, p := range []*battle.Participant{collector, empty} {
			assert.Contains(t, []float64{0, BonusValue}, p.Bonus)
			if p.Bonus > 0 {
				bonuses++
			}
		}
	}
	assert.InDelta(t, BonusChance, float64(bonuses)/400, 0.08)
}
