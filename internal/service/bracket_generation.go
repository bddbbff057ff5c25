package service

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/AdamBeresnev/parlor/internal/battle"
)

// Pair is one bracket match-up, in queue order.
type Pair [2]*battle.Participant

// PairRound pairs entrants consecutively. With an odd count the last entrant
// gets a bye and advances without fighting.
func PairRound(entrants []*battle.Participant) ([]Pair, *battle.Participant) {
	pairs := make([]Pair, 0, len(entrants)/2)
	for i := 0; i+1 < len(entrants); i += 2 {
		pairs = append(pairs, Pair{entrants[i], entrants[i+1]})
	}

	var bye *battle.Participant
	if len(entrants)%2 == 1 {
		bye = entrants[len(entrants)-1]
	}
	return pairs, bye
}

// Shuffled returns a shuffled copy of entrants.
func Shuffled(entrants []*battle.Participant, rng *rand.Rand) []*battle.Participant {
	out := make([]*battle.Participant, len(entrants))
	copy(out, entrants)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Gets the number of rounds needed to crown one champion, so 5 entrants need 3
func calcRounds(count int) int {
	if count <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(count))))
}

// DebugFixtures builds synthetic fighters for debug tournaments. Every third
// fighter owns a couple of assets so both resolver paths get exercised.
func DebugFixtures(n int) ([]*battle.Participant, StaticAssets) {
	fighters := make([]*battle.Participant, 0, n)
	assets := StaticAssets{}
	for i := range n {
		id := fmt.Sprintf("debug-%02d", i+1)
		fighters = append(fighters, &battle.Participant{
			ID:          id,
			DisplayName: fmt.Sprintf("Fighter %d", i+1),
		})
		if i%3 == 0 {
			assets[id] = []battle.Asset{
				{Name: fmt.Sprintf("Relic %d", i+1), RarityRank: 50 * (i + 1)},
				{Name: fmt.Sprintf("Charm %d", i+1), RarityRank: 4000 + i},
			}
		}
	}
	return fighters, assets
}

// HouseFighter stands in when an instant match has no opponent.
func HouseFighter() *battle.Participant {
	return &battle.Participant{ID: "house", DisplayName: "The House"}
}
