package battle

import (
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

type Result struct {
	Winner *Participant `json:"winner"`
	Loser  *Participant `json:"loser"`
	Side   Side         `json:"side"`
	// Degraded is set when the presentation failed outright.
	Degraded bool `json:"degraded,omitempty"`
}

type Match struct {
	ID        uuid.UUID    `json:"id"`
	GuildID   string       `json:"guild_id"`
	A         *Participant `json:"a"`
	B         *Participant `json:"b"`
	Result    *Result      `json:"result,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func NewMatch(guildID string, a, b *Participant) *Match {
	return &Match{
		ID:        uuid.New(),
		GuildID:   guildID,
		A:         a,
		B:         b,
		CreatedAt: time.Now(),
	}
}

// Fighter returns the participant on the given side.
func (m *Match) Fighter(side Side) *Participant {
	if side == SideA {
		return m.A
	}
	return m.B
}

// SetResult records the outcome. A match result is written once; later calls
// are ignored and return false.
func (m *Match) SetResult(side Side, degraded bool) bool {
	if m.Result != nil {
		return false
	}
	m.Result = &Result{
		Winner:   m.Fighter(side),
		Loser:    m.Fighter(side.Other()),
		Side:     side,
		Degraded: degraded,
	}
	return true
}

// Snapshot deep-copies the match for publishing.
func (m *Match) Snapshot() *Match {
	c := *m
	c.A = m.A.Clone()
	c.B = m.B.Clone()
	if m.Result != nil {
		r := *m.Result
		r.Winner = c.Fighter(r.Side)
		r.Loser = c.Fighter(r.Side.Other())
		c.Result = &r
	}
	return &c
}
