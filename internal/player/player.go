package player

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ContextKey string

const PlayerKey ContextKey = "player"

type Player struct {
	ID          string          `db:"id" json:"id"`
	DisplayName string          `db:"display_name" json:"display_name"`
	AvatarURL   *string         `db:"avatar_url" json:"avatar_url,omitempty"`
	Provider    *string         `db:"provider" json:"provider,omitempty"`
	Balance     decimal.Decimal `db:"balance" json:"balance"`
	Wins        int             `db:"wins" json:"wins"`
	Losses      int             `db:"losses" json:"losses"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Optional trims s and returns nil when nothing is left.
func Optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (p *Player) Avatar() string {
	if p.AvatarURL == nil {
		return ""
	}
	return *p.AvatarURL
}

func (p *Player) ProviderName() string {
	if p.Provider == nil {
		return ""
	}
	return *p.Provider
}
