package battle

import "slices"

type State string

const (
	StateIdle        State = "idle"
	StateModeSelect  State = "mode_select"
	StateRegistering State = "registering"
	StateRunning     State = "running"
)

type Mode string

const (
	ModeUnset   Mode = "unset"
	ModeBracket Mode = "bracket"
	ModeTeamWar Mode = "team_war"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBracket, ModeTeamWar:
		return Mode(s), nil
	}
	return ModeUnset, ErrInvalidMode
}

// Capacities are the tournament sizes an admin can configure.
var Capacities = []int{2, 4, 8, 16, 32}

func ValidCapacity(n int) bool {
	return slices.Contains(Capacities, n)
}

type Roster struct {
	Key     string         `json:"key"`
	Name    string         `json:"name"`
	Members []*Participant `json:"members"`
}

func (r *Roster) Has(id string) bool {
	for _, m := range r.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}
