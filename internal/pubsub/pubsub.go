package pubsub

import (
	"log/slog"
	"sync"
)

const (
	EventTournamentState = "tournament.state"
	EventMatchStarted    = "match.started"
	EventScene           = "match.scene"
	EventBetsOpen        = "bets.open"
	EventBetsClosed      = "bets.closed"
	EventBetPlaced       = "bet.placed"
	EventPayouts         = "bets.payouts"
	EventMatchFinished   = "match.finished"
	EventRoundStarted    = "round.started"
	EventBye             = "round.bye"
	EventChampion        = "tournament.champion"
	EventTeamWarResult   = "team_war.result"
)

type Event struct {
	Type    string `json:"type"`
	GuildID string `json:"guild_id"`
	Payload any    `json:"payload,omitempty"`
}

// Publisher is what the engine needs to announce progress.
type Publisher interface {
	Publish(Event)
}

// Upstream is a broker that broadcasts published events back to every
// instance, this one included.
type Upstream interface {
	Publish(Event)
	Subscribe() chan Event
	Unsubscribe(chan Event)
}

// PubSub fans events out to in-process subscribers, optionally through an
// upstream broker.
type PubSub struct {
	mu          sync.RWMutex
	subscribers []chan Event
	upstream    Upstream
}

func New() *PubSub {
	return &PubSub{subscribers: []chan Event{}}
}

// NewWithUpstream publishes through upstream and forwards everything it
// broadcasts to local subscribers.
func NewWithUpstream(upstream Upstream) *PubSub {
	ps := &PubSub{
		subscribers: []chan Event{},
		upstream:    upstream,
	}

	ch := upstream.Subscribe()
	go func() {
		for event := range ch {
			ps.publishLocal(event)
		}
		slog.Debug("upstream channel closed")
	}()
	return ps
}

func (ps *PubSub) Subscribe() chan Event {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ch := make(chan Event, 32)
	ps.subscribers = append(ps.subscribers, ch)
	return ch
}

func (ps *PubSub) Unsubscribe(ch chan Event) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for i, sub := range ps.subscribers {
		if sub == ch {
			close(ch)
			ps.subscribers = append(ps.subscribers[:i], ps.subscribers[i+1:]...)
			break
		}
	}
}

func (ps *PubSub) Publish(event Event) {
	if ps.upstream != nil {
		ps.upstream.Publish(event)
		return
	}
	ps.publishLocal(event)
}

// publishLocal never blocks; a full subscriber misses the event.
func (ps *PubSub) publishLocal(event Event) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, ch := range ps.subscribers {
		select {
		case ch <- event:
		default:
			slog.Debug("dropping event for slow subscriber", "type", event.Type)
		}
	}
}

// Discard swallows events. Used by the simulator and tests.
type Discard struct{}

func (Discard) Publish(Event) {}
