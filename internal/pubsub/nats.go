package pubsub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

const streamName = "PARLOR_EVENTS"

// NATSPubSub is an Upstream backed by a JetStream stream. Published events
// are persisted on the stream and delivered to every instance subscribed to
// the subject.
type NATSPubSub struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	sub     *nats.Subscription

	mu          sync.RWMutex
	subscribers []chan Event
}

func NewNATSPubSub(natsURL, subject string) (*NATSPubSub, error) {
	nc, err := nats.Connect(natsURL, nats.Name("parlor"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	p := &NATSPubSub{nc: nc, js: js, subject: subject}
	p.sub, err = nc.Subscribe(subject, p.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return p, nil
}

func (p *NATSPubSub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}
	if _, err := p.js.Publish(p.subject, data); err != nil {
		slog.Error("failed to publish to NATS", "type", event.Type, "error", err)
	}
}

func (p *NATSPubSub) receive(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.Warn("failed to unmarshal event", "error", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (p *NATSPubSub) Subscribe() chan Event {
	ch := make(chan Event, 100)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()
	return ch
}

func (p *NATSPubSub) Unsubscribe(ch chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (p *NATSPubSub) Close() {
	if p.sub != nil {
		_ = p.sub.Unsubscribe()
	}

	p.mu.Lock()
	for _, sub := range p.subscribers {
		close(sub)
	}
	p.subscribers = nil
	p.mu.Unlock()

	p.nc.Close()
}
