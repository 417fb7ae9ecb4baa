package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the number of frames a subscriber may fall behind before it is dropped.
const DefaultBuffer = 256

// Message is the envelope of every frame on the event channel, in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for an event with an arbitrary payload.
func Encode(event string, data interface{}) ([]byte, error) {
	m := Message{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		m.Data = raw
	}
	return json.Marshal(m)
}

// EncodeRaw builds a frame around data without re-encoding it, so the payload bytes go out exactly as received.
// data must be valid json or empty.
func EncodeRaw(event string, data json.RawMessage) ([]byte, error) {
	name, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event name: %w", err)
	}
	frame := make([]byte, 0, len(name)+len(data)+20)
	frame = append(frame, `{"event":`...)
	frame = append(frame, name...)
	if len(data) > 0 {
		if !json.Valid(data) {
			return nil, fmt.Errorf("invalid %s payload", event)
		}
		frame = append(frame, `,"data":`...)
		frame = append(frame, data...)
	}
	return append(frame, '}'), nil
}

// Mirror receives a copy of every broadcast frame.
type Mirror interface {
	Publish(frame []byte) error
}

// Subscription is one connected client. Frames arrive on C in broadcast order. C is closed when the subscriber is
// removed, either by Unsubscribe or because it fell too far behind.
type Subscription struct {
	ID     string
	Remote string
	queue  chan []byte
}

func (s *Subscription) C() <-chan []byte {
	return s.queue
}

// Gateway fans frames out to every subscriber. Broadcast calls are serialised, so all subscribers observe frames in
// the same order they were broadcast. Delivery is best effort and at most once: a subscriber whose queue is full is
// dropped rather than skipped, so a connected subscriber never sees a gap.
type Gateway struct {
	buffer int
	mirror Mirror

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewGateway(buffer int, mirror Mirror) *Gateway {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Gateway{buffer: buffer, mirror: mirror, subs: map[string]*Subscription{}}
}

func (g *Gateway) Subscribe(remote string) *Subscription {
	sub := &Subscription{ID: uuid.NewString(), Remote: remote, queue: make(chan []byte, g.buffer)}
	g.mu.Lock()
	g.subs[sub.ID] = sub
	count := len(g.subs)
	g.mu.Unlock()
	slog.Info("subscriber connected", "id", sub.ID, "remote", remote, "subscribers", count)
	return sub
}

func (g *Gateway) Unsubscribe(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(sub)
}

func (g *Gateway) removeLocked(sub *Subscription) {
	if _, ok := g.subs[sub.ID]; !ok {
		return
	}
	delete(g.subs, sub.ID)
	close(sub.queue)
	slog.Info("subscriber removed", "id", sub.ID, "remote", sub.Remote, "subscribers", len(g.subs))
}

// Count returns the number of connected subscribers.
func (g *Gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Broadcast delivers frame to every subscriber and the mirror.
func (g *Gateway) Broadcast(frame []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sub := range g.subs {
		select {
		case sub.queue <- frame:
		default:
			slog.Warn("dropping slow subscriber", "id", sub.ID, "remote", sub.Remote)
			g.removeLocked(sub)
		}
	}
	if g.mirror != nil {
		if err := g.mirror.Publish(frame); err != nil {
			slog.Warn("failed to mirror frame", "err", err)
		}
	}
}

// Send delivers frame to a single subscriber, keeping its place in the broadcast order.
func (g *Gateway) Send(sub *Subscription, frame []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.subs[sub.ID]; !ok {
		return false
	}
	select {
	case sub.queue <- frame:
		return true
	default:
		slog.Warn("dropping slow subscriber", "id", sub.ID, "remote", sub.Remote)
		g.removeLocked(sub)
		return false
	}
}
