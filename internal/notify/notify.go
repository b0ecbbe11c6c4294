// Package notify pushes live events to the socket gateway through a topic
// exchange. The routing key is the room name.
package notify

import (
	"context"
	"log/slog"
	"time"
)

const EventResult = "result"

// Publisher publishes to an exchange.
type Publisher interface {
	PublishTo(ctx context.Context, exchange, key string, v any) error
}

// Event is what the gateway forwards to the room's sockets.
type Event struct {
	Event string    `json:"event"`
	Room  string    `json:"room"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

type Notifier struct {
	pub      Publisher
	exchange string
}

func New(pub Publisher, exchange string) *Notifier {
	return &Notifier{pub: pub, exchange: exchange}
}

// Room is the per-owner channel name.
func Room(ownerID string) string {
	return "user/" + ownerID
}

// Emit publishes event to room.
func (n *Notifier) Emit(ctx context.Context, room, event string, data any) error {
	err := n.pub.PublishTo(ctx, n.exchange, room, Event{Event: event, Room: room, Data: data, At: time.Now().UTC()})
	if err != nil {
		slog.Error("notify failed", "room", room, "event", event, "error", err)
		return err
	}
	return nil
}
