package realtime

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/metrics"
	"github.com/eldtechnologies/gigchat/internal/models"
)

// Event names pushed to clients.
const (
	EventMessage    = "message"
	EventNewMessage = "newMessage"
	EventSubscribed = "subscribed"
	EventError      = "error"
)

// Frame is the JSON object written to a websocket for every event.
type Frame struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data"`
}

// Channel is the fan-out channel. It publishes through a Broker and delivers
// what the broker hands back to the local Hub.
type Channel struct {
	hub    *Hub
	broker Broker
	logger zerolog.Logger
}

// NewChannel wires hub and broker together.
func NewChannel(hub *Hub, broker Broker, logger zerolog.Logger) *Channel {
	return &Channel{
		hub:    hub,
		broker: broker,
		logger: logger.With().Str("component", "fanout").Logger(),
	}
}

// Start subscribes the local hub to the broker.
func (c *Channel) Start(ctx context.Context) error {
	return c.broker.Subscribe(ctx, c.deliver)
}

func (c *Channel) deliver(env Envelope) {
	n := c.hub.Deliver(env.Room, env.Frame)
	metrics.FanoutDeliveries.WithLabelValues(env.Event).Add(float64(n))
}

// Publish sends a persisted message to the room of its participants.
// It must only be called after the message has been stored.
func (c *Channel) Publish(ctx context.Context, msg *models.Message) {
	room := models.RoomName(msg.ContextID, msg.SenderID, msg.ReceiverID)
	c.emit(ctx, room, EventMessage, msg)
}

// NotifyUser sends data to the personal channel of userID.
func (c *Channel) NotifyUser(ctx context.Context, userID int64, event string, data any) {
	c.emit(ctx, models.PersonalChannel(userID), event, data)
}

// emit never fails the caller: a subscriber that misses an event catches up
// from history.
func (c *Channel) emit(ctx context.Context, room, event string, data any) {
	frame, err := json.Marshal(Frame{Event: event, Room: room, Data: data})
	if err != nil {
		c.logger.Error().Err(err).Str("room", room).Str("event", event).Msg("failed to encode frame")
		return
	}

	if err := c.broker.Publish(ctx, Envelope{Room: room, Event: event, Frame: frame}); err != nil {
		metrics.BrokerPublishErrors.Inc()
		c.logger.Warn().Err(err).Str("room", room).Str("event", event).Msg("fan-out publish failed")
	}
}
