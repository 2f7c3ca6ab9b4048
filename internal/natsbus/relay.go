package natsbus

import (
	"encoding/json"
	"log/slog"

	"github.com/mtzanidakis/maistro/internal/channel"
	"github.com/nats-io/nats.go"
)

// Sink publishes a configuration's channel events on the bus. Publish
// failures are logged and dropped.
func (c *Client) Sink(configID string) channel.Sink {
	topic := TopicExecution(configID)
	return channel.SinkFunc(func(m channel.Message) {
		if err := c.PublishJSON(topic, m); err != nil {
			slog.Warn("publish channel event failed", "config", configID, "type", m.Type, "error", err)
		}
	})
}

// Sender delivers a relayed message to a configuration's subscriber.
type Sender interface {
	Send(configID string, m channel.Message) bool
}

// Relay forwards channel events published by other processes to the local
// subscribers.
func (c *Client) Relay(to Sender) (*nats.Subscription, error) {
	return c.Subscribe(TopicExecutionAll, func(msg *nats.Msg) {
		configID, ok := ConfigIDFromTopic(msg.Subject)
		if !ok {
			return
		}
		var m channel.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			slog.Warn("invalid relayed channel event", "subject", msg.Subject, "error", err)
			return
		}
		to.Send(configID, m)
	})
}
