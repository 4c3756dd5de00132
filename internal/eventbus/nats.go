/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans local ad events out to NATS so sibling instances and
// downstream consumers (reporting, billing) see the same stream.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_ads/internal/events"
)

const subjectPrefix = "grimnirads.events."

// NATSBus mirrors the in-process bus onto NATS subjects. When the NATS
// connection cannot be established, it degrades to local-only delivery.
type NATSBus struct {
	logger zerolog.Logger
	local  *events.Bus
	conn   *nats.Conn
	nodeID string
}

// natsMessage is the wire format for a published event.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// NewNATSBus connects to natsURL and wraps the given local bus. On connection
// failure the bus still works locally and logs a warning.
func NewNATSBus(natsURL string, local *events.Bus, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		logger: logger.With().Str("component", "eventbus").Logger(),
		local:  local,
		nodeID: nodeID(),
	}

	conn, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			nb.logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", natsURL).Msg("nats unavailable, events stay local")
		return nb
	}

	nb.conn = conn
	nb.logger.Info().Str("url", natsURL).Msg("nats event fanout connected")
	return nb
}

// Publish delivers locally and, when connected, to the NATS subject for the
// event type. Remote publish failures are logged, never surfaced.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}

	data, err := json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nb.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal event")
		return
	}

	if err := nb.conn.Publish(subjectPrefix+string(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("nats publish failed")
	}
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// SubscribeRemote attaches a handler to the NATS subject for an event type,
// receiving events published by other instances. Returns an error when the
// bus is running local-only.
func (nb *NATSBus) SubscribeRemote(eventType events.EventType, handler func(events.EventType, events.Payload)) (*nats.Subscription, error) {
	if nb.conn == nil {
		return nil, fmt.Errorf("nats not connected")
	}

	return nb.conn.Subscribe(subjectPrefix+string(eventType), func(msg *nats.Msg) {
		var wire natsMessage
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			nb.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("bad event payload")
			return
		}
		// Skip events this node published itself.
		if wire.NodeID == nb.nodeID {
			return
		}
		handler(wire.EventType, wire.Payload)
	})
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() {
	if nb.conn != nil {
		if err := nb.conn.Drain(); err != nil {
			nb.logger.Warn().Err(err).Msg("nats drain")
		}
	}
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}
