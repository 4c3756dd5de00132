/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Decision and delivery events
	EventDecisionServed    EventType = "decision.served"
	EventDecisionNoAd      EventType = "decision.no_ad"
	EventImpressionTracked EventType = "impression.tracked"
	EventClickTracked      EventType = "click.tracked"
	EventClickSuspicious   EventType = "click.suspicious"
	EventViewableQualified EventType = "impression.viewable"

	// Playback sequencing events
	EventQueueLoaded EventType = "queue.loaded"
	EventAdStart     EventType = "ad.start"
	EventAdComplete  EventType = "ad.complete"
	EventAdSkip      EventType = "ad.skip"
	EventAdError     EventType = "ad.error"

	// Campaign lifecycle events
	EventCampaignDelivered EventType = "campaign.delivered"
	EventCampaignExpired   EventType = "campaign.expired"

	// Audit events (for operations that need explicit audit logging)
	EventAuditAPIKeyCreate   EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke   EventType = "audit.apikey.revoke"
	EventAuditCampaignCreate EventType = "audit.campaign.create"
	EventAuditCampaignUpdate EventType = "audit.campaign.update"
	EventAuditCampaignDelete EventType = "audit.campaign.delete"
	EventAuditAdCreate       EventType = "audit.ad.create"
	EventAuditAdUpdate       EventType = "audit.ad.update"
	EventAuditAdDelete       EventType = "audit.ad.delete"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub. Publish never blocks; slow
// subscribers drop events.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
