// Package queue defines the signal fan-out message and the broker consumer
// that feeds signals published by other replicas into the local hub.
package queue

import (
	"strings"
	"time"
	"unicode"

	"github.com/iliyamo/beacon-signal-engine/internal/model"
)

// EventSignalCreated is the type of SignalCreatedEvent.
const EventSignalCreated = "signal.created"

// SignalCreatedEvent is published once per created post.  It carries the full
// post so subscribers never query the primary database.
type SignalCreatedEvent struct {
	Type        string              `json:"type"`
	City        string              `json:"city"`
	Post        model.EphemeralPost `json:"post"`
	PublishedAt time.Time           `json:"published_at"`
}

// NewSignalCreated builds the event for post.
func NewSignalCreated(city string, post model.EphemeralPost, now time.Time) SignalCreatedEvent {
	return SignalCreatedEvent{Type: EventSignalCreated, City: city, Post: post, PublishedAt: now.UTC()}
}

// CitySlug lower-cases city and collapses everything that is not a letter or
// digit into single dashes, so it is safe as an AMQP routing-key word and an
// MQTT topic level.
func CitySlug(city string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(city)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// RoutingKey is the topic-exchange routing key for city.
func RoutingKey(city string) string { return "city." + CitySlug(city) }
