// Package events defines the domain events the engine consumes and the
// participant lifecycle events it emits.
package events

import (
	"errors"
	"time"
)

type EventType string

// Kafka topics.
const Topic = "qatering.journeys.events" // Domain events and engine ticks
const LifecycleTopic = "qatering.journeys.lifecycle"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Domain events consumed from the platform.
	UserRegisteredEvent       EventType = "user.registered"
	OrderFirstEvent           EventType = "order.first"
	OrderPlacedEvent          EventType = "order.placed"
	UserInactiveEvent         EventType = "user.inactive"
	WalletBelowThresholdEvent EventType = "wallet.below_threshold"

	// Engine-published evaluation ticks for non-event journeys.
	SegmentTickEvent EventType = "journey.segment.tick"
	DateTickEvent    EventType = "journey.date.tick"

	// Participant lifecycle events.
	ParticipantEnteredEvent   EventType = "participant.entered"
	ParticipantCompletedEvent EventType = "participant.completed"
	ParticipantConvertedEvent EventType = "participant.converted"
	ParticipantExitedEvent    EventType = "participant.exited"
	ParticipantFailedEvent    EventType = "participant.failed"
)

// TopicFor routes an event to its Kafka topic: lifecycle events go out on
// LifecycleTopic for downstream consumers, everything else shares Topic.
func TopicFor(eventType EventType) string {
	switch eventType {
	case ParticipantEnteredEvent, ParticipantCompletedEvent,
		ParticipantConvertedEvent, ParticipantExitedEvent, ParticipantFailedEvent:
		return LifecycleTopic
	default:
		return Topic
	}
}

// DomainEventTypes lists the platform events the engine subscribes to.
func DomainEventTypes() []EventType {
	return []EventType{
		UserRegisteredEvent,
		OrderFirstEvent,
		OrderPlacedEvent,
		UserInactiveEvent,
		WalletBelowThresholdEvent,
	}
}

var (
	ErrInvalidEventData = errors.New("invalid event data")
)

// DomainEvent is a platform event about one user.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	UserID     string         `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func (e DomainEvent) GetType() EventType {
	return e.Type
}

// Validate checks the fields every consumer relies on.
func (e DomainEvent) Validate() error {
	if e.Type == "" || e.UserID == "" || e.OccurredAt.IsZero() {
		return ErrInvalidEventData
	}

	return nil
}

// JourneyTick asks the trigger listener to evaluate a segment_entry or
// date_based journey's audience.
type JourneyTick struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	JourneyID string    `json:"journey_id"`
	FiredAt   time.Time `json:"fired_at"`
}

func (t JourneyTick) GetType() EventType {
	return t.Type
}

func (t JourneyTick) Validate() error {
	if t.JourneyID == "" {
		return ErrInvalidEventData
	}

	if t.Type != SegmentTickEvent && t.Type != DateTickEvent {
		return ErrInvalidEventData
	}

	return nil
}

type BaseLifecycle struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	JourneyID     string    `json:"journey_id"`
	ParticipantID string    `json:"participant_id"`
	UserID        string    `json:"user_id"`
	EngineID      string    `json:"engine_id,omitempty"`
}

type ParticipantEntered struct {
	BaseLifecycle

	NodeID string `json:"node_id"`
}

func (p ParticipantEntered) GetType() EventType {
	return ParticipantEnteredEvent
}

type ParticipantCompleted struct {
	BaseLifecycle

	NodeID string `json:"node_id"`
}

func (p ParticipantCompleted) GetType() EventType {
	return ParticipantCompletedEvent
}

type ParticipantConverted struct {
	BaseLifecycle

	GoalEventType string `json:"goal_event_type"`
}

func (p ParticipantConverted) GetType() EventType {
	return ParticipantConvertedEvent
}

type ParticipantExited struct {
	BaseLifecycle

	Reason string `json:"reason"`
}

func (p ParticipantExited) GetType() EventType {
	return ParticipantExitedEvent
}

type ParticipantFailed struct {
	BaseLifecycle

	NodeID string `json:"node_id,omitempty"`
	Reason string `json:"reason"`
}

func (p ParticipantFailed) GetType() EventType {
	return ParticipantFailedEvent
}
