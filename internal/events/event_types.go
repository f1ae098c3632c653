package events

import (
	"maps"
	"time"

	"github.com/spec-kit/crm-service/internal/domain"
)

// EventType mirrors the activity type that produced the event.
type EventType = domain.ActivityType

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.ActorType `json:"type"`
	ID   string           `json:"id"`
}

// Event is the published form of a recorded activity.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	ConversationID *string        `json:"conversation_id,omitempty"`
	CaseID         *string        `json:"case_id,omitempty"`
	CustomerID     *string        `json:"customer_id,omitempty"`
	Actor          Actor          `json:"actor"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// FromActivity builds the event for a stored activity.
func FromActivity(activity *domain.Activity, actor domain.Actor) Event {
	return Event{
		ID:             activity.ID,
		Type:           activity.Type,
		ConversationID: activity.ConversationID,
		CaseID:         activity.CaseID,
		CustomerID:     activity.CustomerID,
		Actor:          Actor{Type: actor.Type, ID: actor.String()},
		Timestamp:      activity.CreatedAt,
		Payload:        maps.Clone(activity.Metadata),
	}
}
