// Package events is the event log adapter: the route-change event type, the
// Kafka producer that publishes it after commit, and the consumer groups that
// fan it out to the cache and the audit store.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/iamtahmad1/traffic-manager/internal/models"
)

// EventTypeRouteChanged is the type tag carried on every route event
const EventTypeRouteChanged = "route_changed"

// RouteEvent is the wire format of one route change, one JSON document per
// message. The partition key is the canonical route identifier, so all
// events for one route land on one partition in commit order.
type RouteEvent struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	Action        string `json:"action"`
	Tenant        string `json:"tenant"`
	Service       string `json:"service"`
	Env           string `json:"env"`
	Version       string `json:"version"`
	URL           string `json:"url"`
	PreviousURL   string `json:"previous_url,omitempty"`
	PreviousState string `json:"previous_state,omitempty"`
	ChangedBy     string `json:"changed_by,omitempty"`
	OccurredAt    string `json:"occurred_at"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Key returns the route identifier carried by the event
func (e *RouteEvent) Key() models.RouteKey {
	return models.RouteKey{
		Tenant:  e.Tenant,
		Service: e.Service,
		Env:     e.Env,
		Version: e.Version,
	}
}

// PartitionKey returns the canonical identifier string used as the message key
func (e *RouteEvent) PartitionKey() string {
	return e.Key().String()
}

// NewRouteEvent builds the event for a committed mutation
func NewRouteEvent(result *models.MutationResult, action, changedBy, correlationID string) *RouteEvent {
	return &RouteEvent{
		EventID:       uuid.New().String(),
		EventType:     EventTypeRouteChanged,
		Action:        action,
		Tenant:        result.Key.Tenant,
		Service:       result.Key.Service,
		Env:           result.Key.Env,
		Version:       result.Key.Version,
		URL:           result.URL,
		PreviousURL:   result.PreviousURL,
		PreviousState: result.PreviousState,
		ChangedBy:     changedBy,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
		CorrelationID: correlationID,
	}
}

// ActionForOutcome maps a state-changing outcome to its event action.
// The second return is false for idempotent replays, which emit no event.
func ActionForOutcome(outcome models.MutationOutcome) (string, bool) {
	switch outcome {
	case models.OutcomeCreated:
		return models.ActionCreated, true
	case models.OutcomeActivated:
		return models.ActionActivated, true
	case models.OutcomeDeactivated:
		return models.ActionDeactivated, true
	default:
		return "", false
	}
}
