// Package protocol defines the subset of the hub's WebSocket and REST
// wire protocol hvacd consumes (spec §6): the auth handshake, event
// subscription and dispatch, and service-call frames. The envelope and
// helper shape are carried over from a dashboard/agent protocol package
// in the same idiom — one struct per wire shape, json.RawMessage payload,
// decode-on-demand.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Incoming frame types (hub -> client).
const (
	TypeAuthRequired = "auth_required"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeEvent        = "event"
	TypeResult       = "result"
)

// Outgoing frame types (client -> hub).
const (
	TypeAuth            = "auth"
	TypeSubscribeEvents = "subscribe_events"
	TypeCallService     = "call_service"
)

// EventTypeStateChanged is the only event type hvacd subscribes to.
const EventTypeStateChanged = "state_changed"

// Frame is the generic envelope every incoming WebSocket message is
// decoded into first; Type selects how the remaining fields are
// interpreted.
type Frame struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"` // auth_invalid detail
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

// AuthFrame authenticates the WebSocket connection with a bearer token.
type AuthFrame struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// NewAuthFrame builds the outgoing auth frame for the given token.
func NewAuthFrame(token string) AuthFrame {
	return AuthFrame{Type: TypeAuth, AccessToken: token}
}

// SubscribeEventsFrame subscribes to one event type, or all types when
// EventType is empty.
type SubscribeEventsFrame struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// CallServiceFrame invokes a hub service. ServiceData carries the
// domain-specific parameters (entity_id, hvac_mode, temperature, ...).
type CallServiceFrame struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

// NewCallServiceFrame builds a call_service frame with the next
// per-connection message id.
func NewCallServiceFrame(id int, domain, service string, data map[string]any) CallServiceFrame {
	return CallServiceFrame{
		ID:          id,
		Type:        TypeCallService,
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}
}

// Event is the decoded payload of an incoming "event" frame.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin,omitempty"`
	TimeFired string          `json:"time_fired,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// ParseEvent decodes a Frame of type "event" into its Event payload.
func ParseEvent(f Frame) (Event, error) {
	if f.Type != TypeEvent {
		return Event{}, fmt.Errorf("protocol: frame type %q is not an event frame", f.Type)
	}
	var ev Event
	if err := json.Unmarshal(f.Event, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: decode event: %w", err)
	}
	return ev, nil
}
