package persistence

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event kinds in the system. Folds dispatch
// on these typed constants; raw strings never appear outside this file.
type EventType string

const (
	WorkflowProposed             EventType = "workflow.proposed"
	WorkflowReceived             EventType = "workflow.received"
	WorkflowRuleAcceptedLocal    EventType = "workflow.rules.accepted.local"
	WorkflowRuleRejectedLocal    EventType = "workflow.rules.rejected.local"
	WorkflowRuleAcceptedReceived EventType = "workflow.rules.accepted.received"
	WorkflowRuleRejectedReceived EventType = "workflow.rules.rejected.received"
	WorkflowParticipantAccepted  EventType = "workflow.participant.accepted"
	WorkflowParticipantRejected  EventType = "workflow.participant.rejected"
	WorkflowAccepted             EventType = "workflow.accepted"
	WorkflowRejected             EventType = "workflow.rejected"

	InstanceLaunched             EventType = "instance.launched"
	InstanceReceived             EventType = "instance.received"
	InstanceRuleAcceptedLocal    EventType = "instance.rules.accepted.local"
	InstanceRuleRejectedLocal    EventType = "instance.rules.rejected.local"
	InstanceRuleAcceptedReceived EventType = "instance.rules.accepted.received"
	InstanceRuleRejectedReceived EventType = "instance.rules.rejected.received"
	InstanceParticipantAccepted  EventType = "instance.participant.accepted"
	InstanceParticipantRejected  EventType = "instance.participant.rejected"
	InstanceAccepted             EventType = "instance.accepted"
	InstanceRejected             EventType = "instance.rejected"

	InstanceAdvanced               EventType = "transition.advanced"
	TransitionReceived             EventType = "transition.received"
	TransitionRuleAcceptedLocal    EventType = "transition.rules.accepted.local"
	TransitionRuleRejectedLocal    EventType = "transition.rules.rejected.local"
	TransitionRuleAcceptedReceived EventType = "transition.rules.accepted.received"
	TransitionRuleRejectedReceived EventType = "transition.rules.rejected.received"
	TransitionParticipantAccepted  EventType = "transition.participant.accepted"
	TransitionParticipantRejected  EventType = "transition.participant.rejected"
	TransitionAccepted             EventType = "transition.accepted"
	TransitionRejected             EventType = "transition.rejected"

	RuleServiceRegistered   EventType = "rules.service.registered"
	RuleServiceUnregistered EventType = "rules.service.unregistered"
)

// Event is one immutable entry of an entity's stream.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent builds an event with the current time and the JSON encoding of
// data.
func NewEvent(eventType EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw, CreatedAt: time.Now().UTC()}, nil
}

// StreamEvent is an event together with the stream it was appended to, as
// delivered to live subscribers.
type StreamEvent struct {
	Stream string `json:"stream"`
	Event  Event  `json:"event"`
}
