// Package consistency implements the cross-organization agreement protocol:
// the wire messages, the pluggable strategies that give them durability and
// tamper evidence, and the orchestrator that turns local events into
// protocol traffic and protocol traffic back into persistence events.
package consistency

import (
	"encoding/json"

	"github.com/crossflow/crossflow/model"
)

// MessageType is the closed set of protocol messages.
type MessageType string

const (
	MessageProposeWorkflow  MessageType = "workflow.propose"
	MessageAcceptWorkflow   MessageType = "workflow.accept"
	MessageRejectWorkflow   MessageType = "workflow.reject"
	MessageLaunchInstance   MessageType = "instance.launch"
	MessageAcceptInstance   MessageType = "instance.accept"
	MessageRejectInstance   MessageType = "instance.reject"
	MessageAdvanceInstance  MessageType = "instance.advance"
	MessageAcceptTransition MessageType = "transition.accept"
	MessageRejectTransition MessageType = "transition.reject"
)

// Status is the aggregate outcome of a dispatch or a strategy health probe.
type Status string

const (
	StatusOK  Status = "OK"
	StatusNOK Status = "NOK"
)

// Message is one unit of protocol traffic. Commitment is attached by the
// strategy during dispatch.
type Message struct {
	Type       MessageType       `json:"type"`
	Payload    json.RawMessage   `json:"payload"`
	Commitment *model.Commitment `json:"commitment,omitempty"`
}

// NewMessage builds a message around the JSON encoding of payload.
func NewMessage(messageType MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: messageType, Payload: raw}, nil
}

// NeedsCommitment reports whether a message class must carry a verified
// ledger commitment under the ledger-anchored strategies. Only transition
// traffic is commitment-verified; workflow and instance proposals travel
// unverified.
func NeedsCommitment(messageType MessageType) bool {
	switch messageType {
	case MessageAdvanceInstance, MessageAcceptTransition, MessageRejectTransition:
		return true
	}
	return false
}
