package model

import (
	"time"

	"github.com/crossflow/crossflow/statechart"
)

// Commitment is the opaque proof that a message was durably exchanged over
// the active consistency substrate: a ledger transaction hash, a replicated
// log entry address, or a synthetic token.
type Commitment struct {
	Reference string    `json:"reference"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsistencyEntity is embedded by every entity that is exchanged across
// participants. The consistency id is generated once by the proposer and is
// identical on every participant's copy.
type ConsistencyEntity struct {
	ConsistencyID string      `json:"consistencyId"`
	Commitment    *Commitment `json:"commitment,omitempty"`
}

// Workflow is a proposed or agreed workflow definition. The acceptance flags
// are tri-state: nil means pending.
type Workflow struct {
	ConsistencyEntity
	OrganizationID         string           `json:"organizationId"`
	WorkflowModel          statechart.Model `json:"workflowModel"`
	Config                 *WorkflowConfig  `json:"config,omitempty"`
	AcceptedByRuleServices *bool            `json:"acceptedByRuleServices,omitempty"`
	AcceptedByParticipants *bool            `json:"acceptedByParticipants,omitempty"`
	ParticipantsAccepted   []Approval       `json:"participantsAccepted,omitempty"`
	ParticipantsRejected   []Denial         `json:"participantsRejected,omitempty"`
}

type WorkflowConfig struct {
	Type string `json:"type,omitempty"`
}

// WorkflowInstance is one running instance of a workflow.
type WorkflowInstance struct {
	ConsistencyEntity
	WorkflowID             string            `json:"workflowId"`
	OrganizationID         string            `json:"organizationId"`
	CurrentState           *statechart.State `json:"currentState,omitempty"`
	AcceptedByRuleServices *bool             `json:"acceptedByRuleServices,omitempty"`
	AcceptedByParticipants *bool             `json:"acceptedByParticipants,omitempty"`
	ParticipantsAccepted   []Approval        `json:"participantsAccepted,omitempty"`
	ParticipantsRejected   []Denial          `json:"participantsRejected,omitempty"`
}

// Approval records that one participant accepted a proposal.
type Approval struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organizationId"`
	Commitment     *Commitment `json:"commitment,omitempty"`
}

// Denial records that one participant rejected a proposal.
type Denial struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organizationId"`
	Reasons        []string    `json:"reasons,omitempty"`
	Commitment     *Commitment `json:"commitment,omitempty"`
}

// WorkflowInstanceTransition is one proposed state change of an instance.
// OriginatingExternalTransition is set when the transition was requested by
// a counterpart organization rather than a local caller.
type WorkflowInstanceTransition struct {
	ID                            string                              `json:"id"`
	WorkflowID                    string                              `json:"workflowId"`
	OrganizationID                string                              `json:"organizationId"`
	From                          statechart.State                    `json:"from"`
	To                            statechart.State                    `json:"to"`
	Event                         string                              `json:"event"`
	Payload                       map[string]any                      `json:"payload,omitempty"`
	Commitment                    *Commitment                         `json:"commitment,omitempty"`
	OriginatingExternalTransition *ExternalWorkflowInstanceTransition `json:"originatingExternalTransition,omitempty"`
}

// ExternalWorkflowInstanceTransition is the wire message asking a counterpart
// organization to advance their instance. OriginatingParticipant identifies
// the sender so a later accept or reject can be routed back without a return
// channel lookup.
type ExternalWorkflowInstanceTransition struct {
	OrganizationID         string                  `json:"organizationId"`
	WorkflowID             string                  `json:"workflowId"`
	InstanceID             string                  `json:"instanceId,omitempty"`
	ExternalIdentifier     string                  `json:"externalIdentifier"`
	Event                  string                  `json:"event"`
	Payload                map[string]any          `json:"payload,omitempty"`
	OriginatingParticipant *OriginatingParticipant `json:"originatingParticipant,omitempty"`
}

type OriginatingParticipant struct {
	OrganizationID     string `json:"organizationId"`
	WorkflowID         string `json:"workflowId"`
	WorkflowInstanceID string `json:"workflowInstanceId"`
	ExternalIdentifier string `json:"externalIdentifier"`
}

// RuleService is a registered external validator.
type RuleService struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RuleServiceResponse is one validator's verdict on a proposal or
// transition.
type RuleServiceResponse struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

// StateTransitionPayload is one entry of the transition payload history of
// an instance.
type StateTransitionPayload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// True and False build the tri-state acceptance flags.
func True() *bool {
	v := true
	return &v
}

func False() *bool {
	v := false
	return &v
}
