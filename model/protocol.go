package model

import "github.com/crossflow/crossflow/statechart"

// Payload shapes exchanged between the rule gate, the consistency service
// and the persistence layer. They mirror the protocol phases: rule service
// verdicts on local and received proposals, then participant verdicts.

type WorkflowRuleApproval struct {
	ID       string   `json:"id"`
	Proposal Workflow `json:"proposal"`
}

type WorkflowRuleDenial struct {
	ID               string                `json:"id"`
	Proposal         Workflow              `json:"proposal"`
	ValidationErrors []RuleServiceResponse `json:"validationErrors"`
}

type InstanceRuleApproval struct {
	ID       string           `json:"id"`
	Proposal WorkflowInstance `json:"proposal"`
}

type InstanceRuleDenial struct {
	ID               string                `json:"id"`
	Proposal         WorkflowInstance      `json:"proposal"`
	ValidationErrors []RuleServiceResponse `json:"validationErrors"`
}

type TransitionRuleApproval struct {
	ID         string                     `json:"id"`
	WorkflowID string                     `json:"workflowId"`
	Transition WorkflowInstanceTransition `json:"transition"`
}

type TransitionRuleDenial struct {
	ID               string                     `json:"id"`
	WorkflowID       string                     `json:"workflowId"`
	Transition       WorkflowInstanceTransition `json:"transition"`
	ValidationErrors []RuleServiceResponse      `json:"validationErrors"`
}

// TransitionApproval is a counterpart's acceptance of an externally
// requested transition. Transition is the original external request, and
// OriginatingParticipant identifies the acceptor so the origin can apply the
// matching acknowledgement.
type TransitionApproval struct {
	ID                     string                             `json:"id"`
	WorkflowID             string                             `json:"workflowId"`
	OrganizationID         string                             `json:"organizationId"`
	Transition             ExternalWorkflowInstanceTransition `json:"transition"`
	OriginatingParticipant OriginatingParticipant             `json:"originatingParticipant"`
	Commitment             *Commitment                        `json:"commitment,omitempty"`
}

// TransitionDenial is a counterpart's rejection of an externally requested
// transition, or the terminal rejection of a local transition. From, when
// set, is the state the instance rolls back to.
type TransitionDenial struct {
	ID             string                              `json:"id"`
	WorkflowID     string                              `json:"workflowId"`
	OrganizationID string                              `json:"organizationId"`
	Transition     *ExternalWorkflowInstanceTransition `json:"transition,omitempty"`
	From           *statechart.State                   `json:"from,omitempty"`
	Reasons        []string                            `json:"reasons,omitempty"`
	Commitment     *Commitment                         `json:"commitment,omitempty"`
}
