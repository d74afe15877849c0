// Package statechart implements the hierarchical state-chart model used to
// describe workflows and the pure transition function that advances a state
// value on an event. Transitions have no side effects; persistence and
// cross-organization agreement are handled elsewhere.
package statechart

// Model is a workflow definition: a flat set of named states with event
// driven transitions between them. States marked External own a set of
// counterpart organizations that have to acknowledge the state before the
// workflow may leave it.
type Model struct {
	ID      string              `json:"id"`
	Initial string              `json:"initial"`
	States  map[string]StateDef `json:"states"`
}

type StateDef struct {
	On                   map[string]EventDef   `json:"on,omitempty"`
	External             bool                  `json:"external,omitempty"`
	ExternalParticipants []ExternalParticipant `json:"externalParticipants,omitempty"`
	ExternalCondition    *ListCondition        `json:"externalCondition,omitempty"`
	Final                bool                  `json:"final,omitempty"`
}

type EventDef struct {
	Target string            `json:"target"`
	Assign *ObjectDefinition `json:"assign,omitempty"`
}

// ExternalParticipant describes a counterpart organization that must be
// notified when the enclosing state is entered. OrganizationID, WorkflowID
// and WorkflowInstanceID are either literal UUIDs or JSON-path expressions
// evaluated against the instance context.
type ExternalParticipant struct {
	ID                 string            `json:"id"`
	OrganizationID     string            `json:"organizationId"`
	WorkflowID         string            `json:"workflowId"`
	WorkflowInstanceID string            `json:"workflowInstanceId,omitempty"`
	Event              string            `json:"event"`
	Payload            *ObjectDefinition `json:"payload,omitempty"`
	AssignOnAcceptance *ObjectDefinition `json:"assignOnAcceptance,omitempty"`
	AssignOnRejection  *ObjectDefinition `json:"assignOnRejection,omitempty"`
}

// ListCondition gates leaving an external state on which participants have
// acknowledged so far.
type ListCondition struct {
	AllOf []string `json:"allOf,omitempty"`
	AnyOf []string `json:"anyOf,omitempty"`
	Min   int      `json:"min,omitempty"`
	Max   int      `json:"max,omitempty"`
}

// State is the value of a workflow instance at a point in time. Acks tracks
// which external participants of the current state have acknowledged; it is
// only populated while Name refers to an external state.
type State struct {
	Name    string          `json:"name"`
	Context map[string]any  `json:"context,omitempty"`
	Acks    map[string]bool `json:"acks,omitempty"`
}

// Initial returns the starting state value of a model.
func Initial(m Model) State {
	return State{Name: m.Initial, Context: map[string]any{}}
}

func (s State) clone() State {
	ctx := make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		ctx[k] = v
	}
	acks := make(map[string]bool, len(s.Acks))
	for k, v := range s.Acks {
		acks[k] = v
	}
	return State{Name: s.Name, Context: ctx, Acks: acks}
}
