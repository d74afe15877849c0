// Package workflow is the local entrypoint of the engine: proposing
// workflow definitions, launching instances and advancing them. Every
// operation only appends events; agreement with counterpart organizations
// happens asynchronously on top of those events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/statechart"
)

var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInstanceNotFound = errors.New("workflow instance not found")
)

type Service struct {
	organizationID string
	persistence    *persistence.Service
}

func NewService(organizationID string, store *persistence.Service) *Service {
	return &Service{organizationID: organizationID, persistence: store}
}

// ProposeWorkflow validates the definition and appends the proposal. The
// returned workflow carries the fresh consistency id but no verdicts yet.
func (s *Service) ProposeWorkflow(ctx context.Context, chart statechart.Model, config *model.WorkflowConfig) (*model.Workflow, error) {
	if err := statechart.Validate(chart); err != nil {
		return nil, err
	}
	return s.persistence.ProposeWorkflow(ctx, model.Workflow{
		OrganizationID: s.organizationID,
		WorkflowModel:  chart,
		Config:         config,
	})
}

func (s *Service) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	workflow, err := s.persistence.GetWorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if workflow == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return workflow, nil
}

func (s *Service) GetWorkflows(ctx context.Context) ([]model.Workflow, error) {
	return s.persistence.GetAllWorkflows(ctx)
}

// LaunchWorkflowInstance starts a new instance of a known workflow in its
// initial state.
func (s *Service) LaunchWorkflowInstance(ctx context.Context, workflowID string) (*model.WorkflowInstance, error) {
	workflow, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	initial := statechart.Initial(workflow.WorkflowModel)
	return s.persistence.LaunchWorkflowInstance(ctx, model.WorkflowInstance{
		WorkflowID:     workflowID,
		OrganizationID: s.organizationID,
		CurrentState:   &initial,
	})
}

func (s *Service) GetWorkflowInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	instance, err := s.persistence.GetWorkflowInstanceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return instance, nil
}

func (s *Service) GetWorkflowInstances(ctx context.Context, workflowID string) ([]model.WorkflowInstance, error) {
	return s.persistence.GetWorkflowInstancesOfWorkflow(ctx, workflowID)
}

// AdvanceWorkflowInstance applies one event to an instance and appends the
// resulting transition. An event the current state has no transition for
// leaves the instance unchanged and appends nothing.
func (s *Service) AdvanceWorkflowInstance(ctx context.Context, instanceID, event string, payload map[string]any) (*model.WorkflowInstanceTransition, error) {
	instance, err := s.GetWorkflowInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	workflow, err := s.GetWorkflow(ctx, instance.WorkflowID)
	if err != nil {
		return nil, err
	}
	current := statechart.Initial(workflow.WorkflowModel)
	if instance.CurrentState != nil {
		current = *instance.CurrentState
	}

	if !isResponseEvent(event) {
		if _, defined := workflow.WorkflowModel.States[current.Name].On[event]; !defined {
			return nil, fmt.Errorf("state %q has no transition for event %q", current.Name, event)
		}
	}
	next, err := statechart.Transition(workflow.WorkflowModel, current, event, payload)
	if err != nil {
		return nil, err
	}

	transition := model.WorkflowInstanceTransition{
		ID:             instanceID,
		WorkflowID:     instance.WorkflowID,
		OrganizationID: s.organizationID,
		From:           current,
		To:             next,
		Event:          event,
		Payload:        payload,
	}
	if err := s.persistence.AdvanceWorkflowInstance(ctx, transition); err != nil {
		return nil, err
	}
	return &transition, nil
}

// WorkflowStateAt replays a workflow to its snapshot at a point in time.
func (s *Service) WorkflowStateAt(ctx context.Context, id string, at time.Time) (*model.Workflow, error) {
	workflow, err := s.persistence.WorkflowStateAt(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if workflow == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return workflow, nil
}

// InstanceStateAt replays an instance to its snapshot at a point in time.
func (s *Service) InstanceStateAt(ctx context.Context, id string, at time.Time) (*model.WorkflowInstance, error) {
	instance, err := s.persistence.InstanceStateAt(ctx, id, at)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return instance, nil
}

// TransitionPayloadsUntil returns the payload history of an instance up to
// a point in time.
func (s *Service) TransitionPayloadsUntil(ctx context.Context, id string, until time.Time) ([]model.StateTransitionPayload, error) {
	if _, err := s.GetWorkflowInstance(ctx, id); err != nil {
		return nil, err
	}
	return s.persistence.TransitionPayloadsUntil(ctx, id, until)
}

func isResponseEvent(event string) bool {
	return len(event) > 0 && event[0] == '$'
}
