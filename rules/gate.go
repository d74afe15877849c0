package rules

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/persistence"
)

// Gate watches the event streams for proposals and transitions, validates
// each against every known validator and appends exactly one verdict event
// per proposal. The agreement protocol keys off these verdict events.
type Gate struct {
	persistence *persistence.Service
	embedded    []Validator
}

func NewGate(store *persistence.Service, embedded ...Validator) *Gate {
	return &Gate{persistence: store, embedded: embedded}
}

// Start subscribes the gate to the event streams.
func (g *Gate) Start(ctx context.Context) error {
	return g.persistence.SubscribeToAll(ctx, func(eventType persistence.EventType, data json.RawMessage) {
		g.onEvent(context.Background(), eventType, data)
	})
}

func (g *Gate) onEvent(ctx context.Context, eventType persistence.EventType, data json.RawMessage) {
	var err error
	switch eventType {
	case persistence.WorkflowProposed:
		err = g.checkWorkflow(ctx, data, persistence.WorkflowRuleAcceptedLocal, persistence.WorkflowRuleRejectedLocal)
	case persistence.WorkflowReceived:
		err = g.checkWorkflow(ctx, data, persistence.WorkflowRuleAcceptedReceived, persistence.WorkflowRuleRejectedReceived)
	case persistence.InstanceLaunched:
		err = g.checkInstance(ctx, data, persistence.InstanceRuleAcceptedLocal, persistence.InstanceRuleRejectedLocal)
	case persistence.InstanceReceived:
		err = g.checkInstance(ctx, data, persistence.InstanceRuleAcceptedReceived, persistence.InstanceRuleRejectedReceived)
	case persistence.InstanceAdvanced:
		err = g.checkTransition(ctx, data, persistence.TransitionRuleAcceptedLocal, persistence.TransitionRuleRejectedLocal)
	case persistence.TransitionReceived:
		err = g.checkTransition(ctx, data, persistence.TransitionRuleAcceptedReceived, persistence.TransitionRuleRejectedReceived)
	}
	if err != nil {
		logger.Error("rule check failed",
			zap.String("type", string(eventType)), zap.Error(err))
	}
}

func (g *Gate) checkWorkflow(ctx context.Context, data json.RawMessage, accepted, rejected persistence.EventType) error {
	var workflow model.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return err
	}
	failures, err := g.collect(ctx, func(v Validator) model.RuleServiceResponse {
		return v.CheckWorkflow(ctx, workflow)
	})
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return g.persistence.DispatchWorkflowEvent(ctx, workflow.ConsistencyID, rejected,
			model.WorkflowRuleDenial{ID: uuid.NewString(), Proposal: workflow, ValidationErrors: failures})
	}
	return g.persistence.DispatchWorkflowEvent(ctx, workflow.ConsistencyID, accepted,
		model.WorkflowRuleApproval{ID: uuid.NewString(), Proposal: workflow})
}

func (g *Gate) checkInstance(ctx context.Context, data json.RawMessage, accepted, rejected persistence.EventType) error {
	var instance model.WorkflowInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return err
	}
	failures, err := g.collect(ctx, func(v Validator) model.RuleServiceResponse {
		return v.CheckInstance(ctx, instance)
	})
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return g.persistence.DispatchInstanceEvent(ctx, instance.ConsistencyID, rejected,
			model.InstanceRuleDenial{ID: uuid.NewString(), Proposal: instance, ValidationErrors: failures})
	}
	return g.persistence.DispatchInstanceEvent(ctx, instance.ConsistencyID, accepted,
		model.InstanceRuleApproval{ID: uuid.NewString(), Proposal: instance})
}

func (g *Gate) checkTransition(ctx context.Context, data json.RawMessage, accepted, rejected persistence.EventType) error {
	var transition model.WorkflowInstanceTransition
	if err := json.Unmarshal(data, &transition); err != nil {
		return err
	}
	failures, err := g.collect(ctx, func(v Validator) model.RuleServiceResponse {
		return v.CheckTransition(ctx, transition)
	})
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return g.persistence.DispatchInstanceEvent(ctx, transition.ID, rejected,
			model.TransitionRuleDenial{
				ID:               uuid.NewString(),
				WorkflowID:       transition.WorkflowID,
				Transition:       transition,
				ValidationErrors: failures,
			})
	}
	return g.persistence.DispatchInstanceEvent(ctx, transition.ID, accepted,
		model.TransitionRuleApproval{
			ID:         uuid.NewString(),
			WorkflowID: transition.WorkflowID,
			Transition: transition,
		})
}

// collect runs every validator concurrently and returns the rejecting
// verdicts.
func (g *Gate) collect(ctx context.Context, check func(Validator) model.RuleServiceResponse) ([]model.RuleServiceResponse, error) {
	validators, err := g.validators(ctx)
	if err != nil {
		return nil, err
	}

	verdicts := make([]model.RuleServiceResponse, len(validators))
	var wg sync.WaitGroup
	for i, validator := range validators {
		wg.Add(1)
		go func(i int, validator Validator) {
			defer wg.Done()
			verdicts[i] = check(validator)
		}(i, validator)
	}
	wg.Wait()

	var failures []model.RuleServiceResponse
	for _, verdict := range verdicts {
		if !verdict.Valid {
			failures = append(failures, verdict)
		}
	}
	return failures, nil
}

// validators combines the embedded validators with the currently
// registered rule services.
func (g *Gate) validators(ctx context.Context) ([]Validator, error) {
	services, err := g.persistence.GetRuleServices(ctx)
	if err != nil {
		return nil, err
	}
	validators := make([]Validator, 0, len(g.embedded)+len(services))
	validators = append(validators, g.embedded...)
	for _, service := range services {
		validators = append(validators, NewHTTPValidator(service))
	}
	return validators, nil
}
