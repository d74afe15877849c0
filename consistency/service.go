package consistency

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/statechart"
)

// Service is the protocol orchestrator. It watches the local event streams
// for rule verdicts and turns them into protocol traffic, and it consumes
// the strategy's inbound stream and turns counterpart messages back into
// local events. Rule validation itself happens elsewhere; the orchestrator
// only reacts to its outcome.
type Service struct {
	organizationID string
	persistence    *persistence.Service
	strategy       Strategy
}

func NewService(organizationID string, store *persistence.Service, strategy Strategy) *Service {
	return &Service{
		organizationID: organizationID,
		persistence:    store,
		strategy:       strategy,
	}
}

// Start subscribes to the local event streams and begins consuming the
// strategy's inbound messages.
func (s *Service) Start(ctx context.Context) error {
	if err := s.persistence.SubscribeToAll(ctx, s.onLocalEvent); err != nil {
		return err
	}
	go s.consumeInbound()
	return nil
}

func (s *Service) consumeInbound() {
	for msg := range s.strategy.Inbound() {
		s.onMessage(context.Background(), msg)
	}
}

// Strategy exposes the active strategy, the REST layer uses it for the
// receive endpoint and the status probe.
func (s *Service) Strategy() Strategy {
	return s.strategy
}

func (s *Service) Close() error {
	return s.strategy.Close()
}

// ---- local events -> protocol traffic ----

func (s *Service) onLocalEvent(eventType persistence.EventType, data json.RawMessage) {
	ctx := context.Background()
	var err error
	switch eventType {
	case persistence.WorkflowRuleAcceptedLocal:
		err = s.onWorkflowRulesAcceptedLocal(ctx, data)
	case persistence.WorkflowRuleRejectedLocal:
		err = s.onWorkflowRulesRejectedLocal(ctx, data)
	case persistence.WorkflowRuleAcceptedReceived:
		err = s.onWorkflowRulesAcceptedReceived(ctx, data)
	case persistence.WorkflowRuleRejectedReceived:
		err = s.onWorkflowRulesRejectedReceived(ctx, data)
	case persistence.InstanceRuleAcceptedLocal:
		err = s.onInstanceRulesAcceptedLocal(ctx, data)
	case persistence.InstanceRuleRejectedLocal:
		err = s.onInstanceRulesRejectedLocal(ctx, data)
	case persistence.InstanceRuleAcceptedReceived:
		err = s.onInstanceRulesAcceptedReceived(ctx, data)
	case persistence.InstanceRuleRejectedReceived:
		err = s.onInstanceRulesRejectedReceived(ctx, data)
	case persistence.TransitionRuleAcceptedLocal:
		err = s.onTransitionRulesAcceptedLocal(ctx, data)
	case persistence.TransitionRuleRejectedLocal:
		err = s.onTransitionRulesRejectedLocal(ctx, data)
	case persistence.TransitionRuleAcceptedReceived:
		err = s.onTransitionRulesAcceptedReceived(ctx, data)
	case persistence.TransitionRuleRejectedReceived:
		err = s.onTransitionRulesRejectedReceived(ctx, data)
	}
	if err != nil {
		logger.Error("handling local event failed",
			zap.String("type", string(eventType)), zap.Error(err))
	}
}

func (s *Service) onWorkflowRulesAcceptedLocal(ctx context.Context, data json.RawMessage) error {
	var approval model.WorkflowRuleApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return err
	}
	return s.send(ctx, MessageProposeWorkflow, approval.Proposal)
}

func (s *Service) onWorkflowRulesRejectedLocal(ctx context.Context, data json.RawMessage) error {
	var denial model.WorkflowRuleDenial
	if err := json.Unmarshal(data, &denial); err != nil {
		return err
	}
	// rejected before it ever left the node, terminate locally
	return s.persistence.DispatchWorkflowEvent(ctx, denial.Proposal.ConsistencyID,
		persistence.WorkflowRejected, s.denialFor(denial.Proposal.ConsistencyID, denial.ValidationErrors))
}

func (s *Service) onWorkflowRulesAcceptedReceived(ctx context.Context, data json.RawMessage) error {
	var approval model.WorkflowRuleApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return err
	}
	return s.send(ctx, MessageAcceptWorkflow, model.Approval{
		ID:             approval.Proposal.ConsistencyID,
		OrganizationID: s.organizationID,
	})
}

func (s *Service) onWorkflowRulesRejectedReceived(ctx context.Context, data json.RawMessage) error {
	var denial model.WorkflowRuleDenial
	if err := json.Unmarshal(data, &denial); err != nil {
		return err
	}
	return s.send(ctx, MessageRejectWorkflow,
		s.denialFor(denial.Proposal.ConsistencyID, denial.ValidationErrors))
}

func (s *Service) onInstanceRulesAcceptedLocal(ctx context.Context, data json.RawMessage) error {
	var approval model.InstanceRuleApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return err
	}
	return s.send(ctx, MessageLaunchInstance, approval.Proposal)
}

func (s *Service) onInstanceRulesRejectedLocal(ctx context.Context, data json.RawMessage) error {
	var denial model.InstanceRuleDenial
	if err := json.Unmarshal(data, &denial); err != nil {
		return err
	}
	return s.persistence.DispatchInstanceEvent(ctx, denial.Proposal.ConsistencyID,
		persistence.InstanceRejected, s.denialFor(denial.Proposal.ConsistencyID, denial.ValidationErrors))
}

func (s *Service) onInstanceRulesAcceptedReceived(ctx context.Context, data json.RawMessage) error {
	var approval model.InstanceRuleApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return err
	}
	return s.send(ctx, MessageAcceptInstance, model.Approval{
		ID:             approval.Proposal.ConsistencyID,
		OrganizationID: s.organizationID,
	})
}

func (s *Service) onInstanceRulesRejectedReceived(ctx context.Context, data json.RawMessage) error {
	var denial model.InstanceRuleDenial
	if err := json.Unmarshal(data, &denial); err != nil {
		return err
	}
	return s.send(ctx, MessageRejectInstance,
		s.denialFor(denial.Proposal.ConsistencyID, denial.ValidationErrors))
}

func (s *Service) onTransitionRulesAcceptedLocal(ctx context.Context, data json.RawMessage) error {
	var approval model.TransitionRuleApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return err
	}
	transition := approval.Transition

	if s.entersExternalState(ctx, transition) {
		return s.routeExternal(ctx, transition)
	}

	// a purely local transition needs no counterpart agreement
	return s.persistence.DispatchInstanceEvent(ctx, transition.ID,
		persistence.TransitionAccepted, model.Approval{
			ID:             transition.ID,
			OrganizationID: s.organizationID,
		})
}

func (s *Service) onTransitionRulesRejectedLocal(ctx context.Context, data json.RawMessage) error {
	var denial model.TransitionRuleDenial
	if err := json.Unmarshal(data, &denial); err != nil {
		return err
	}
	from := denial.Transition.From
	return s.persistence.DispatchInstanceEvent(ctx, denial.Transition.ID,
		persistence.TransitionRejected, model.TransitionDenial{
			ID:             denial.Transition.ID,
			WorkflowID:     denial.Transition.WorkflowID,
			OrganizationID: s.organizationID,
			From:           &from,
			Reasons:        reasonsOf(denial.ValidationErrors),
		})
}

func (s *Service) onTransitionRulesAcceptedReceived(ctx context.Context, data json.RawMessage) error {
	var approval model.TransitionRuleApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return err
	}
	transition := approval.Transition
	origin := transition.OriginatingExternalTransition
	if origin == nil || origin.OriginatingParticipant == nil {
		return nil
	}
	op := origin.OriginatingParticipant

	if err := s.send(ctx, MessageAcceptTransition, model.TransitionApproval{
		ID:                     op.WorkflowInstanceID,
		WorkflowID:             op.WorkflowID,
		OrganizationID:         op.OrganizationID,
		Transition:             *origin,
		OriginatingParticipant: *op,
	}); err != nil {
		return err
	}

	return s.persistence.DispatchInstanceEvent(ctx, transition.ID,
		persistence.TransitionAccepted, model.Approval{
			ID:             transition.ID,
			OrganizationID: s.organizationID,
			Commitment:     transition.Commitment,
		})
}

func (s *Service) onTransitionRulesRejectedReceived(ctx context.Context, data json.RawMessage) error {
	var denial model.TransitionRuleDenial
	if err := json.Unmarshal(data, &denial); err != nil {
		return err
	}
	transition := denial.Transition
	origin := transition.OriginatingExternalTransition
	if origin == nil || origin.OriginatingParticipant == nil {
		return nil
	}
	op := origin.OriginatingParticipant

	if err := s.send(ctx, MessageRejectTransition, model.TransitionDenial{
		ID:             op.WorkflowInstanceID,
		WorkflowID:     op.WorkflowID,
		OrganizationID: op.OrganizationID,
		Transition:     origin,
		Reasons:        reasonsOf(denial.ValidationErrors),
	}); err != nil {
		return err
	}

	// roll the local instance back to where it was before the request
	from := transition.From
	return s.persistence.DispatchInstanceEvent(ctx, transition.ID,
		persistence.TransitionRejected, model.TransitionDenial{
			ID:             transition.ID,
			WorkflowID:     transition.WorkflowID,
			OrganizationID: s.organizationID,
			From:           &from,
			Reasons:        reasonsOf(denial.ValidationErrors),
		})
}

// entersExternalState reports whether a transition moves the instance into
// an external state. Acknowledgement events stay within the external state
// and never re-trigger routing.
func (s *Service) entersExternalState(ctx context.Context, transition model.WorkflowInstanceTransition) bool {
	if strings.HasPrefix(transition.Event, statechart.AckEventPrefix) ||
		strings.HasPrefix(transition.Event, statechart.NackEventPrefix) {
		return false
	}
	if transition.From.Name == transition.To.Name {
		return false
	}
	workflow, err := s.persistence.GetWorkflowByID(ctx, transition.WorkflowID)
	if err != nil || workflow == nil {
		return false
	}
	return workflow.WorkflowModel.States[transition.To.Name].External
}

func (s *Service) routeExternal(ctx context.Context, transition model.WorkflowInstanceTransition) error {
	workflow, err := s.persistence.GetWorkflowByID(ctx, transition.WorkflowID)
	if err != nil {
		return err
	}
	instance, err := s.persistence.GetWorkflowInstanceByID(ctx, transition.ID)
	if err != nil {
		return err
	}
	if workflow == nil || instance == nil {
		return nil
	}
	stateDef := workflow.WorkflowModel.States[transition.To.Name]
	requests, err := RouteExternalTransition(*instance, transition, stateDef)
	if err != nil {
		return err
	}
	for _, request := range requests {
		if err := s.send(ctx, MessageAdvanceInstance, request); err != nil {
			return err
		}
	}
	return nil
}

// ---- protocol traffic -> local events ----

func (s *Service) onMessage(ctx context.Context, msg Message) {
	var err error
	switch msg.Type {
	case MessageProposeWorkflow:
		err = s.onProposeWorkflow(ctx, msg)
	case MessageAcceptWorkflow:
		err = s.onRespondWorkflow(ctx, msg, true)
	case MessageRejectWorkflow:
		err = s.onRespondWorkflow(ctx, msg, false)
	case MessageLaunchInstance:
		err = s.onLaunchInstance(ctx, msg)
	case MessageAcceptInstance:
		err = s.onRespondInstance(ctx, msg, true)
	case MessageRejectInstance:
		err = s.onRespondInstance(ctx, msg, false)
	case MessageAdvanceInstance:
		err = s.onAdvanceInstance(ctx, msg)
	case MessageAcceptTransition:
		err = s.onAcceptTransition(ctx, msg)
	case MessageRejectTransition:
		err = s.onRejectTransition(ctx, msg)
	default:
		logger.Warn("ignoring message of unknown type", zap.String("type", string(msg.Type)))
	}
	if err != nil {
		logger.Error("handling inbound message failed",
			zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (s *Service) onProposeWorkflow(ctx context.Context, msg Message) error {
	var workflow model.Workflow
	if err := json.Unmarshal(msg.Payload, &workflow); err != nil {
		return err
	}
	// The proposer's own proposal comes back around. There is nothing to
	// receive, the proposer simply joins the tally.
	if workflow.OrganizationID == s.organizationID {
		return s.send(ctx, MessageAcceptWorkflow, model.Approval{
			ID:             workflow.ConsistencyID,
			OrganizationID: s.organizationID,
		})
	}
	return s.persistence.DispatchWorkflowEvent(ctx, workflow.ConsistencyID,
		persistence.WorkflowReceived, workflow)
}

func (s *Service) onRespondWorkflow(ctx context.Context, msg Message, accepted bool) error {
	if accepted {
		var approval model.Approval
		if err := json.Unmarshal(msg.Payload, &approval); err != nil {
			return err
		}
		approval.Commitment = msg.Commitment
		if known, err := s.knowsWorkflow(ctx, approval.ID); err != nil || !known {
			return err
		}
		if err := s.persistence.DispatchWorkflowEvent(ctx, approval.ID,
			persistence.WorkflowParticipantAccepted, approval); err != nil {
			return err
		}
		return s.persistence.DispatchWorkflowEvent(ctx, approval.ID,
			persistence.WorkflowAccepted, approval)
	}

	var denial model.Denial
	if err := json.Unmarshal(msg.Payload, &denial); err != nil {
		return err
	}
	denial.Commitment = msg.Commitment
	if known, err := s.knowsWorkflow(ctx, denial.ID); err != nil || !known {
		return err
	}
	if err := s.persistence.DispatchWorkflowEvent(ctx, denial.ID,
		persistence.WorkflowParticipantRejected, denial); err != nil {
		return err
	}
	return s.persistence.DispatchWorkflowEvent(ctx, denial.ID,
		persistence.WorkflowRejected, denial)
}

func (s *Service) onLaunchInstance(ctx context.Context, msg Message) error {
	var instance model.WorkflowInstance
	if err := json.Unmarshal(msg.Payload, &instance); err != nil {
		return err
	}
	if instance.OrganizationID == s.organizationID {
		return s.send(ctx, MessageAcceptInstance, model.Approval{
			ID:             instance.ConsistencyID,
			OrganizationID: s.organizationID,
		})
	}
	workflow, err := s.persistence.GetWorkflowByID(ctx, instance.WorkflowID)
	if err != nil {
		return err
	}
	if workflow == nil {
		return s.send(ctx, MessageRejectInstance, model.Denial{
			ID:             instance.ConsistencyID,
			OrganizationID: s.organizationID,
			Reasons:        []string{"unknown workflow " + instance.WorkflowID},
		})
	}
	return s.persistence.DispatchInstanceEvent(ctx, instance.ConsistencyID,
		persistence.InstanceReceived, instance)
}

func (s *Service) onRespondInstance(ctx context.Context, msg Message, accepted bool) error {
	if accepted {
		var approval model.Approval
		if err := json.Unmarshal(msg.Payload, &approval); err != nil {
			return err
		}
		approval.Commitment = msg.Commitment
		if known, err := s.knowsInstance(ctx, approval.ID); err != nil || !known {
			return err
		}
		if err := s.persistence.DispatchInstanceEvent(ctx, approval.ID,
			persistence.InstanceParticipantAccepted, approval); err != nil {
			return err
		}
		return s.persistence.DispatchInstanceEvent(ctx, approval.ID,
			persistence.InstanceAccepted, approval)
	}

	var denial model.Denial
	if err := json.Unmarshal(msg.Payload, &denial); err != nil {
		return err
	}
	denial.Commitment = msg.Commitment
	if known, err := s.knowsInstance(ctx, denial.ID); err != nil || !known {
		return err
	}
	if err := s.persistence.DispatchInstanceEvent(ctx, denial.ID,
		persistence.InstanceParticipantRejected, denial); err != nil {
		return err
	}
	return s.persistence.DispatchInstanceEvent(ctx, denial.ID,
		persistence.InstanceRejected, denial)
}

// onAdvanceInstance handles a counterpart's request to advance one of our
// instances, creating the instance first when the request does not name
// one. A request that cannot be fulfilled is answered with a rejection
// instead of an event.
func (s *Service) onAdvanceInstance(ctx context.Context, msg Message) error {
	var request model.ExternalWorkflowInstanceTransition
	if err := json.Unmarshal(msg.Payload, &request); err != nil {
		return err
	}
	if request.OrganizationID != s.organizationID {
		return nil
	}

	workflow, err := s.persistence.GetWorkflowByID(ctx, request.WorkflowID)
	if err != nil {
		return err
	}
	if workflow == nil {
		return s.rejectExternalRequest(ctx, request, "unknown workflow "+request.WorkflowID)
	}

	instanceID := request.InstanceID
	current := statechart.Initial(workflow.WorkflowModel)
	if instanceID == "" {
		instanceID = uuid.NewString()
		instance := model.WorkflowInstance{
			ConsistencyEntity: model.ConsistencyEntity{ConsistencyID: instanceID},
			WorkflowID:        request.WorkflowID,
			OrganizationID:    s.organizationID,
			CurrentState:      &current,
		}
		if err := s.persistence.DispatchInstanceEvent(ctx, instanceID,
			persistence.InstanceReceived, instance); err != nil {
			return err
		}
	} else {
		instance, err := s.persistence.GetWorkflowInstanceByID(ctx, instanceID)
		if err != nil {
			return err
		}
		if instance == nil {
			return s.rejectExternalRequest(ctx, request, "unknown workflow instance "+instanceID)
		}
		if instance.CurrentState != nil {
			current = *instance.CurrentState
		}
	}

	next, err := statechart.Transition(workflow.WorkflowModel, current, request.Event, request.Payload)
	if err != nil {
		return s.rejectExternalRequest(ctx, request, err.Error())
	}

	return s.persistence.DispatchInstanceEvent(ctx, instanceID,
		persistence.TransitionReceived, model.WorkflowInstanceTransition{
			ID:                            instanceID,
			WorkflowID:                    request.WorkflowID,
			OrganizationID:                s.organizationID,
			From:                          current,
			To:                            next,
			Event:                         request.Event,
			Payload:                       request.Payload,
			Commitment:                    msg.Commitment,
			OriginatingExternalTransition: &request,
		})
}

func (s *Service) rejectExternalRequest(ctx context.Context, request model.ExternalWorkflowInstanceTransition, reason string) error {
	op := request.OriginatingParticipant
	if op == nil {
		logger.Warn("cannot answer external request without originating participant",
			zap.String("reason", reason))
		return nil
	}
	return s.send(ctx, MessageRejectTransition, model.TransitionDenial{
		ID:             op.WorkflowInstanceID,
		WorkflowID:     op.WorkflowID,
		OrganizationID: op.OrganizationID,
		Transition:     &request,
		Reasons:        []string{reason},
	})
}

// onAcceptTransition runs on the node that originally asked a counterpart
// to advance. It records the approval, applies the participant's
// acknowledgement to the instance and terminates the approval cycle.
func (s *Service) onAcceptTransition(ctx context.Context, msg Message) error {
	var approval model.TransitionApproval
	if err := json.Unmarshal(msg.Payload, &approval); err != nil {
		return err
	}
	if approval.OrganizationID != s.organizationID {
		return nil
	}
	instanceID := approval.OriginatingParticipant.WorkflowInstanceID
	if known, err := s.knowsInstance(ctx, instanceID); err != nil || !known {
		return err
	}

	ackEvent := statechart.AckEvent(approval.OriginatingParticipant.ExternalIdentifier)
	if err := s.applyResponseEvent(ctx, instanceID, ackEvent, approval.Transition.Payload); err != nil {
		return err
	}

	participantApproval := model.Approval{
		ID:             instanceID,
		OrganizationID: approval.Transition.OrganizationID,
		Commitment:     msg.Commitment,
	}
	if err := s.persistence.DispatchInstanceEvent(ctx, instanceID,
		persistence.TransitionParticipantAccepted, participantApproval); err != nil {
		return err
	}
	return s.persistence.DispatchInstanceEvent(ctx, instanceID,
		persistence.TransitionAccepted, participantApproval)
}

func (s *Service) onRejectTransition(ctx context.Context, msg Message) error {
	var denial model.TransitionDenial
	if err := json.Unmarshal(msg.Payload, &denial); err != nil {
		return err
	}
	if denial.OrganizationID != s.organizationID {
		return nil
	}
	instanceID := denial.ID
	if known, err := s.knowsInstance(ctx, instanceID); err != nil || !known {
		return err
	}

	if denial.Transition != nil && denial.Transition.OriginatingParticipant != nil {
		nackEvent := statechart.NackEvent(denial.Transition.OriginatingParticipant.ExternalIdentifier)
		if err := s.applyResponseEvent(ctx, instanceID, nackEvent, denial.Transition.Payload); err != nil {
			return err
		}
	}

	participantDenial := model.Denial{
		ID:             instanceID,
		OrganizationID: s.counterpartOf(denial),
		Reasons:        denial.Reasons,
		Commitment:     msg.Commitment,
	}
	if err := s.persistence.DispatchInstanceEvent(ctx, instanceID,
		persistence.TransitionParticipantRejected, participantDenial); err != nil {
		return err
	}
	return s.persistence.DispatchInstanceEvent(ctx, instanceID,
		persistence.TransitionRejected, model.TransitionDenial{
			ID:             instanceID,
			WorkflowID:     denial.WorkflowID,
			OrganizationID: participantDenial.OrganizationID,
			Reasons:        denial.Reasons,
			Commitment:     msg.Commitment,
		})
}

// applyResponseEvent advances an instance by an acknowledgement or denial
// event from an external participant.
func (s *Service) applyResponseEvent(ctx context.Context, instanceID, event string, payload map[string]any) error {
	instance, err := s.persistence.GetWorkflowInstanceByID(ctx, instanceID)
	if err != nil || instance == nil || instance.CurrentState == nil {
		return err
	}
	workflow, err := s.persistence.GetWorkflowByID(ctx, instance.WorkflowID)
	if err != nil || workflow == nil {
		return err
	}
	next, err := statechart.Transition(workflow.WorkflowModel, *instance.CurrentState, event, payload)
	if err != nil {
		return err
	}
	return s.persistence.AdvanceWorkflowInstance(ctx, model.WorkflowInstanceTransition{
		ID:             instanceID,
		WorkflowID:     instance.WorkflowID,
		OrganizationID: s.organizationID,
		From:           *instance.CurrentState,
		To:             next,
		Event:          event,
		Payload:        payload,
	})
}

// ---- helpers ----

func (s *Service) send(ctx context.Context, messageType MessageType, payload any) error {
	msg, err := NewMessage(messageType, payload)
	if err != nil {
		return err
	}
	status, err := s.strategy.Dispatch(ctx, msg)
	if err != nil {
		return err
	}
	if status != StatusOK {
		logger.Warn("dispatch finished degraded",
			zap.String("type", string(messageType)), zap.String("status", string(status)))
	}
	return nil
}

func (s *Service) knowsWorkflow(ctx context.Context, id string) (bool, error) {
	workflow, err := s.persistence.GetWorkflowByID(ctx, id)
	return workflow != nil, err
}

func (s *Service) knowsInstance(ctx context.Context, id string) (bool, error) {
	instance, err := s.persistence.GetWorkflowInstanceByID(ctx, id)
	return instance != nil, err
}

func (s *Service) denialFor(id string, validationErrors []model.RuleServiceResponse) model.Denial {
	return model.Denial{
		ID:             id,
		OrganizationID: s.organizationID,
		Reasons:        reasonsOf(validationErrors),
	}
}

func (s *Service) counterpartOf(denial model.TransitionDenial) string {
	if denial.Transition != nil {
		return denial.Transition.OrganizationID
	}
	return denial.OrganizationID
}

func reasonsOf(responses []model.RuleServiceResponse) []string {
	reasons := make([]string, 0, len(responses))
	for _, response := range responses {
		if response.Reason != "" {
			reasons = append(reasons, response.Reason)
		}
	}
	return reasons
}
