package persistence

import (
	"encoding/json"

	"github.com/crossflow/crossflow/model"
)

// The folds below are the single source of truth for how event streams turn
// into entity snapshots. They are deterministic and order-dependent: the
// same sequence of events always folds to the same snapshot.
//
// Shared acceptance rules: a rule service or terminal acceptance never
// overrides an earlier rejection (first rejection is sticky), participant
// approval and denial lists are append-only, and an accepted transition
// starts a fresh approval cycle.

// AggregateWorkflow folds a workflow stream into its current snapshot.
// Returns nil when the stream holds no base event.
func AggregateWorkflow(events []Event) *model.Workflow {
	var result *model.Workflow
	for _, event := range events {
		switch event.Type {
		case WorkflowProposed:
			var wf model.Workflow
			if json.Unmarshal(event.Data, &wf) == nil {
				result = &wf
			}
		case WorkflowReceived:
			var wf model.Workflow
			if json.Unmarshal(event.Data, &wf) == nil {
				if result == nil {
					result = &wf
				} else {
					merged := wf
					merged.ParticipantsAccepted = result.ParticipantsAccepted
					merged.ParticipantsRejected = result.ParticipantsRejected
					merged.AcceptedByRuleServices = result.AcceptedByRuleServices
					merged.AcceptedByParticipants = result.AcceptedByParticipants
					result = &merged
				}
			}
		case WorkflowRuleAcceptedLocal, WorkflowRuleAcceptedReceived:
			if result != nil && !isFalse(result.AcceptedByRuleServices) {
				result.AcceptedByRuleServices = model.True()
			}
		case WorkflowRuleRejectedLocal, WorkflowRuleRejectedReceived:
			if result != nil {
				result.AcceptedByRuleServices = model.False()
			}
		case WorkflowParticipantAccepted:
			if result != nil {
				var approval model.Approval
				if json.Unmarshal(event.Data, &approval) == nil {
					result.ParticipantsAccepted = append(result.ParticipantsAccepted, approval)
				}
			}
		case WorkflowParticipantRejected:
			if result != nil {
				var denial model.Denial
				if json.Unmarshal(event.Data, &denial) == nil {
					result.ParticipantsRejected = append(result.ParticipantsRejected, denial)
				}
			}
		case WorkflowAccepted:
			if result != nil && !isFalse(result.AcceptedByParticipants) {
				result.AcceptedByParticipants = model.True()
				if c := commitmentOf(event.Data); c != nil {
					result.Commitment = c
				}
			}
		case WorkflowRejected:
			if result != nil {
				result.AcceptedByParticipants = model.False()
				if c := commitmentOf(event.Data); c != nil {
					result.Commitment = c
				}
			}
		}
	}
	return result
}

// AggregateInstance folds a workflow instance stream, including its
// transition lifecycle, into the current snapshot.
func AggregateInstance(events []Event) *model.WorkflowInstance {
	var result *model.WorkflowInstance
	for _, event := range events {
		switch event.Type {
		case InstanceLaunched:
			var instance model.WorkflowInstance
			if json.Unmarshal(event.Data, &instance) == nil {
				result = &instance
			}
		case InstanceReceived:
			var instance model.WorkflowInstance
			if json.Unmarshal(event.Data, &instance) == nil {
				if result == nil {
					result = &instance
				} else {
					merged := instance
					merged.ParticipantsAccepted = result.ParticipantsAccepted
					merged.ParticipantsRejected = result.ParticipantsRejected
					merged.AcceptedByRuleServices = result.AcceptedByRuleServices
					merged.AcceptedByParticipants = result.AcceptedByParticipants
					result = &merged
				}
			}
		case InstanceRuleAcceptedLocal, InstanceRuleAcceptedReceived,
			TransitionRuleAcceptedLocal, TransitionRuleAcceptedReceived:
			if result != nil && !isFalse(result.AcceptedByRuleServices) {
				result.AcceptedByRuleServices = model.True()
			}
		case InstanceRuleRejectedLocal, InstanceRuleRejectedReceived,
			TransitionRuleRejectedLocal, TransitionRuleRejectedReceived:
			if result != nil {
				result.AcceptedByRuleServices = model.False()
			}
		case InstanceParticipantAccepted, TransitionParticipantAccepted:
			if result != nil {
				var approval model.Approval
				if json.Unmarshal(event.Data, &approval) == nil {
					result.ParticipantsAccepted = append(result.ParticipantsAccepted, approval)
				}
			}
		case InstanceParticipantRejected, TransitionParticipantRejected:
			if result != nil {
				var denial model.Denial
				if json.Unmarshal(event.Data, &denial) == nil {
					result.ParticipantsRejected = append(result.ParticipantsRejected, denial)
				}
			}
		case InstanceAccepted, TransitionAccepted:
			if result != nil && !isFalse(result.AcceptedByParticipants) {
				result.AcceptedByParticipants = model.True()
				if c := commitmentOf(event.Data); c != nil {
					result.Commitment = c
				}
			}
		case InstanceRejected:
			if result != nil {
				result.AcceptedByParticipants = model.False()
				if c := commitmentOf(event.Data); c != nil {
					result.Commitment = c
				}
			}
		case InstanceAdvanced, TransitionReceived:
			if result != nil {
				var transition model.WorkflowInstanceTransition
				if json.Unmarshal(event.Data, &transition) == nil {
					// a new approval cycle begins
					to := transition.To
					result.CurrentState = &to
					result.Commitment = transition.Commitment
					result.ParticipantsAccepted = nil
					result.ParticipantsRejected = nil
					result.AcceptedByParticipants = nil
					result.AcceptedByRuleServices = nil
				}
			}
		case TransitionRejected:
			if result != nil {
				var denial model.TransitionDenial
				if json.Unmarshal(event.Data, &denial) == nil {
					result.AcceptedByParticipants = model.False()
					result.Commitment = denial.Commitment
					if denial.From != nil {
						from := *denial.From
						result.CurrentState = &from
						result.ParticipantsAccepted = nil
						result.ParticipantsRejected = nil
					}
				}
			}
		}
	}
	return result
}

// AggregateRuleServices folds the rule service registry stream into the live
// set of registered services.
func AggregateRuleServices(events []Event) map[string]model.RuleService {
	services := make(map[string]model.RuleService)
	for _, event := range events {
		switch event.Type {
		case RuleServiceRegistered:
			var svc model.RuleService
			if json.Unmarshal(event.Data, &svc) == nil {
				services[svc.ID] = svc
			}
		case RuleServiceUnregistered:
			var ref struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(event.Data, &ref) == nil {
				delete(services, ref.ID)
			}
		}
	}
	return services
}

func isFalse(flag *bool) bool {
	return flag != nil && !*flag
}

// commitmentOf extracts the commitment a verdict payload carries, if any.
// Approvals, denials and transition verdicts all share the field.
func commitmentOf(data json.RawMessage) *model.Commitment {
	var payload struct {
		Commitment *model.Commitment `json:"commitment"`
	}
	if json.Unmarshal(data, &payload) != nil {
		return nil
	}
	return payload.Commitment
}
