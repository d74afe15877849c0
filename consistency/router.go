package consistency

import (
	"fmt"
	"regexp"

	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/statechart"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// RouteExternalTransition fans a transition into an external state out to
// the counterpart organizations the state names. Participant addresses
// are either literal UUIDs or JSON-path expressions resolved against the
// instance context of the destination state.
func RouteExternalTransition(instance model.WorkflowInstance, transition model.WorkflowInstanceTransition, stateDef statechart.StateDef) ([]model.ExternalWorkflowInstanceTransition, error) {
	root := map[string]any{"context": transition.To.Context}

	external := make([]model.ExternalWorkflowInstanceTransition, 0, len(stateDef.ExternalParticipants))
	for _, participant := range stateDef.ExternalParticipants {
		organizationID, err := resolveAddress(participant.OrganizationID, root)
		if err != nil {
			return nil, fmt.Errorf("participant %s: organization: %w", participant.ID, err)
		}
		workflowID, err := resolveAddress(participant.WorkflowID, root)
		if err != nil {
			return nil, fmt.Errorf("participant %s: workflow: %w", participant.ID, err)
		}
		instanceID := ""
		if participant.WorkflowInstanceID != "" {
			instanceID, err = resolveAddress(participant.WorkflowInstanceID, root)
			if err != nil {
				return nil, fmt.Errorf("participant %s: instance: %w", participant.ID, err)
			}
		}

		var payload map[string]any
		if participant.Payload != nil {
			if asMap, ok := statechart.Evaluate(participant.Payload, root).(map[string]any); ok {
				payload = asMap
			}
		}

		external = append(external, model.ExternalWorkflowInstanceTransition{
			OrganizationID:     organizationID,
			WorkflowID:         workflowID,
			InstanceID:         instanceID,
			ExternalIdentifier: participant.ID,
			Event:              participant.Event,
			Payload:            payload,
			OriginatingParticipant: &model.OriginatingParticipant{
				OrganizationID:     instance.OrganizationID,
				WorkflowID:         instance.WorkflowID,
				WorkflowInstanceID: instance.ConsistencyID,
				ExternalIdentifier: participant.ID,
			},
		})
	}
	return external, nil
}

// resolveAddress returns literal UUIDs as-is and treats anything else as a
// JSON-path expression against the instance context.
func resolveAddress(address string, root map[string]any) (string, error) {
	if uuidPattern.MatchString(address) {
		return address, nil
	}
	value, err := statechart.Lookup(address, root)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", address, err)
	}
	resolved, ok := value.(string)
	if !ok || resolved == "" {
		return "", fmt.Errorf("path %q did not resolve to an identifier", address)
	}
	return resolved, nil
}
