package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/statechart"
)

func mustEvent(t *testing.T, eventType EventType, data any) Event {
	t.Helper()
	event, err := NewEvent(eventType, data)
	require.NoError(t, err)
	return event
}

func proposedWorkflow() model.Workflow {
	return model.Workflow{
		ConsistencyEntity: model.ConsistencyEntity{ConsistencyID: "wf-1"},
		OrganizationID:    "org-a",
		WorkflowModel:     statechart.Model{ID: "m", Initial: "a", States: map[string]statechart.StateDef{"a": {}}},
	}
}

func TestAggregateWorkflow(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"accepts after rules and participants":  testWorkflowAccepted,
		"rejection is sticky":                   testWorkflowRejectionSticky,
		"received merges accumulated verdicts":  testWorkflowReceivedMerge,
		"participant lists are append only":     testWorkflowParticipantLists,
		"empty stream folds to nil":             testWorkflowEmptyStream,
		"terminal verdict carries commitment":   testWorkflowCommitment,
	} {
		t.Run(scenario, fn)
	}
}

func testWorkflowAccepted(t *testing.T) {
	wf := proposedWorkflow()
	events := []Event{
		mustEvent(t, WorkflowProposed, wf),
		mustEvent(t, WorkflowRuleAcceptedLocal, model.WorkflowRuleApproval{ID: "v1", Proposal: wf}),
		mustEvent(t, WorkflowParticipantAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-b"}),
		mustEvent(t, WorkflowAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-b"}),
	}
	result := AggregateWorkflow(events)
	require.NotNil(t, result)
	require.Equal(t, "wf-1", result.ConsistencyID)
	require.NotNil(t, result.AcceptedByRuleServices)
	require.True(t, *result.AcceptedByRuleServices)
	require.NotNil(t, result.AcceptedByParticipants)
	require.True(t, *result.AcceptedByParticipants)
	require.Len(t, result.ParticipantsAccepted, 1)
}

func testWorkflowRejectionSticky(t *testing.T) {
	wf := proposedWorkflow()
	events := []Event{
		mustEvent(t, WorkflowProposed, wf),
		mustEvent(t, WorkflowRuleRejectedLocal, model.WorkflowRuleDenial{ID: "v1", Proposal: wf}),
		// a later acceptance must not flip the verdict back
		mustEvent(t, WorkflowRuleAcceptedReceived, model.WorkflowRuleApproval{ID: "v2", Proposal: wf}),
		mustEvent(t, WorkflowRejected, model.Denial{ID: "wf-1", OrganizationID: "org-b"}),
		mustEvent(t, WorkflowAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-c"}),
	}
	result := AggregateWorkflow(events)
	require.NotNil(t, result)
	require.False(t, *result.AcceptedByRuleServices)
	require.False(t, *result.AcceptedByParticipants)
}

func testWorkflowReceivedMerge(t *testing.T) {
	wf := proposedWorkflow()
	events := []Event{
		mustEvent(t, WorkflowProposed, wf),
		mustEvent(t, WorkflowRuleAcceptedLocal, model.WorkflowRuleApproval{ID: "v1", Proposal: wf}),
		mustEvent(t, WorkflowParticipantAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-b"}),
		mustEvent(t, WorkflowReceived, wf),
	}
	result := AggregateWorkflow(events)
	require.NotNil(t, result)
	require.True(t, *result.AcceptedByRuleServices)
	require.Len(t, result.ParticipantsAccepted, 1)
}

func testWorkflowParticipantLists(t *testing.T) {
	wf := proposedWorkflow()
	events := []Event{
		mustEvent(t, WorkflowProposed, wf),
		mustEvent(t, WorkflowParticipantAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-b"}),
		mustEvent(t, WorkflowParticipantAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-c"}),
		mustEvent(t, WorkflowParticipantRejected, model.Denial{ID: "wf-1", OrganizationID: "org-d", Reasons: []string{"nope"}}),
	}
	result := AggregateWorkflow(events)
	require.Len(t, result.ParticipantsAccepted, 2)
	require.Len(t, result.ParticipantsRejected, 1)
}

func testWorkflowEmptyStream(t *testing.T) {
	require.Nil(t, AggregateWorkflow(nil))
	// verdicts without a base event fold to nothing
	events := []Event{
		mustEvent(t, WorkflowAccepted, model.Approval{ID: "wf-1"}),
	}
	require.Nil(t, AggregateWorkflow(events))
}

func testWorkflowCommitment(t *testing.T) {
	wf := proposedWorkflow()
	commitment := &model.Commitment{Reference: "0xabc"}
	events := []Event{
		mustEvent(t, WorkflowProposed, wf),
		mustEvent(t, WorkflowAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-b", Commitment: commitment}),
	}
	result := AggregateWorkflow(events)
	require.NotNil(t, result.Commitment)
	require.Equal(t, "0xabc", result.Commitment.Reference)

	// a verdict without one leaves the recorded commitment alone
	events = append(events, mustEvent(t, WorkflowAccepted, model.Approval{ID: "wf-1", OrganizationID: "org-c"}))
	result = AggregateWorkflow(events)
	require.NotNil(t, result.Commitment)
	require.Equal(t, "0xabc", result.Commitment.Reference)
}

func TestAggregateInstance(t *testing.T) {
	launched := model.WorkflowInstance{
		ConsistencyEntity: model.ConsistencyEntity{ConsistencyID: "in-1"},
		WorkflowID:        "wf-1",
		OrganizationID:    "org-a",
		CurrentState:      &statechart.State{Name: "created", Context: map[string]any{}},
	}

	t.Run("advance starts a fresh approval cycle", func(t *testing.T) {
		events := []Event{
			mustEvent(t, InstanceLaunched, launched),
			mustEvent(t, InstanceParticipantAccepted, model.Approval{ID: "in-1", OrganizationID: "org-b"}),
			mustEvent(t, InstanceAccepted, model.Approval{ID: "in-1", OrganizationID: "org-b"}),
			mustEvent(t, InstanceAdvanced, model.WorkflowInstanceTransition{
				ID:         "in-1",
				WorkflowID: "wf-1",
				From:       statechart.State{Name: "created"},
				To:         statechart.State{Name: "pending"},
				Event:      "submit",
			}),
		}
		result := AggregateInstance(events)
		require.NotNil(t, result)
		require.Equal(t, "pending", result.CurrentState.Name)
		require.Nil(t, result.AcceptedByParticipants)
		require.Nil(t, result.AcceptedByRuleServices)
		require.Empty(t, result.ParticipantsAccepted)
	})

	t.Run("terminal rejection rolls back to from", func(t *testing.T) {
		from := statechart.State{Name: "created", Context: map[string]any{"item": "bolts"}}
		events := []Event{
			mustEvent(t, InstanceLaunched, launched),
			mustEvent(t, InstanceAdvanced, model.WorkflowInstanceTransition{
				ID:    "in-1",
				From:  from,
				To:    statechart.State{Name: "pending"},
				Event: "submit",
			}),
			mustEvent(t, TransitionRejected, model.TransitionDenial{
				ID:      "in-1",
				From:    &from,
				Reasons: []string{"not allowed"},
			}),
		}
		result := AggregateInstance(events)
		require.Equal(t, "created", result.CurrentState.Name)
		require.Equal(t, "bolts", result.CurrentState.Context["item"])
		require.False(t, *result.AcceptedByParticipants)
	})

	t.Run("determinism: same events same snapshot", func(t *testing.T) {
		events := []Event{
			mustEvent(t, InstanceLaunched, launched),
			mustEvent(t, TransitionParticipantAccepted, model.Approval{ID: "in-1", OrganizationID: "org-b"}),
			mustEvent(t, TransitionAccepted, model.Approval{ID: "in-1", OrganizationID: "org-b"}),
		}
		first := AggregateInstance(events)
		second := AggregateInstance(events)
		require.Equal(t, first, second)
	})

	t.Run("acceptance records the commitment", func(t *testing.T) {
		events := []Event{
			mustEvent(t, InstanceLaunched, launched),
			mustEvent(t, InstanceAccepted, model.Approval{
				ID:             "in-1",
				OrganizationID: "org-b",
				Commitment:     &model.Commitment{Reference: "0xdef"},
			}),
		}
		result := AggregateInstance(events)
		require.NotNil(t, result.Commitment)
		require.Equal(t, "0xdef", result.Commitment.Reference)
	})
}

func TestAggregateRuleServices(t *testing.T) {
	events := []Event{
		mustEvent(t, RuleServiceRegistered, model.RuleService{ID: "r1", Name: "first", URL: "http://one"}),
		mustEvent(t, RuleServiceRegistered, model.RuleService{ID: "r2", Name: "second", URL: "http://two"}),
		mustEvent(t, RuleServiceUnregistered, map[string]string{"id": "r1"}),
	}
	services := AggregateRuleServices(events)
	require.Len(t, services, 1)
	require.Equal(t, "second", services["r2"].Name)
}
