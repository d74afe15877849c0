package rules_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/persistence/memory"
	"github.com/crossflow/crossflow/rules"
	"github.com/crossflow/crossflow/statechart"
)

func ruleServer(t *testing.T, verdict model.RuleServiceResponse) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(verdict)
	}))
	t.Cleanup(server.Close)
	return server
}

func waitForVerdict(t *testing.T, store persistence.EventStore, stream string, want persistence.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		events, err := store.Read(context.Background(), stream)
		if err != nil {
			return false
		}
		for _, event := range events {
			if event.Type == want {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func proposal() model.Workflow {
	return model.Workflow{
		ConsistencyEntity: model.ConsistencyEntity{ConsistencyID: "wf-1"},
		OrganizationID:    "org-a",
		WorkflowModel: statechart.Model{
			ID:      "m",
			Initial: "a",
			States:  map[string]statechart.StateDef{"a": {}},
		},
	}
}

func TestGate(t *testing.T) {
	t.Run("no validators accept everything", func(t *testing.T) {
		store := memory.NewStore()
		service := persistence.NewService(store)
		defer service.Close()
		gate := rules.NewGate(service)
		require.NoError(t, gate.Start(context.Background()))

		require.NoError(t, service.DispatchWorkflowEvent(context.Background(), "wf-1",
			persistence.WorkflowProposed, proposal()))
		waitForVerdict(t, store, persistence.WorkflowStreamPrefix+"wf-1",
			persistence.WorkflowRuleAcceptedLocal)
	})

	t.Run("rejecting rule service produces a denial", func(t *testing.T) {
		store := memory.NewStore()
		service := persistence.NewService(store)
		defer service.Close()
		gate := rules.NewGate(service)
		require.NoError(t, gate.Start(context.Background()))

		server := ruleServer(t, model.RuleServiceResponse{Valid: false, Reason: "policy violation"})
		_, err := service.RegisterRuleService(context.Background(), "strict", server.URL)
		require.NoError(t, err)

		require.NoError(t, service.DispatchWorkflowEvent(context.Background(), "wf-1",
			persistence.WorkflowReceived, proposal()))
		waitForVerdict(t, store, persistence.WorkflowStreamPrefix+"wf-1",
			persistence.WorkflowRuleRejectedReceived)
	})

	t.Run("unreachable rule service accepts", func(t *testing.T) {
		store := memory.NewStore()
		service := persistence.NewService(store)
		defer service.Close()
		gate := rules.NewGate(service)
		require.NoError(t, gate.Start(context.Background()))

		_, err := service.RegisterRuleService(context.Background(), "gone", "http://127.0.0.1:1")
		require.NoError(t, err)

		require.NoError(t, service.DispatchWorkflowEvent(context.Background(), "wf-1",
			persistence.WorkflowProposed, proposal()))
		waitForVerdict(t, store, persistence.WorkflowStreamPrefix+"wf-1",
			persistence.WorkflowRuleAcceptedLocal)
	})

	t.Run("embedded expression gates transitions", func(t *testing.T) {
		store := memory.NewStore()
		service := persistence.NewService(store)
		defer service.Close()

		validator, err := rules.NewExprValidator(
			`kind != "transition" || transition.event != "forbidden"`)
		require.NoError(t, err)
		gate := rules.NewGate(service, validator)
		require.NoError(t, gate.Start(context.Background()))

		require.NoError(t, service.AdvanceWorkflowInstance(context.Background(),
			model.WorkflowInstanceTransition{
				ID:    "in-1",
				From:  statechart.State{Name: "a"},
				To:    statechart.State{Name: "b"},
				Event: "forbidden",
			}))
		waitForVerdict(t, store, persistence.InstanceStreamPrefix+"in-1",
			persistence.TransitionRuleRejectedLocal)

		require.NoError(t, service.AdvanceWorkflowInstance(context.Background(),
			model.WorkflowInstanceTransition{
				ID:    "in-2",
				From:  statechart.State{Name: "a"},
				To:    statechart.State{Name: "b"},
				Event: "allowed",
			}))
		waitForVerdict(t, store, persistence.InstanceStreamPrefix+"in-2",
			persistence.TransitionRuleAcceptedLocal)
	})
}

func TestExprValidator(t *testing.T) {
	validator, err := rules.NewExprValidator(`kind != "workflow" || workflow.organizationId == "org-a"`)
	require.NoError(t, err)

	accepted := validator.CheckWorkflow(context.Background(), proposal())
	require.True(t, accepted.Valid)

	foreign := proposal()
	foreign.OrganizationID = "org-z"
	rejected := validator.CheckWorkflow(context.Background(), foreign)
	require.False(t, rejected.Valid)
	require.NotEmpty(t, rejected.Reason)

	// other kinds pass through the same expression
	require.True(t, validator.CheckInstance(context.Background(), model.WorkflowInstance{}).Valid)

	_, err = rules.NewExprValidator(`this is not an expression`)
	require.Error(t, err)
}
