package persistence_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossflow/crossflow/model"
	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/persistence/memory"
	"github.com/crossflow/crossflow/statechart"
)

func newService() *persistence.Service {
	return persistence.NewService(memory.NewStore())
}

func simpleModel() statechart.Model {
	return statechart.Model{
		ID:      "simple",
		Initial: "a",
		States: map[string]statechart.StateDef{
			"a": {On: map[string]statechart.EventDef{"go": {Target: "b"}}},
			"b": {Final: true},
		},
	}
}

func TestService(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, svc *persistence.Service){
		"propose and read back a workflow":    testProposeWorkflow,
		"launch and advance an instance":      testLaunchAndAdvance,
		"time travel replays event prefixes":  testTimeTravel,
		"payload history up to a cutoff":      testPayloadHistory,
		"rule service registry":               testRuleServiceRegistry,
		"live subscription sees new events":   testSubscription,
	} {
		t.Run(scenario, func(t *testing.T) {
			svc := newService()
			defer svc.Close()
			fn(t, svc)
		})
	}
}

func testProposeWorkflow(t *testing.T, svc *persistence.Service) {
	ctx := context.Background()
	proposed, err := svc.ProposeWorkflow(ctx, model.Workflow{
		OrganizationID: "org-a",
		WorkflowModel:  simpleModel(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, proposed.ConsistencyID)

	read, err := svc.GetWorkflowByID(ctx, proposed.ConsistencyID)
	require.NoError(t, err)
	require.NotNil(t, read)
	require.Equal(t, "org-a", read.OrganizationID)
	require.Nil(t, read.AcceptedByParticipants)

	missing, err := svc.GetWorkflowByID(ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func testLaunchAndAdvance(t *testing.T, svc *persistence.Service) {
	ctx := context.Background()
	initial := statechart.State{Name: "a", Context: map[string]any{}}
	instance, err := svc.LaunchWorkflowInstance(ctx, model.WorkflowInstance{
		WorkflowID:     "wf-1",
		OrganizationID: "org-a",
		CurrentState:   &initial,
	})
	require.NoError(t, err)

	err = svc.AdvanceWorkflowInstance(ctx, model.WorkflowInstanceTransition{
		ID:         instance.ConsistencyID,
		WorkflowID: "wf-1",
		From:       initial,
		To:         statechart.State{Name: "b"},
		Event:      "go",
	})
	require.NoError(t, err)

	read, err := svc.GetWorkflowInstanceByID(ctx, instance.ConsistencyID)
	require.NoError(t, err)
	require.Equal(t, "b", read.CurrentState.Name)

	instances, err := svc.GetWorkflowInstancesOfWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, instances, 1)
}

func testTimeTravel(t *testing.T, svc *persistence.Service) {
	ctx := context.Background()
	initial := statechart.State{Name: "a", Context: map[string]any{}}
	instance, err := svc.LaunchWorkflowInstance(ctx, model.WorkflowInstance{
		WorkflowID:   "wf-1",
		CurrentState: &initial,
	})
	require.NoError(t, err)

	beforeAdvance := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	err = svc.AdvanceWorkflowInstance(ctx, model.WorkflowInstanceTransition{
		ID:    instance.ConsistencyID,
		From:  initial,
		To:    statechart.State{Name: "b"},
		Event: "go",
	})
	require.NoError(t, err)

	past, err := svc.InstanceStateAt(ctx, instance.ConsistencyID, beforeAdvance)
	require.NoError(t, err)
	require.NotNil(t, past)
	require.Equal(t, "a", past.CurrentState.Name)

	now, err := svc.InstanceStateAt(ctx, instance.ConsistencyID, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, "b", now.CurrentState.Name)

	// before the stream existed there is no state at all
	none, err := svc.InstanceStateAt(ctx, instance.ConsistencyID, beforeAdvance.Add(-time.Hour))
	require.NoError(t, err)
	require.Nil(t, none)
}

func testPayloadHistory(t *testing.T, svc *persistence.Service) {
	ctx := context.Background()
	initial := statechart.State{Name: "a", Context: map[string]any{}}
	instance, err := svc.LaunchWorkflowInstance(ctx, model.WorkflowInstance{CurrentState: &initial})
	require.NoError(t, err)

	err = svc.AdvanceWorkflowInstance(ctx, model.WorkflowInstanceTransition{
		ID:      instance.ConsistencyID,
		From:    initial,
		To:      statechart.State{Name: "b"},
		Event:   "go",
		Payload: map[string]any{"amount": float64(3)},
	})
	require.NoError(t, err)

	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	err = svc.AdvanceWorkflowInstance(ctx, model.WorkflowInstanceTransition{
		ID:    instance.ConsistencyID,
		From:  statechart.State{Name: "b"},
		To:    statechart.State{Name: "a"},
		Event: "back",
	})
	require.NoError(t, err)

	payloads, err := svc.TransitionPayloadsUntil(ctx, instance.ConsistencyID, cutoff)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Equal(t, "go", payloads[0].Event)
	require.Equal(t, float64(3), payloads[0].Payload["amount"])
}

func testRuleServiceRegistry(t *testing.T, svc *persistence.Service) {
	ctx := context.Background()
	registered, err := svc.RegisterRuleService(ctx, "checker", "http://localhost:9999/")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999", registered.URL)

	services, err := svc.GetRuleServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)

	require.NoError(t, svc.UnregisterRuleService(ctx, registered.ID))
	services, err = svc.GetRuleServices(ctx)
	require.NoError(t, err)
	require.Empty(t, services)

	require.Error(t, svc.UnregisterRuleService(ctx, "unknown"))
}

func testSubscription(t *testing.T, svc *persistence.Service) {
	ctx := context.Background()

	var mu sync.Mutex
	var seen []persistence.EventType
	err := svc.SubscribeToAll(ctx, func(eventType persistence.EventType, data json.RawMessage) {
		mu.Lock()
		seen = append(seen, eventType)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = svc.ProposeWorkflow(ctx, model.Workflow{WorkflowModel: simpleModel()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == persistence.WorkflowProposed
	}, time.Second, 10*time.Millisecond)
}
