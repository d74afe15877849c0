package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossflow/crossflow/persistence"
	"github.com/crossflow/crossflow/persistence/memory"
	"github.com/crossflow/crossflow/statechart"
	"github.com/crossflow/crossflow/workflow"
)

func newService(t *testing.T) *workflow.Service {
	t.Helper()
	store := persistence.NewService(memory.NewStore())
	t.Cleanup(func() { store.Close() })
	return workflow.NewService("org-a", store)
}

func validModel() statechart.Model {
	return statechart.Model{
		ID:      "m",
		Initial: "a",
		States: map[string]statechart.StateDef{
			"a": {On: map[string]statechart.EventDef{"go": {Target: "b"}}},
			"b": {Final: true},
		},
	}
}

func TestWorkflowService(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, svc *workflow.Service){
		"propose rejects an invalid model":      testProposeInvalid,
		"launch requires a known workflow":      testLaunchUnknown,
		"advance applies the transition":        testAdvance,
		"advance rejects an undefined event":    testAdvanceUndefinedEvent,
		"time travel replays the instance":      testInstanceTimeTravel,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newService(t))
		})
	}
}

func testProposeInvalid(t *testing.T, svc *workflow.Service) {
	broken := validModel()
	broken.Initial = "nowhere"
	_, err := svc.ProposeWorkflow(context.Background(), broken, nil)
	require.Error(t, err)

	proposed, err := svc.ProposeWorkflow(context.Background(), validModel(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, proposed.ConsistencyID)
	require.Equal(t, "org-a", proposed.OrganizationID)
}

func testLaunchUnknown(t *testing.T, svc *workflow.Service) {
	_, err := svc.LaunchWorkflowInstance(context.Background(), "unknown")
	require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func testAdvance(t *testing.T, svc *workflow.Service) {
	ctx := context.Background()
	proposed, err := svc.ProposeWorkflow(ctx, validModel(), nil)
	require.NoError(t, err)
	instance, err := svc.LaunchWorkflowInstance(ctx, proposed.ConsistencyID)
	require.NoError(t, err)
	require.Equal(t, "a", instance.CurrentState.Name)

	transition, err := svc.AdvanceWorkflowInstance(ctx, instance.ConsistencyID, "go", nil)
	require.NoError(t, err)
	require.Equal(t, "a", transition.From.Name)
	require.Equal(t, "b", transition.To.Name)

	read, err := svc.GetWorkflowInstance(ctx, instance.ConsistencyID)
	require.NoError(t, err)
	require.Equal(t, "b", read.CurrentState.Name)
}

func testAdvanceUndefinedEvent(t *testing.T, svc *workflow.Service) {
	ctx := context.Background()
	proposed, err := svc.ProposeWorkflow(ctx, validModel(), nil)
	require.NoError(t, err)
	instance, err := svc.LaunchWorkflowInstance(ctx, proposed.ConsistencyID)
	require.NoError(t, err)

	_, err = svc.AdvanceWorkflowInstance(ctx, instance.ConsistencyID, "teleport", nil)
	require.Error(t, err)

	_, err = svc.AdvanceWorkflowInstance(ctx, "unknown", "go", nil)
	require.ErrorIs(t, err, workflow.ErrInstanceNotFound)
}

func testInstanceTimeTravel(t *testing.T, svc *workflow.Service) {
	ctx := context.Background()
	proposed, err := svc.ProposeWorkflow(ctx, validModel(), nil)
	require.NoError(t, err)
	instance, err := svc.LaunchWorkflowInstance(ctx, proposed.ConsistencyID)
	require.NoError(t, err)

	beforeAdvance := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	_, err = svc.AdvanceWorkflowInstance(ctx, instance.ConsistencyID, "go",
		map[string]any{"n": float64(1)})
	require.NoError(t, err)

	past, err := svc.InstanceStateAt(ctx, instance.ConsistencyID, beforeAdvance)
	require.NoError(t, err)
	require.Equal(t, "a", past.CurrentState.Name)

	payloads, err := svc.TransitionPayloadsUntil(ctx, instance.ConsistencyID, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Equal(t, "go", payloads[0].Event)
}
