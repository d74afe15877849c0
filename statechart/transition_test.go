package statechart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func orderModel() Model {
	return Model{
		ID:      "order",
		Initial: "created",
		States: map[string]StateDef{
			"created": {
				On: map[string]EventDef{
					"submit": {
						Target: "pending",
						Assign: &ObjectDefinition{
							Type: TypeObject,
							Properties: map[string]ObjectDefinition{
								"item": {Type: TypeString, JSONPath: "$.event.item"},
							},
						},
					},
				},
			},
			"pending": {
				External: true,
				ExternalParticipants: []ExternalParticipant{
					{
						ID:             "supplier",
						OrganizationID: "c7f0f2d2-9c4e-4f5a-8d36-0d6b0a3c9e11",
						WorkflowID:     "a2e7f4b8-1f3d-4bfb-9a91-5c12fb0e7d42",
						Event:          "order",
						AssignOnAcceptance: &ObjectDefinition{
							Type: TypeObject,
							Properties: map[string]ObjectDefinition{
								"confirmation": {Type: TypeString, JSONPath: "$.event.confirmation"},
							},
						},
					},
				},
				On: map[string]EventDef{
					"complete": {Target: "done"},
				},
			},
			"done": {Final: true},
		},
	}
}

func TestTransition(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, m Model){
		"advance assigns from the event payload":       testAdvanceAssigns,
		"unmatched event is a no-op":                   testUnmatchedEvent,
		"external state blocks until acknowledged":     testExternalStateBlocks,
		"acknowledgement unlocks the external state":   testAckUnlocks,
		"denial applies rejection assignment only":     testNackKeepsState,
		"unknown source state fails":                   testUnknownState,
		"purity: the input state is never mutated":     testPurity,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, orderModel())
		})
	}
}

func testAdvanceAssigns(t *testing.T, m Model) {
	next, err := Transition(m, Initial(m), "submit", map[string]any{"item": "bolts"})
	require.NoError(t, err)
	require.Equal(t, "pending", next.Name)
	require.Equal(t, "bolts", next.Context["item"])
}

func testUnmatchedEvent(t *testing.T, m Model) {
	from := Initial(m)
	next, err := Transition(m, from, "nonsense", nil)
	require.NoError(t, err)
	require.Equal(t, from, next)
}

func testExternalStateBlocks(t *testing.T, m Model) {
	pending := State{Name: "pending", Context: map[string]any{}}
	_, err := Transition(m, pending, "complete", nil)
	require.Error(t, err)
}

func testAckUnlocks(t *testing.T, m Model) {
	pending := State{Name: "pending", Context: map[string]any{}}
	acked, err := Transition(m, pending, AckEvent("supplier"), map[string]any{"confirmation": "ok-123"})
	require.NoError(t, err)
	require.Equal(t, "pending", acked.Name)
	require.True(t, acked.Acks["supplier"])
	require.Equal(t, "ok-123", acked.Context["confirmation"])

	done, err := Transition(m, acked, "complete", nil)
	require.NoError(t, err)
	require.Equal(t, "done", done.Name)
	require.Empty(t, done.Acks)
}

func testNackKeepsState(t *testing.T, m Model) {
	pending := State{Name: "pending", Context: map[string]any{}}
	nacked, err := Transition(m, pending, NackEvent("supplier"), nil)
	require.NoError(t, err)
	require.Equal(t, "pending", nacked.Name)
	require.False(t, nacked.Acks["supplier"])

	_, err = Transition(m, nacked, "complete", nil)
	require.Error(t, err)
}

func testUnknownState(t *testing.T, m Model) {
	_, err := Transition(m, State{Name: "limbo"}, "submit", nil)
	require.Error(t, err)
}

func testPurity(t *testing.T, m Model) {
	from := Initial(m)
	_, err := Transition(m, from, "submit", map[string]any{"item": "bolts"})
	require.NoError(t, err)
	require.Empty(t, from.Context)
	require.Equal(t, "created", from.Name)
}

func TestListCondition(t *testing.T) {
	m := orderModel()
	def := m.States["pending"]
	def.ExternalParticipants = append(def.ExternalParticipants, ExternalParticipant{
		ID:             "carrier",
		OrganizationID: "d8e1f3c4-0a5b-4c6d-8e7f-1a2b3c4d5e6f",
		WorkflowID:     "b3f8a5c9-2e4f-4acb-8b02-6d23ac1f8e53",
		Event:          "ship",
	})
	def.ExternalCondition = &ListCondition{AnyOf: []string{"supplier", "carrier"}}
	m.States["pending"] = def

	pending := State{Name: "pending", Context: map[string]any{}}
	acked, err := Transition(m, pending, AckEvent("carrier"), nil)
	require.NoError(t, err)

	done, err := Transition(m, acked, "complete", nil)
	require.NoError(t, err)
	require.Equal(t, "done", done.Name)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(orderModel()))

	broken := orderModel()
	broken.Initial = "limbo"
	require.Error(t, Validate(broken))

	dangling := orderModel()
	state := dangling.States["created"]
	state.On = map[string]EventDef{"submit": {Target: "nowhere"}}
	dangling.States["created"] = state
	require.Error(t, Validate(dangling))
}
