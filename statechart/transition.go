package statechart

import (
	"fmt"
	"strings"
)

// Event names used to acknowledge or deny an external participant's part of
// an external state. The suffix is the participant id from the model.
const (
	AckEventPrefix  = "$RECEIVE_ACK_"
	NackEventPrefix = "$RECEIVE_NACK_"
)

// AckEvent returns the acknowledgement event name for an external
// participant.
func AckEvent(participantID string) string {
	return AckEventPrefix + participantID
}

// NackEvent returns the denial event name for an external participant.
func NackEvent(participantID string) string {
	return NackEventPrefix + participantID
}

// Transition advances a state value by one event and returns the resulting
// state. It is a pure function: from is never mutated, and an event that
// matches no transition returns from unchanged. Payload is made available to
// assignment templates as $.event.
func Transition(m Model, from State, event string, payload map[string]any) (State, error) {
	def, ok := m.States[from.Name]
	if !ok {
		return from, fmt.Errorf("state %q is not part of model %q", from.Name, m.ID)
	}

	if strings.HasPrefix(event, AckEventPrefix) || strings.HasPrefix(event, NackEventPrefix) {
		return applyExternalResponse(def, from, event, payload)
	}

	eventDef, ok := def.On[event]
	if !ok {
		// no-op self loop, by contract
		return from, nil
	}

	if def.External && !externalConditionMet(def, from) {
		return from, fmt.Errorf("cannot leave external state %q: outstanding participant acknowledgements", from.Name)
	}

	next := from.clone()
	next.Name = eventDef.Target
	next.Acks = map[string]bool{}
	if _, ok := m.States[eventDef.Target]; !ok {
		return from, fmt.Errorf("transition %q targets unknown state %q", event, eventDef.Target)
	}
	applyAssign(&next, eventDef.Assign, payload)
	return next, nil
}

func applyExternalResponse(def StateDef, from State, event string, payload map[string]any) (State, error) {
	var participantID string
	ack := strings.HasPrefix(event, AckEventPrefix)
	if ack {
		participantID = strings.TrimPrefix(event, AckEventPrefix)
	} else {
		participantID = strings.TrimPrefix(event, NackEventPrefix)
	}

	var participant *ExternalParticipant
	for i := range def.ExternalParticipants {
		if def.ExternalParticipants[i].ID == participantID {
			participant = &def.ExternalParticipants[i]
			break
		}
	}
	if participant == nil {
		// response for a participant of some other state, ignore
		return from, nil
	}

	next := from.clone()
	if ack {
		next.Acks[participantID] = true
		applyAssign(&next, participant.AssignOnAcceptance, payload)
	} else {
		applyAssign(&next, participant.AssignOnRejection, payload)
	}
	return next, nil
}

func applyAssign(s *State, def *ObjectDefinition, payload map[string]any) {
	if def == nil {
		return
	}
	root := map[string]any{"context": s.Context, "event": payload}
	assigned := Evaluate(def, root)
	if m, ok := assigned.(map[string]any); ok {
		for k, v := range m {
			s.Context[k] = v
		}
	}
}

func externalConditionMet(def StateDef, s State) bool {
	cond := def.ExternalCondition
	if cond == nil {
		// all participants have to acknowledge by default
		for _, ep := range def.ExternalParticipants {
			if !s.Acks[ep.ID] {
				return false
			}
		}
		return true
	}
	for _, id := range cond.AllOf {
		if !s.Acks[id] {
			return false
		}
	}
	if len(cond.AnyOf) > 0 {
		any := false
		for _, id := range cond.AnyOf {
			if s.Acks[id] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if cond.Min > 0 {
		count := 0
		for _, acked := range s.Acks {
			if acked {
				count++
			}
		}
		if count < cond.Min {
			return false
		}
	}
	return true
}
