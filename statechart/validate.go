package statechart

import "fmt"

// InvalidModelError reports a structurally broken workflow definition.
type InvalidModelError struct {
	Reason string
}

func (e InvalidModelError) Error() string {
	return fmt.Sprintf("invalid workflow model: %s", e.Reason)
}

// Validate checks the structural constraints of a workflow model before it
// may be proposed.
func Validate(m Model) error {
	if m.Initial == "" {
		return InvalidModelError{Reason: "no initial state"}
	}
	if _, ok := m.States[m.Initial]; !ok {
		return InvalidModelError{Reason: fmt.Sprintf("initial state %q is not defined", m.Initial)}
	}
	for name, def := range m.States {
		if def.External {
			if def.Final {
				return InvalidModelError{Reason: fmt.Sprintf("state %q cannot be external and final at the same time", name)}
			}
			if len(def.ExternalParticipants) == 0 {
				return InvalidModelError{Reason: fmt.Sprintf("external state %q has no participants", name)}
			}
		}
		for event, eventDef := range def.On {
			if eventDef.Target == "" {
				return InvalidModelError{Reason: fmt.Sprintf("transition %q of state %q has no target", event, name)}
			}
			if containsDot(eventDef.Target) {
				return InvalidModelError{Reason: fmt.Sprintf("transition %q of state %q targets a child state", event, name)}
			}
			if _, ok := m.States[eventDef.Target]; !ok {
				return InvalidModelError{Reason: fmt.Sprintf("transition %q of state %q targets unknown state %q", event, name, eventDef.Target)}
			}
		}
	}
	return nil
}

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}
	return false
}
