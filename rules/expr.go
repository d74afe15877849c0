package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/crossflow/crossflow/model"
)

// ExprValidator is an embedded rule written as a boolean expression. The
// expression sees the proposal under "workflow", "instance" or
// "transition" depending on what is being checked, plus "kind" naming the
// check. Expressions that do not mention the current kind accept it.
type ExprValidator struct {
	source  string
	program *vm.Program
}

func NewExprValidator(source string) (*ExprValidator, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling rule expression: %w", err)
	}
	return &ExprValidator{source: source, program: program}, nil
}

func (v *ExprValidator) Name() string {
	return "embedded"
}

func (v *ExprValidator) CheckWorkflow(ctx context.Context, workflow model.Workflow) model.RuleServiceResponse {
	return v.run("workflow", workflow)
}

func (v *ExprValidator) CheckInstance(ctx context.Context, instance model.WorkflowInstance) model.RuleServiceResponse {
	return v.run("instance", instance)
}

func (v *ExprValidator) CheckTransition(ctx context.Context, transition model.WorkflowInstanceTransition) model.RuleServiceResponse {
	return v.run("transition", transition)
}

func (v *ExprValidator) run(kind string, subject any) model.RuleServiceResponse {
	env := map[string]any{"kind": kind, kind: toDocument(subject)}
	out, err := expr.Run(v.program, env)
	if err != nil {
		// an expression error rejects, a silently broken rule would
		// otherwise wave everything through
		return invalid(fmt.Sprintf("rule expression failed: %v", err))
	}
	if accepted, ok := out.(bool); ok && !accepted {
		return invalid(fmt.Sprintf("rejected by embedded rule %q", v.source))
	}
	return valid()
}

// toDocument exposes the subject to the expression as plain maps so field
// access follows the JSON names.
func toDocument(subject any) any {
	raw, err := json.Marshal(subject)
	if err != nil {
		return subject
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return subject
	}
	return doc
}
