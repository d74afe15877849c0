// Package rules validates proposals and transitions against rule services
// before they take part in the agreement protocol. Validators are either
// externally registered HTTP services or embedded expression rules; the
// gate fans every proposal out to all of them and records the combined
// verdict as a follow-up event.
package rules

import (
	"context"

	"github.com/crossflow/crossflow/model"
)

// Validator is one source of rule verdicts.
type Validator interface {
	Name() string
	CheckWorkflow(ctx context.Context, workflow model.Workflow) model.RuleServiceResponse
	CheckInstance(ctx context.Context, instance model.WorkflowInstance) model.RuleServiceResponse
	CheckTransition(ctx context.Context, transition model.WorkflowInstanceTransition) model.RuleServiceResponse
}

func valid() model.RuleServiceResponse {
	return model.RuleServiceResponse{Valid: true}
}

func invalid(reason string) model.RuleServiceResponse {
	return model.RuleServiceResponse{Valid: false, Reason: reason}
}
