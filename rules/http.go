package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
)

// Check endpoints every registered rule service has to expose.
const (
	CheckWorkflowPath   = "/check-new-workflow"
	CheckInstancePath   = "/check-new-instance"
	CheckTransitionPath = "/check-state-transition"
)

// HTTPValidator queries one registered rule service. A service that cannot
// be reached or answers garbage counts as accepting: an unavailable
// validator must not block the whole protocol.
type HTTPValidator struct {
	service model.RuleService
	client  *http.Client
}

func NewHTTPValidator(service model.RuleService) *HTTPValidator {
	return &HTTPValidator{
		service: service,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPValidator) Name() string {
	return v.service.Name
}

func (v *HTTPValidator) CheckWorkflow(ctx context.Context, workflow model.Workflow) model.RuleServiceResponse {
	return v.check(ctx, CheckWorkflowPath, workflow)
}

func (v *HTTPValidator) CheckInstance(ctx context.Context, instance model.WorkflowInstance) model.RuleServiceResponse {
	return v.check(ctx, CheckInstancePath, instance)
}

func (v *HTTPValidator) CheckTransition(ctx context.Context, transition model.WorkflowInstanceTransition) model.RuleServiceResponse {
	return v.check(ctx, CheckTransitionPath, transition)
}

func (v *HTTPValidator) check(ctx context.Context, path string, payload any) model.RuleServiceResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		return valid()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.service.URL+path, bytes.NewReader(body))
	if err != nil {
		return valid()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		logger.Warn("rule service unreachable, treating as accepting",
			zap.String("service", v.service.Name), zap.Error(err))
		return valid()
	}
	defer resp.Body.Close()

	var verdict model.RuleServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		logger.Warn("rule service answered malformed verdict, treating as accepting",
			zap.String("service", v.service.Name), zap.Error(err))
		return valid()
	}
	return verdict
}
