package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the projection engine on top of the event store. Every state
// mutation in the system goes through one of its Dispatch* methods; every
// read is a fold over the relevant stream.
type Service struct {
	store EventStore

	mu      sync.Mutex
	cancels []func()
}

func NewService(store EventStore) *Service {
	return &Service{store: store}
}

// ProposeWorkflow assigns a fresh consistency id and appends the proposal as
// the first event of the workflow's stream.
func (s *Service) ProposeWorkflow(ctx context.Context, workflow model.Workflow) (*model.Workflow, error) {
	workflow.ConsistencyID = uuid.NewString()
	event, err := NewEvent(WorkflowProposed, workflow)
	if err != nil {
		return nil, err
	}
	if err := s.store.Append(ctx, WorkflowStreamPrefix+workflow.ConsistencyID, event); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// LaunchWorkflowInstance assigns a fresh consistency id and appends the
// launch as the first event of the instance's stream.
func (s *Service) LaunchWorkflowInstance(ctx context.Context, instance model.WorkflowInstance) (*model.WorkflowInstance, error) {
	instance.ConsistencyID = uuid.NewString()
	event, err := NewEvent(InstanceLaunched, instance)
	if err != nil {
		return nil, err
	}
	if err := s.store.Append(ctx, InstanceStreamPrefix+instance.ConsistencyID, event); err != nil {
		return nil, err
	}
	return &instance, nil
}

// AdvanceWorkflowInstance appends a locally performed transition to the
// instance's stream.
func (s *Service) AdvanceWorkflowInstance(ctx context.Context, transition model.WorkflowInstanceTransition) error {
	event, err := NewEvent(InstanceAdvanced, transition)
	if err != nil {
		return err
	}
	return s.store.Append(ctx, InstanceStreamPrefix+transition.ID, event)
}

// DispatchWorkflowEvent appends an event to a workflow's stream.
func (s *Service) DispatchWorkflowEvent(ctx context.Context, id string, eventType EventType, data any) error {
	return s.dispatch(ctx, WorkflowStreamPrefix+id, eventType, data)
}

// DispatchInstanceEvent appends an event to an instance's stream.
func (s *Service) DispatchInstanceEvent(ctx context.Context, id string, eventType EventType, data any) error {
	return s.dispatch(ctx, InstanceStreamPrefix+id, eventType, data)
}

func (s *Service) dispatch(ctx context.Context, stream string, eventType EventType, data any) error {
	event, err := NewEvent(eventType, data)
	if err != nil {
		return err
	}
	logger.Debug("append to stream", zap.String("stream", stream), zap.String("type", string(eventType)))
	return s.store.Append(ctx, stream, event)
}

// GetWorkflowByID folds the workflow's stream into its current snapshot.
// Returns nil when the workflow is unknown.
func (s *Service) GetWorkflowByID(ctx context.Context, id string) (*model.Workflow, error) {
	events, err := s.readStream(ctx, WorkflowStreamPrefix+id)
	if err != nil || events == nil {
		return nil, err
	}
	return AggregateWorkflow(events), nil
}

// GetAllWorkflows folds every workflow stream.
func (s *Service) GetAllWorkflows(ctx context.Context) ([]model.Workflow, error) {
	streams, err := s.store.Streams(ctx, WorkflowStreamPrefix)
	if err != nil {
		return nil, err
	}
	workflows := make([]model.Workflow, 0, len(streams))
	for _, stream := range streams {
		events, err := s.readStream(ctx, stream)
		if err != nil {
			return nil, err
		}
		if wf := AggregateWorkflow(events); wf != nil {
			workflows = append(workflows, *wf)
		}
	}
	return workflows, nil
}

// GetWorkflowInstanceByID folds the instance's stream into its current
// snapshot. Returns nil when the instance is unknown.
func (s *Service) GetWorkflowInstanceByID(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	events, err := s.readStream(ctx, InstanceStreamPrefix+id)
	if err != nil || events == nil {
		return nil, err
	}
	return AggregateInstance(events), nil
}

// GetWorkflowInstancesOfWorkflow folds all instance streams and keeps the
// instances of the given workflow.
func (s *Service) GetWorkflowInstancesOfWorkflow(ctx context.Context, workflowID string) ([]model.WorkflowInstance, error) {
	streams, err := s.store.Streams(ctx, InstanceStreamPrefix)
	if err != nil {
		return nil, err
	}
	var instances []model.WorkflowInstance
	for _, stream := range streams {
		events, err := s.readStream(ctx, stream)
		if err != nil {
			return nil, err
		}
		if instance := AggregateInstance(events); instance != nil && instance.WorkflowID == workflowID {
			instances = append(instances, *instance)
		}
	}
	return instances, nil
}

// WorkflowStateAt replays the workflow's stream up to the given point in
// time. Returns nil when the stream does not exist or holds no event at or
// before the cutoff.
func (s *Service) WorkflowStateAt(ctx context.Context, id string, at time.Time) (*model.Workflow, error) {
	events, err := s.readStream(ctx, WorkflowStreamPrefix+id)
	if err != nil {
		return nil, err
	}
	prefix := eventsUntil(events, at)
	if len(prefix) == 0 {
		return nil, nil
	}
	return AggregateWorkflow(prefix), nil
}

// InstanceStateAt replays the instance's stream up to the given point in
// time.
func (s *Service) InstanceStateAt(ctx context.Context, id string, at time.Time) (*model.WorkflowInstance, error) {
	events, err := s.readStream(ctx, InstanceStreamPrefix+id)
	if err != nil {
		return nil, err
	}
	prefix := eventsUntil(events, at)
	if len(prefix) == 0 {
		return nil, nil
	}
	return AggregateInstance(prefix), nil
}

// TransitionPayloadsUntil returns the payloads of all transitions performed
// on an instance up to the given point in time.
func (s *Service) TransitionPayloadsUntil(ctx context.Context, id string, until time.Time) ([]model.StateTransitionPayload, error) {
	events, err := s.readStream(ctx, InstanceStreamPrefix+id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		return nil, nil
	}
	var payloads []model.StateTransitionPayload
	for _, event := range eventsUntil(events, until) {
		if event.Type != InstanceAdvanced {
			continue
		}
		var transition model.WorkflowInstanceTransition
		if err := json.Unmarshal(event.Data, &transition); err != nil {
			continue
		}
		payloads = append(payloads, model.StateTransitionPayload{
			Event:     transition.Event,
			Timestamp: event.CreatedAt,
			Payload:   transition.Payload,
		})
	}
	return payloads, nil
}

// RegisterRuleService appends a registration to the rule service registry
// stream.
func (s *Service) RegisterRuleService(ctx context.Context, name, url string) (*model.RuleService, error) {
	url = strings.TrimSuffix(url, "/")
	svc := model.RuleService{ID: uuid.NewString(), Name: name, URL: url}
	if err := s.dispatch(ctx, RuleServiceStream, RuleServiceRegistered, svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// UnregisterRuleService removes a service from the registry.
func (s *Service) UnregisterRuleService(ctx context.Context, id string) error {
	svc, err := s.GetRuleServiceByID(ctx, id)
	if err != nil {
		return err
	}
	if svc == nil {
		return StreamNotFoundError{Stream: RuleServiceStream + "." + id}
	}
	return s.dispatch(ctx, RuleServiceStream, RuleServiceUnregistered, map[string]string{"id": id})
}

// GetRuleServices returns the live set of registered rule services.
func (s *Service) GetRuleServices(ctx context.Context) ([]model.RuleService, error) {
	events, err := s.readStream(ctx, RuleServiceStream)
	if err != nil {
		return nil, err
	}
	set := AggregateRuleServices(events)
	services := make([]model.RuleService, 0, len(set))
	for _, svc := range set {
		services = append(services, svc)
	}
	return services, nil
}

func (s *Service) GetRuleServiceByID(ctx context.Context, id string) (*model.RuleService, error) {
	events, err := s.readStream(ctx, RuleServiceStream)
	if err != nil {
		return nil, err
	}
	if svc, ok := AggregateRuleServices(events)[id]; ok {
		return &svc, nil
	}
	return nil, nil
}

// SubscribeToAll registers a handler for every event appended from now on.
// The handler runs on a dedicated goroutine per subscription; it must not
// block indefinitely.
func (s *Service) SubscribeToAll(ctx context.Context, handler func(eventType EventType, data json.RawMessage)) error {
	events, cancel, err := s.store.SubscribeFromNow(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	go func() {
		for se := range events {
			handler(se.Event.Type, se.Event.Data)
		}
	}()
	return nil
}

// Close releases all live subscriptions.
func (s *Service) Close() error {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// readStream reads a stream, mapping "not found" to a nil slice so callers
// can treat an unknown entity as "no state yet".
func (s *Service) readStream(ctx context.Context, stream string) ([]Event, error) {
	events, err := s.store.Read(ctx, stream)
	if err != nil {
		var notFound StreamNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return events, nil
}

// eventsUntil returns the prefix of events created at or before the cutoff.
func eventsUntil(events []Event, until time.Time) []Event {
	for i, event := range events {
		if event.CreatedAt.After(until) {
			return events[:i]
		}
	}
	return events
}
