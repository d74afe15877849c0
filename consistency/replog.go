package consistency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crossflow/crossflow/consistency/replicatedlog"
	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
)

// logEnvelope wraps a message for the replicated log with the sending
// organization so subscribers can drop their own appends.
type logEnvelope struct {
	Sender  string  `json:"sender"`
	Message Message `json:"message"`
}

// routingInfo is the addressing subset shared by every payload that
// travels over the replicated log.
type routingInfo struct {
	ID                 string `json:"id"`
	OrganizationID     string `json:"organizationId"`
	WorkflowID         string `json:"workflowId"`
	WorkflowInstanceID string `json:"workflowInstanceId"`
	InstanceID         string `json:"instanceId"`
}

func (r routingInfo) workflowScopeID() string {
	if r.WorkflowID != "" {
		return r.WorkflowID
	}
	if r.ID != "" {
		return r.ID
	}
	return "global"
}

func (r routingInfo) instanceScopeID() string {
	if r.WorkflowInstanceID != "" {
		return r.WorkflowInstanceID
	}
	return r.InstanceID
}

// addressedTypes are delivered to the scope of the organization named in
// the payload instead of being broadcast on the sender's own scope.
var addressedTypes = map[MessageType]bool{
	MessageAdvanceInstance:  true,
	MessageAcceptTransition: true,
	MessageRejectTransition: true,
}

// ReplicatedLogStrategy appends every message to a shared append-only
// log. Broadcast traffic lands on the sending organization's own scope,
// transition traffic addressed at a specific counterpart lands on the
// counterpart's scope. Scopes for foreign organizations are released
// again after a period without traffic.
type ReplicatedLogStrategy struct {
	organizationID string
	connector      replicatedlog.Connector
	pool           *scopePool

	mu        sync.Mutex
	inbound   chan Message
	closed    bool
	cancelSub func()
}

func NewReplicatedLogStrategy(organizationID string, connector replicatedlog.Connector, gracePeriod time.Duration) (*ReplicatedLogStrategy, error) {
	s := &ReplicatedLogStrategy{
		organizationID: organizationID,
		connector:      connector,
		pool:           newScopePool(connector, gracePeriod),
		inbound:        make(chan Message, 256),
	}

	entries, cancel, err := connector.Subscribe(context.Background(), replicatedlog.ScopePrefix+"/")
	if err != nil {
		return nil, err
	}
	s.cancelSub = cancel
	go s.consume(entries)
	return s, nil
}

func (s *ReplicatedLogStrategy) consume(entries <-chan replicatedlog.Entry) {
	for entry := range entries {
		var envelope logEnvelope
		if err := json.Unmarshal(entry.Data, &envelope); err != nil {
			logger.Warn("dropping malformed replicated log entry",
				zap.String("scope", entry.Scope), zap.Error(err))
			continue
		}
		// Own appends were already fed back locally on dispatch.
		if envelope.Sender == s.organizationID {
			continue
		}
		// Addressed traffic on a foreign scope is none of our business.
		if addressedTypes[envelope.Message.Type] &&
			replicatedlog.ScopeOrganization(entry.Scope) != s.organizationID {
			continue
		}
		s.deliver(envelope.Message)
	}
}

func (s *ReplicatedLogStrategy) Dispatch(ctx context.Context, msg Message) (Status, error) {
	if msg.Commitment == nil {
		msg.Commitment = &model.Commitment{
			Reference: randomReference(),
			Timestamp: time.Now().UTC(),
		}
	}

	scope, own := s.scopeFor(msg)
	data, err := json.Marshal(logEnvelope{Sender: s.organizationID, Message: msg})
	if err != nil {
		return StatusNOK, err
	}
	if err := s.connector.Append(ctx, scope, data); err != nil {
		return StatusNOK, err
	}
	s.pool.touch(scope, own)

	s.deliver(msg)
	return StatusOK, nil
}

// scopeFor derives the log scope a message belongs on and whether that
// scope is owned by the local organization.
func (s *ReplicatedLogStrategy) scopeFor(msg Message) (string, bool) {
	var route routingInfo
	_ = json.Unmarshal(msg.Payload, &route)

	if addressedTypes[msg.Type] && route.OrganizationID != "" {
		scope := replicatedlog.Scope(route.OrganizationID, route.workflowScopeID(), route.instanceScopeID())
		return scope, route.OrganizationID == s.organizationID
	}
	return replicatedlog.Scope(s.organizationID, route.workflowScopeID(), ""), true
}

func (s *ReplicatedLogStrategy) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.inbound <- msg:
	default:
		logger.Warn("replicated log strategy dropped message, inbound channel full")
	}
}

func (s *ReplicatedLogStrategy) Inbound() <-chan Message {
	return s.inbound
}

func (s *ReplicatedLogStrategy) Status(ctx context.Context) Status {
	return StatusOK
}

func (s *ReplicatedLogStrategy) OrganizationIdentifier() string {
	return s.organizationID
}

func (s *ReplicatedLogStrategy) Name() string {
	return "replog"
}

func (s *ReplicatedLogStrategy) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelSub()
	s.pool.close()

	s.mu.Lock()
	close(s.inbound)
	s.mu.Unlock()
	return s.connector.Close()
}
