package consistency

import (
	"context"
	"sync"
	"time"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
)

const defaultNoopDelay = 500 * time.Millisecond

// NoopStrategy runs the full message cycle against the local node only.
// Every dispatched message is delayed briefly, given a synthetic
// commitment and delivered back as if a counterpart had sent it. Useful
// for single-organization deployments and tests.
type NoopStrategy struct {
	organizationID string
	delay          time.Duration

	mu      sync.Mutex
	inbound chan Message
	closed  bool
}

func NewNoopStrategy(organizationID string, delay time.Duration) *NoopStrategy {
	if delay <= 0 {
		delay = defaultNoopDelay
	}
	return &NoopStrategy{
		organizationID: organizationID,
		delay:          delay,
		inbound:        make(chan Message, 64),
	}
}

func (s *NoopStrategy) Dispatch(ctx context.Context, msg Message) (Status, error) {
	if msg.Commitment == nil {
		msg.Commitment = &model.Commitment{
			Reference: randomReference(),
			Timestamp: time.Now().UTC(),
		}
	}
	go func() {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
		s.deliver(msg)
	}()
	return StatusOK, nil
}

func (s *NoopStrategy) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.inbound <- msg:
	default:
		logger.Warn("noop strategy dropped message, inbound channel full")
	}
}

func (s *NoopStrategy) Inbound() <-chan Message {
	return s.inbound
}

func (s *NoopStrategy) Status(ctx context.Context) Status {
	return StatusOK
}

func (s *NoopStrategy) OrganizationIdentifier() string {
	return s.organizationID
}

func (s *NoopStrategy) Name() string {
	return "noop"
}

func (s *NoopStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.inbound)
	return nil
}
