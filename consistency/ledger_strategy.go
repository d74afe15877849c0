package consistency

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/crossflow/crossflow/consistency/ledger"
	"github.com/crossflow/crossflow/logger"
)

// Verification failures for commitment-bearing messages.
const (
	ErrInvalidHash = "INVALID_HASH"
	ErrNoEventLogs = "NO_EVENT_LOGS"
)

// LedgerStrategy decorates another strategy with ledger anchoring.
// Before a commitment-requiring message leaves the node its canonical
// hash is anchored on the ledger and the resulting transaction
// reference becomes the commitment. On the inbound side the hash of
// every commitment-bearing message is checked against the ledger, a
// message whose hash was never anchored or no longer matches is dropped.
type LedgerStrategy struct {
	inner  Strategy
	ledger ledger.Ledger
	name   string

	mu      sync.Mutex
	inbound chan Message
	closed  bool
}

// NewLedgerStrategy wraps the inner transport. The composed strategy
// carries its own name so the wire endpoint stays distinguishable from
// the plain transport.
func NewLedgerStrategy(inner Strategy, anchor ledger.Ledger, name string) *LedgerStrategy {
	s := &LedgerStrategy{
		inner:   inner,
		ledger:  anchor,
		name:    name,
		inbound: make(chan Message, 256),
	}
	go s.consume()
	return s
}

func (s *LedgerStrategy) Dispatch(ctx context.Context, msg Message) (Status, error) {
	if NeedsCommitment(msg.Type) && msg.Commitment == nil {
		hash, err := CommitmentHash(msg)
		if err != nil {
			return StatusNOK, err
		}
		commitment, err := s.ledger.StoreHash(ctx, hash)
		if err != nil {
			return StatusNOK, err
		}
		msg.Commitment = commitment
	}
	return s.inner.Dispatch(ctx, msg)
}

func (s *LedgerStrategy) consume() {
	for msg := range s.inner.Inbound() {
		if reason, ok := s.verify(msg); !ok {
			logger.Warn("dropping message that failed ledger verification",
				zap.String("type", string(msg.Type)),
				zap.String("reason", reason))
			continue
		}
		s.deliver(msg)
	}
}

// verify recomputes the canonical hash of a commitment-bearing message
// and checks it against what the ledger recorded for the commitment
// reference. Messages outside the commitment-requiring subset pass
// through untouched.
func (s *LedgerStrategy) verify(msg Message) (string, bool) {
	if !NeedsCommitment(msg.Type) {
		return "", true
	}
	if msg.Commitment == nil {
		return ErrNoEventLogs, false
	}
	hashes, err := s.ledger.TransactionLogs(context.Background(), msg.Commitment.Reference)
	if err != nil || len(hashes) == 0 {
		return ErrNoEventLogs, false
	}
	hash, err := CommitmentHash(msg)
	if err != nil {
		return ErrInvalidHash, false
	}
	for _, anchored := range hashes {
		if anchored == hash {
			return "", true
		}
	}
	return ErrInvalidHash, false
}

func (s *LedgerStrategy) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.inbound <- msg:
	default:
		logger.Warn("ledger strategy dropped message, inbound channel full")
	}
}

func (s *LedgerStrategy) Inbound() <-chan Message {
	return s.inbound
}

func (s *LedgerStrategy) Status(ctx context.Context) Status {
	return s.inner.Status(ctx)
}

func (s *LedgerStrategy) OrganizationIdentifier() string {
	return s.inner.OrganizationIdentifier()
}

func (s *LedgerStrategy) Name() string {
	return s.name
}

// Receive forwards peer deliveries to the inner transport when it
// accepts them over HTTP.
func (s *LedgerStrategy) Receive(msg Message) {
	if receiver, ok := s.inner.(Receiver); ok {
		receiver.Receive(msg)
	}
}

func (s *LedgerStrategy) Close() error {
	err := s.inner.Close()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.inbound)
	}
	s.mu.Unlock()
	if cerr := s.ledger.Close(); err == nil {
		err = cerr
	}
	return err
}
