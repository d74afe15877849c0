package consistency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/model"
	"go.uber.org/zap"
)

// PointToPointStrategy posts every message to the consistency endpoint of
// each known peer over HTTP. Commitments are synthetic since plain HTTP
// offers no durable receipt. Delivery to the local node happens in
// process, peers that are down simply miss the message.
type PointToPointStrategy struct {
	organizationID string
	peers          PeerProvider
	endpoint       string
	client         *http.Client

	mu      sync.Mutex
	inbound chan Message
	closed  bool
}

// NewPointToPointStrategy builds the plain HTTP transport. The endpoint
// names the path segment peers post to and has to match on both sides,
// a decorating strategy passes its own name here so deliveries land on
// the decorated endpoint.
func NewPointToPointStrategy(organizationID string, peers PeerProvider, endpoint string) *PointToPointStrategy {
	if endpoint == "" {
		endpoint = "p2p"
	}
	return &PointToPointStrategy{
		organizationID: organizationID,
		peers:          peers,
		endpoint:       endpoint,
		client:         &http.Client{Timeout: 10 * time.Second},
		inbound:        make(chan Message, 256),
	}
}

func (s *PointToPointStrategy) Dispatch(ctx context.Context, msg Message) (Status, error) {
	if msg.Commitment == nil {
		msg.Commitment = &model.Commitment{
			Reference: randomReference(),
			Timestamp: time.Now().UTC(),
		}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return StatusNOK, err
	}

	var wg sync.WaitGroup
	var failed int32
	for _, peer := range s.peers.PeerURLs() {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			if err := s.post(ctx, peer, body); err != nil {
				logger.Warn("p2p dispatch to peer failed",
					zap.String("peer", peer),
					zap.String("type", string(msg.Type)),
					zap.Error(err))
				atomic.StoreInt32(&failed, 1)
			}
		}(peer)
	}
	wg.Wait()

	// Local delivery is unconditional, a peer outage must not stall the
	// local workflow engine.
	s.Receive(msg)
	if atomic.LoadInt32(&failed) == 1 {
		return StatusNOK, nil
	}
	return StatusOK, nil
}

func (s *PointToPointStrategy) post(ctx context.Context, peer string, body []byte) error {
	url := fmt.Sprintf("%s/_internal/consistency/%s", peer, s.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s responded with %d", peer, resp.StatusCode)
	}
	return nil
}

// Receive feeds a message arriving from a peer into the inbound stream.
func (s *PointToPointStrategy) Receive(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.inbound <- msg:
	default:
		logger.Warn("p2p strategy dropped message, inbound channel full")
	}
}

func (s *PointToPointStrategy) Inbound() <-chan Message {
	return s.inbound
}

func (s *PointToPointStrategy) Status(ctx context.Context) Status {
	for _, peer := range s.peers.PeerURLs() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/ping", nil)
		if err != nil {
			return StatusNOK
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return StatusNOK
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return StatusNOK
		}
	}
	return StatusOK
}

func (s *PointToPointStrategy) OrganizationIdentifier() string {
	return s.organizationID
}

func (s *PointToPointStrategy) Name() string {
	return s.endpoint
}

func (s *PointToPointStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.inbound)
	return nil
}
