// Package memory provides an in-process event store. It backs tests and the
// single-node development setup; durability is limited to the lifetime of
// the process.
package memory

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/persistence"
)

var _ persistence.EventStore = new(Store)

type Store struct {
	mu          sync.Mutex
	streams     map[string][]persistence.Event
	order       []string
	subscribers map[int]chan persistence.StreamEvent
	nextSub     int
}

func NewStore() *Store {
	return &Store{
		streams:     make(map[string][]persistence.Event),
		subscribers: make(map[int]chan persistence.StreamEvent),
	}
}

func (s *Store) Append(ctx context.Context, stream string, event persistence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[stream]; !ok {
		s.order = append(s.order, stream)
	}
	s.streams[stream] = append(s.streams[stream], event)
	// fan-out happens under the lock so a concurrent cancel can never race
	// a send against the channel close. A subscriber that stopped draining
	// loses events instead of wedging the store.
	for _, ch := range s.subscribers {
		select {
		case ch <- persistence.StreamEvent{Stream: stream, Event: event}:
		default:
			logger.Warn("memory store dropped event, subscriber not draining",
				zap.String("stream", stream), zap.String("type", string(event.Type)))
		}
	}
	return nil
}

func (s *Store) Read(ctx context.Context, stream string) ([]persistence.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, ok := s.streams[stream]
	if !ok {
		return nil, persistence.StreamNotFoundError{Stream: stream}
	}
	out := make([]persistence.Event, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) Streams(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var streams []string
	for _, name := range s.order {
		if strings.HasPrefix(name, prefix) {
			streams = append(streams, name)
		}
	}
	return streams, nil
}

func (s *Store) SubscribeFromNow(ctx context.Context) (<-chan persistence.StreamEvent, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan persistence.StreamEvent, 1024)
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	return nil
}
