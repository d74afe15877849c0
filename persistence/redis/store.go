// Package redis implements the event store on Redis Streams. Every entity
// stream is one Redis stream; live subscriptions fan out over a pub/sub
// channel that every append publishes to.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"

	"github.com/crossflow/crossflow/logger"
	"github.com/crossflow/crossflow/persistence"
	"go.uber.org/zap"
)

var _ persistence.EventStore = new(Store)

type Config struct {
	Addrs     []string
	Namespace string
}

type Store struct {
	client     rd.UniversalClient
	namespace  string
	ownsClient bool
}

func NewStore(conf Config) *Store {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs: conf.Addrs,
	})
	return &Store{client: client, namespace: conf.Namespace, ownsClient: true}
}

// NewStoreWithClient wraps an existing client whose lifecycle the caller
// manages.
func NewStoreWithClient(client rd.UniversalClient, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) streamKey(stream string) string {
	return fmt.Sprintf("%s:stream:%s", s.namespace, stream)
}

func (s *Store) registryKey() string {
	return fmt.Sprintf("%s:streams", s.namespace)
}

func (s *Store) channel() string {
	return fmt.Sprintf("%s:events", s.namespace)
}

func (s *Store) Append(ctx context.Context, stream string, event persistence.Event) error {
	err := s.client.XAdd(ctx, &rd.XAddArgs{
		Stream: s.streamKey(stream),
		Values: map[string]any{
			"type":      string(event.Type),
			"data":      string(event.Data),
			"createdAt": event.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := s.client.SAdd(ctx, s.registryKey(), stream).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	payload, err := json.Marshal(persistence.StreamEvent{Stream: stream, Event: event})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Store) Read(ctx context.Context, stream string) ([]persistence.Event, error) {
	key := s.streamKey(stream)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if exists == 0 {
		return nil, persistence.StreamNotFoundError{Stream: stream}
	}
	messages, err := s.client.XRange(ctx, key, "-", "+").Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	events := make([]persistence.Event, 0, len(messages))
	for _, msg := range messages {
		event, err := decodeEvent(msg.Values)
		if err != nil {
			logger.Warn("skipping undecodable event", zap.String("stream", stream), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *Store) Streams(ctx context.Context, prefix string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var streams []string
	for _, name := range members {
		if strings.HasPrefix(name, prefix) {
			streams = append(streams, name)
		}
	}
	return streams, nil
}

func (s *Store) SubscribeFromNow(ctx context.Context) (<-chan persistence.StreamEvent, func(), error) {
	sub := s.client.Subscribe(ctx, s.channel())
	// force the subscription to be established before we return, so no
	// event appended after this call is missed
	if _, err := sub.Receive(ctx); err != nil {
		return nil, nil, persistence.StorageLayerError{Message: err.Error()}
	}

	out := make(chan persistence.StreamEvent, 1024)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var se persistence.StreamEvent
			if err := json.Unmarshal([]byte(msg.Payload), &se); err != nil {
				logger.Warn("skipping undecodable subscription payload", zap.Error(err))
				continue
			}
			out <- se
		}
	}()
	cancel := func() {
		_ = sub.Close()
	}
	return out, cancel, nil
}

func (s *Store) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func decodeEvent(values map[string]any) (persistence.Event, error) {
	eventType, _ := values["type"].(string)
	data, _ := values["data"].(string)
	createdAt, _ := values["createdAt"].(string)
	if eventType == "" {
		return persistence.Event{}, fmt.Errorf("event without type")
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return persistence.Event{}, fmt.Errorf("bad createdAt %q: %w", createdAt, err)
	}
	return persistence.Event{
		Type:      persistence.EventType(eventType),
		Data:      json.RawMessage(data),
		CreatedAt: ts,
	}, nil
}
