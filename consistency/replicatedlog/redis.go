package replicatedlog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v9"

	"github.com/crossflow/crossflow/logger"
)

// RedisConnector backs the replicated log with a shared Redis
// deployment. Appends land in a stream per scope for durability and are
// fanned out over pub/sub, subscriptions use channel patterns so a
// single prefix covers every workflow of an organization.
type RedisConnector struct {
	client    redis.UniversalClient
	namespace string

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

func NewRedisConnector(client redis.UniversalClient, namespace string) *RedisConnector {
	return &RedisConnector{client: client, namespace: namespace}
}

func (c *RedisConnector) streamKey(scope string) string {
	return fmt.Sprintf("%s:replog:%s", c.namespace, scope)
}

func (c *RedisConnector) channel(scope string) string {
	return fmt.Sprintf("%s:replog-events:%s", c.namespace, scope)
}

func (c *RedisConnector) Append(ctx context.Context, scope string, data []byte) error {
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamKey(scope),
		Values: map[string]interface{}{"data": data},
	}).Err()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.channel(scope), data).Err()
}

func (c *RedisConnector) Subscribe(ctx context.Context, prefix string) (<-chan Entry, func(), error) {
	sub := c.client.PSubscribe(ctx, c.channel(prefix)+"*")
	if _, err := sub.Receive(ctx); err != nil {
		return nil, nil, err
	}

	out := make(chan Entry, 256)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				logger.Warn("closing replicated log subscription failed")
			}
		})
	}

	channelPrefix := fmt.Sprintf("%s:replog-events:", c.namespace)
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				scope := strings.TrimPrefix(msg.Channel, channelPrefix)
				select {
				case out <- Entry{Scope: scope, Data: []byte(msg.Payload)}:
				case <-done:
					return
				}
			}
		}
	}()

	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()
	return out, cancel, nil
}

func (c *RedisConnector) Release(scope string) {
	// Streams stay in Redis for auditability, nothing to free per scope.
}

func (c *RedisConnector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	// the client's lifecycle belongs to the caller
	return nil
}
