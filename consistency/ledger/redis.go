package ledger

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v9"
	"github.com/google/uuid"

	"github.com/crossflow/crossflow/model"
)

// RedisLedger anchors hashes in a shared Redis instance. Each anchored
// hash gets its own transaction reference, so a reference resolves to a
// single-element log unless never written.
type RedisLedger struct {
	client    redis.UniversalClient
	namespace string
}

func NewRedisLedger(client redis.UniversalClient, namespace string) *RedisLedger {
	return &RedisLedger{client: client, namespace: namespace}
}

func (l *RedisLedger) key(reference string) string {
	return fmt.Sprintf("%s:ledger:%s", l.namespace, reference)
}

func (l *RedisLedger) StoreHash(ctx context.Context, hash string) (*model.Commitment, error) {
	reference := "0x" + uuid.NewString()
	if err := l.client.RPush(ctx, l.key(reference), hash).Err(); err != nil {
		return nil, err
	}
	return newCommitment(reference), nil
}

func (l *RedisLedger) TransactionLogs(ctx context.Context, reference string) ([]string, error) {
	hashes, err := l.client.LRange(ctx, l.key(reference), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// Close is a no-op, the client's lifecycle belongs to the caller.
func (l *RedisLedger) Close() error {
	return nil
}
