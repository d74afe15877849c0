package replicatedlog

import (
	"context"
	"strings"
	"sync"

	"github.com/crossflow/crossflow/logger"
)

// MemoryHub is an in-process replicated log shared by every connector
// created from it. It stands in for the networked substrate in tests
// and single-binary demos of multi-organization topologies.
type MemoryHub struct {
	mu          sync.Mutex
	logs        map[string][][]byte
	subscribers map[int]*memorySubscription
	nextSub     int
}

type memorySubscription struct {
	prefix string
	ch     chan Entry
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		logs:        make(map[string][][]byte),
		subscribers: make(map[int]*memorySubscription),
	}
}

// Connect returns a connector bound to this hub. Every connector sees
// appends from every other connector.
func (h *MemoryHub) Connect() *MemoryConnector {
	return &MemoryConnector{hub: h}
}

func (h *MemoryHub) append(scope string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	record := make([]byte, len(data))
	copy(record, data)
	h.logs[scope] = append(h.logs[scope], record)

	// Fan-out under the lock so a concurrent cancel can never race a send
	// against the channel close.
	for _, sub := range h.subscribers {
		if !strings.HasPrefix(scope, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- Entry{Scope: scope, Data: record}:
		default:
			logger.Warn("memory hub dropped entry, subscriber channel full")
		}
	}
}

func (h *MemoryHub) subscribe(prefix string) (int, chan Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	sub := &memorySubscription{prefix: prefix, ch: make(chan Entry, 1024)}
	h.subscribers[id] = sub
	return id, sub.ch
}

func (h *MemoryHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(sub.ch)
	}
}

// Entries returns a copy of everything appended to a scope so far.
func (h *MemoryHub) Entries(scope string) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([][]byte, len(h.logs[scope]))
	copy(entries, h.logs[scope])
	return entries
}

// MemoryConnector is one node's handle onto a MemoryHub.
type MemoryConnector struct {
	hub *MemoryHub

	mu     sync.Mutex
	subIDs []int
	closed bool
}

func (c *MemoryConnector) Append(ctx context.Context, scope string, data []byte) error {
	c.hub.append(scope, data)
	return nil
}

func (c *MemoryConnector) Subscribe(ctx context.Context, prefix string) (<-chan Entry, func(), error) {
	id, ch := c.hub.subscribe(prefix)
	c.mu.Lock()
	c.subIDs = append(c.subIDs, id)
	c.mu.Unlock()
	cancel := func() { c.hub.unsubscribe(id) }
	return ch, cancel, nil
}

func (c *MemoryConnector) Release(scope string) {}

func (c *MemoryConnector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ids := c.subIDs
	c.subIDs = nil
	c.mu.Unlock()

	for _, id := range ids {
		c.hub.unsubscribe(id)
	}
	return nil
}
