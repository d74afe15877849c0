package consistency

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Strategy turns a local message into a durable, commitment-bearing
// broadcast and exposes the inbound stream of messages from all
// participants, the local one included. Implementations differ in
// durability and integrity guarantees.
type Strategy interface {
	// Dispatch broadcasts one message. The message gains a commitment and is
	// fed back into the strategy's own inbound stream exactly once. A failed
	// broadcast to any peer yields StatusNOK but never suppresses the local
	// self-delivery.
	Dispatch(ctx context.Context, msg Message) (Status, error)

	// Inbound emits every message received from any participant from the
	// point of subscription onward. The stream is not restartable.
	Inbound() <-chan Message

	// Status is healthy only if all configured peers respond.
	Status(ctx context.Context) Status

	// OrganizationIdentifier returns the stable identity this strategy uses
	// to tag outbound traffic.
	OrganizationIdentifier() string

	// Name is the strategy identifier used on the wire endpoint.
	Name() string

	Close() error
}

// Receiver is implemented by strategies whose peers deliver messages over
// the node's HTTP surface.
type Receiver interface {
	Receive(msg Message)
}

// PeerProvider yields the current set of counterpart base URLs. Static
// configuration and gossip membership both implement it.
type PeerProvider interface {
	PeerURLs() []string
}

// StaticPeers is a fixed peer list from configuration.
type StaticPeers []string

func (p StaticPeers) PeerURLs() []string {
	return p
}

// randomReference synthesizes an opaque commitment token for strategies
// without a real durability substrate.
func randomReference() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf)
}
