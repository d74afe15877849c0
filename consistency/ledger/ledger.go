// Package ledger abstracts the append-only anchor store used by the
// ledger-anchored consistency strategies. A ledger stores message hashes
// under opaque transaction references and lets verifiers read back every
// hash recorded for a reference.
package ledger

import (
	"context"
	"time"

	"github.com/crossflow/crossflow/model"
)

type Ledger interface {
	// StoreHash anchors a canonical message hash and returns the commitment
	// that proves it.
	StoreHash(ctx context.Context, hash string) (*model.Commitment, error)

	// TransactionLogs returns every hash recorded under the given
	// commitment reference, empty if the reference is unknown.
	TransactionLogs(ctx context.Context, reference string) ([]string, error)

	Close() error
}

func newCommitment(reference string) *model.Commitment {
	return &model.Commitment{
		Reference: reference,
		Timestamp: time.Now().UTC(),
	}
}
