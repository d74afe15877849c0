package consistency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize returns a key-order-independent JSON serialization of raw.
// The document is round-tripped through the generic object model; Go's JSON
// encoder writes map keys in sorted order, so two encodings of the same
// document always canonicalize identically.
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return json.Marshal(doc)
}

// CommitmentHash computes the canonical SHA-256 hash of a message's type and
// payload. The commitment itself is excluded so the hash can be computed
// before and verified after a commitment is attached.
func CommitmentHash(msg Message) (string, error) {
	stripped, err := json.Marshal(Message{Type: msg.Type, Payload: msg.Payload})
	if err != nil {
		return "", err
	}
	canonical, err := Canonicalize(stripped)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "0x" + hex.EncodeToString(sum[:]), nil
}
