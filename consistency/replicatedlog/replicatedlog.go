// Package replicatedlog provides the append-only log substrate behind
// the replicated-log consistency strategy. Messages are appended to
// named scopes, one scope per organization and workflow, optionally
// narrowed down to a single workflow instance. Subscribers observe
// entries across every scope matching a prefix from the moment of
// subscription onward.
package replicatedlog

import (
	"context"
	"strings"
)

// ScopePrefix is the leading path segment of every log scope.
const ScopePrefix = "external-events"

// Scope builds the log scope for an organization and workflow, narrowed
// to an instance when instanceID is set.
func Scope(organizationID, workflowID, instanceID string) string {
	scope := ScopePrefix + "/" + organizationID + "/" + workflowID
	if instanceID != "" {
		scope += "/" + instanceID
	}
	return scope
}

// ScopeOrganization extracts the organization segment of a scope, empty
// if the scope is malformed.
func ScopeOrganization(scope string) string {
	parts := strings.Split(scope, "/")
	if len(parts) < 3 || parts[0] != ScopePrefix {
		return ""
	}
	return parts[1]
}

// Entry is one appended log record together with the scope it arrived on.
type Entry struct {
	Scope string
	Data  []byte
}

// Connector is the transport binding to an underlying replicated log.
type Connector interface {
	// Append writes one record to the given scope, creating the scope on
	// first use.
	Append(ctx context.Context, scope string, data []byte) error

	// Subscribe emits every entry appended to any scope with the given
	// prefix from now on. The returned cancel function ends the
	// subscription and closes the channel.
	Subscribe(ctx context.Context, prefix string) (<-chan Entry, func(), error)

	// Release signals that the caller no longer writes to the scope so the
	// connector may free any per-scope resources.
	Release(scope string)

	Close() error
}
