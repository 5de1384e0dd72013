// Package backend defines the uniform CRUD surface both backend clients
// expose to the arbiter. Backend A is the legacy spreadsheet-backed service,
// Backend B the new REST service; the arbiter never sees their wire formats.
package backend

import "context"

// Record is the canonical shape of a business entity on the wire.
// The "id" field holds the backend record identifier.
type Record map[string]interface{}

// ID returns the record identifier, or "" when unset
func (r Record) ID() string {
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

// Query holds list filtering options
type Query struct {
	Filter map[string]string
	Limit  int
}

// Client is implemented by both backend clients. Constructing a client has
// no global side effects, so several components may hold their own instance.
type Client interface {
	// Name identifies the backend: "A" or "B"
	Name() string

	// Ping is the lightweight reachability probe used by the
	// connectivity monitor and the arbiter
	Ping(ctx context.Context) error

	List(ctx context.Context, entityType string, q Query) ([]Record, error)
	Get(ctx context.Context, entityType, id string) (Record, error)
	Create(ctx context.Context, entityType string, payload Record) (Record, error)
	Update(ctx context.Context, entityType, id string, payload Record) (Record, error)
	Delete(ctx context.Context, entityType, id string) error
}
