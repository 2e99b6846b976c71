// Package session provides external conversation persistence: a key-value
// store contract with TTL and a gateway that (de)serializes conversation
// turns on top of it.
package session

import (
	"context"
	"errors"
	"time"

	"runsheet/pkg/llm"
)

// DefaultTTL is the default session lifetime.
const DefaultTTL = 24 * time.Hour

// ErrUnavailable is returned when the backing store could not be reached.
// Callers degrade gracefully on it: a chat request proceeds without
// persistence rather than failing.
var ErrUnavailable = errors.New("session store unavailable")

// Store is the contract for the external key-value session store. Values
// are opaque serialized blobs with a per-key TTL applied by the store.
type Store interface {
	// Connect establishes the store connection. Must be called before any
	// other method.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Safe to call when not connected.
	Disconnect() error

	// Get retrieves the blob for a session id. The second return is false
	// when the session does not exist or has expired.
	Get(ctx context.Context, sessionID string) ([]byte, bool, error)

	// Set stores the blob, replacing any previous value, with the given
	// TTL. A non-positive ttl means DefaultTTL.
	Set(ctx context.Context, sessionID string, data []byte, ttl time.Duration) error

	// Delete removes a session. Deleting an absent id is a no-op success.
	Delete(ctx context.Context, sessionID string) error

	// RefreshTTL extends the lifetime of an existing session without
	// rewriting its data. Returns false when the session does not exist.
	RefreshTTL(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)

	// HealthCheck reports store connectivity. It never returns an error;
	// connectivity failures resolve to false.
	HealthCheck(ctx context.Context) bool
}

// Conversation is the unit of persistence: one session's ordered turns.
type Conversation struct {
	SessionID    string        `json:"session_id"`
	Messages     []llm.Message `json:"messages"`
	UpdatedAt    time.Time     `json:"updated_at"`
	MessageCount int           `json:"message_count"`
}
