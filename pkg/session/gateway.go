package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"runsheet/pkg/llm"
	"runsheet/pkg/logx"
)

// Gateway wraps a Store with conversation (de)serialization and lazy
// connection handling. The first operation triggers a single connect
// attempt; if that fails the gateway stays unavailable for its lifetime
// and every operation degrades to the empty result.
type Gateway struct {
	store  Store
	ttl    time.Duration
	logger *logx.Logger

	connectOnce sync.Once
	available   bool
}

// NewGateway creates a gateway over the given store. A non-positive ttl
// falls back to DefaultTTL.
func NewGateway(store Store, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gateway{
		store:  store,
		ttl:    ttl,
		logger: logx.NewLogger("session"),
	}
}

// ensureConnected performs the one-shot connect. Returns whether the
// store is usable.
func (g *Gateway) ensureConnected(ctx context.Context) bool {
	g.connectOnce.Do(func() {
		if err := g.store.Connect(ctx); err != nil {
			g.logger.Error("session store connect failed, continuing without persistence: %v", err)
			return
		}
		g.available = true
	})
	return g.available
}

// Available reports whether the backing store is usable. Triggers the
// initial connect if it has not happened yet.
func (g *Gateway) Available(ctx context.Context) bool {
	return g.ensureConnected(ctx)
}

// Load retrieves the conversation for a session. Missing sessions and
// store failures both yield an empty conversation; failures are logged
// and reported through the second return so callers can surface a
// degraded-service notice.
func (g *Gateway) Load(ctx context.Context, sessionID string) (*Conversation, error) {
	empty := &Conversation{SessionID: sessionID}
	if !g.ensureConnected(ctx) {
		return empty, ErrUnavailable
	}

	data, found, err := g.store.Get(ctx, sessionID)
	if err != nil {
		g.logger.Warn("failed to load session %s: %v", sessionID, err)
		return empty, err
	}
	if !found {
		return empty, nil
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		g.logger.Warn("corrupt session data for %s, starting fresh: %v", sessionID, err)
		return empty, nil
	}
	conv.SessionID = sessionID
	return &conv, nil
}

// Save persists the conversation under its session id.
func (g *Gateway) Save(ctx context.Context, sessionID string, messages []llm.Message) error {
	if !g.ensureConnected(ctx) {
		return ErrUnavailable
	}

	conv := Conversation{
		SessionID:    sessionID,
		Messages:     messages,
		UpdatedAt:    time.Now().UTC(),
		MessageCount: len(messages),
	}
	data, err := json.Marshal(&conv)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sessionID, err)
	}
	if err := g.store.Set(ctx, sessionID, data, g.ttl); err != nil {
		g.logger.Warn("failed to save session %s: %v", sessionID, err)
		return err
	}
	return nil
}

// Clear removes the conversation for a session. Clearing an absent
// session succeeds.
func (g *Gateway) Clear(ctx context.Context, sessionID string) error {
	if !g.ensureConnected(ctx) {
		return ErrUnavailable
	}
	if err := g.store.Delete(ctx, sessionID); err != nil {
		g.logger.Warn("failed to clear session %s: %v", sessionID, err)
		return err
	}
	return nil
}

// RefreshTTL extends a session's lifetime without rewriting its data.
// Returns false when the session does not exist.
func (g *Gateway) RefreshTTL(ctx context.Context, sessionID string) (bool, error) {
	if !g.ensureConnected(ctx) {
		return false, ErrUnavailable
	}
	return g.store.RefreshTTL(ctx, sessionID, g.ttl)
}

// HealthCheck reports whether the session store is reachable.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	if !g.ensureConnected(ctx) {
		return false
	}
	return g.store.HealthCheck(ctx)
}

// Close releases the backing store.
func (g *Gateway) Close() error {
	if !g.available {
		return nil
	}
	return g.store.Disconnect()
}
