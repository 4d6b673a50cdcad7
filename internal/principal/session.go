// Package principal resolves the authenticated caller for each request from
// sessions written by the upstream login layer.
package principal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/tenantguard/internal/authz"
)

var (
	// ErrSessionNotFound indicates an unknown or expired session id.
	ErrSessionNotFound = errors.New("principal: session not found")
	// ErrInvalidPrincipal indicates a principal that cannot be stored.
	ErrInvalidPrincipal = errors.New("principal: invalid principal")
)

// SessionStore maps opaque session ids to principals in Redis.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

type sessionPayload struct {
	ID       string  `json:"id"`
	Role     string  `json:"role"`
	TenantID *string `json:"tenant_id,omitempty"`
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl}
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create stores p under a fresh session id.
func (s *SessionStore) Create(ctx context.Context, p authz.Principal) (string, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return "", fmt.Errorf("%w: id required", ErrInvalidPrincipal)
	}
	role, err := authz.ParseRole(string(p.Role))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}
	payload := sessionPayload{ID: id, Role: string(role)}
	if p.TenantID != nil && strings.TrimSpace(*p.TenantID) != "" {
		payload.TenantID = authz.TenantRef(strings.TrimSpace(*p.TenantID))
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sessionID := uuid.NewString()
	if err := s.client.Set(ctx, redisKey(sessionID), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("principal: store session: %w", err)
	}
	return sessionID, nil
}

// Load returns the principal bound to sessionID.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*authz.Principal, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	data, err := s.client.Get(ctx, redisKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("principal: load session: %w", err)
	}
	var stored sessionPayload
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("principal: decode session: %w", err)
	}
	if stored.ID == "" || stored.Role == "" {
		return nil, ErrSessionNotFound
	}
	return &authz.Principal{ID: stored.ID, Role: authz.Role(stored.Role), TenantID: stored.TenantID}, nil
}

// Revoke deletes the session. Revoking an unknown session is not an error.
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, redisKey(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("principal: revoke session: %w", err)
	}
	return nil
}

func redisKey(id string) string {
	return "session:" + id
}
