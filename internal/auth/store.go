package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	statePrefix      = "oauth:state:"
)

// SessionStore keeps sessions in redis under their opaque token, expiring
// with the key TTL so no sweeper is needed.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore wraps the redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// NewToken returns a 256-bit random opaque token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Put stores the session until its expiry.
func (s *SessionStore) Put(ctx context.Context, sess Session, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("auth: encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("auth: store session: %w", err)
	}
	return nil
}

// Get loads a session by token. Missing or expired keys surface as
// ErrNoSession.
func (s *SessionStore) Get(ctx context.Context, token string) (*Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("auth: decode session: %w", err)
	}
	sess.Token = token
	return &sess, nil
}

// Delete revokes a session. Deleting an unknown token is a no-op.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

// PutState records an oauth state id for single-use redemption.
func (s *SessionStore) PutState(ctx context.Context, id string, ttl time.Duration) error {
	if err := s.client.Set(ctx, statePrefix+id, "1", ttl).Err(); err != nil {
		return fmt.Errorf("auth: store oauth state: %w", err)
	}
	return nil
}

// TakeState consumes an oauth state id. It succeeds exactly once per id.
func (s *SessionStore) TakeState(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, statePrefix+id).Result()
	if err != nil {
		return fmt.Errorf("auth: take oauth state: %w", err)
	}
	if n == 0 {
		return ErrBadState
	}
	return nil
}
