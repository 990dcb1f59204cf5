package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TokenStore keeps the ids of live refresh tokens.
type TokenStore interface {
	SetRefreshToken(ctx context.Context, userID, tokenID string, expiresIn time.Duration) error
	// DeleteRefreshToken fails with an Authorization error when the token is unknown.
	DeleteRefreshToken(ctx context.Context, userID, tokenID string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
}

func tokenKey(userID, tokenID string) string {
	return fmt.Sprintf("%s:%s", userID, tokenID)
}

// RedisStore stores refresh tokens as userID:tokenID keys with a TTL
type RedisStore struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisStore(client *redis.Client, log *logrus.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

func (s *RedisStore) SetRefreshToken(ctx context.Context, userID, tokenID string, expiresIn time.Duration) error {
	if err := s.client.Set(ctx, tokenKey(userID, tokenID), 0, expiresIn).Err(); err != nil {
		s.log.Errorf("Could not SET refresh token for user/token %s/%s: %v", userID, tokenID, err)
		return apperrors.NewInternal()
	}
	return nil
}

func (s *RedisStore) DeleteRefreshToken(ctx context.Context, userID, tokenID string) error {
	result := s.client.Del(ctx, tokenKey(userID, tokenID))
	if err := result.Err(); err != nil {
		s.log.Errorf("Could not delete refresh token for user/token %s/%s: %v", userID, tokenID, err)
		return apperrors.NewInternal()
	}
	if result.Val() < 1 {
		s.log.Warnf("Refresh token for user/token %s/%s does not exist", userID, tokenID)
		return apperrors.NewAuthorization("Invalid refresh token")
	}
	return nil
}

// DeleteUserRefreshTokens scans for every key of the user and deletes it
func (s *RedisStore) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	iter := s.client.Scan(ctx, 0, tokenKey(userID, "*"), 50).Iterator()
	failed := 0
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.log.Errorf("Failed to delete refresh token %s: %v", iter.Val(), err)
			failed++
		}
	}
	if err := iter.Err(); err != nil {
		s.log.Errorf("Failed to scan refresh tokens of user %s: %v", userID, err)
		return apperrors.NewInternal()
	}
	if failed > 0 {
		return apperrors.NewInternal()
	}
	return nil
}

// MemoryStore is a TokenStore for single-instance deployments and tests
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) SetRefreshToken(_ context.Context, userID, tokenID string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(userID, tokenID)] = s.now().Add(expiresIn)
	return nil
}

func (s *MemoryStore) DeleteRefreshToken(_ context.Context, userID, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey(userID, tokenID)
	expiresAt, ok := s.tokens[key]
	delete(s.tokens, key)
	if !ok || !s.now().Before(expiresAt) {
		return apperrors.NewAuthorization("Invalid refresh token")
	}
	return nil
}

func (s *MemoryStore) DeleteUserRefreshTokens(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := userID + ":"
	for key := range s.tokens {
		if strings.HasPrefix(key, prefix) {
			delete(s.tokens, key)
		}
	}
	return nil
}
