package sessions

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/versionmanager/pkg/auth"
)

// DefaultMemorySize bounds the in-memory session count
const DefaultMemorySize = 10000

// MemoryStore keeps sessions in process. Sessions do not survive a restart
// and are not shared between replicas.
type MemoryStore struct {
	cache *expirable.LRU[string, string]
}

// NewMemoryStore creates a MemoryStore
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (s *MemoryStore) Create(_ context.Context, email string) (string, error) {
	token, err := auth.GenerateToken()
	if err != nil {
		return "", err
	}
	s.cache.Add(auth.HashToken(token), email)
	return token, nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNotFound
	}
	email, ok := s.cache.Get(auth.HashToken(token))
	if !ok {
		return "", ErrNotFound
	}
	return email, nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.cache.Remove(auth.HashToken(token))
	return nil
}
