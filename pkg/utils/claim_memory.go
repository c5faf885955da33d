package utils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClaimer is the in-process counterpart of Claimer for tests and single-replica runs.
type MemoryClaimer struct {
	mu   sync.Mutex
	held map[string]memoryClaim
	now  func() time.Time
}

type memoryClaim struct {
	token   string
	expires time.Time
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{held: map[string]memoryClaim{}, now: time.Now}
}

func (c *MemoryClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, func(context.Context) error, error) {
	if key == "" {
		return false, nil, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return false, nil, fmt.Errorf("ttl must be > 0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if cur, ok := c.held[key]; ok && now.Before(cur.expires) {
		return false, nil, nil
	}
	token := uuid.NewString()
	c.held[key] = memoryClaim{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.held[key]; ok && cur.token == token {
			delete(c.held, key)
		}
		return nil
	}
	return true, release, nil
}

// Held reports whether key is currently claimed.
func (c *MemoryClaimer) Held(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.held[key]
	return ok && c.now().Before(cur.expires)
}
