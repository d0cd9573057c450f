package auth

import (
	"sync"
	"time"
)

// nonceCache remembers spent challenge nonces until their challenge
// expires, so a signed challenge logs in at most once per process.
type nonceCache struct {
	mu        sync.Mutex
	spent     map[string]time.Time
	lastPurge time.Time
}

func newNonceCache() *nonceCache {
	return &nonceCache{spent: make(map[string]time.Time)}
}

// spend records nonce and reports whether it was already spent.
func (c *nonceCache) spend(nonce string, expires, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastPurge) > time.Minute {
		for n, exp := range c.spent {
			if !now.Before(exp) {
				delete(c.spent, n)
			}
		}
		c.lastPurge = now
	}
	if exp, ok := c.spent[nonce]; ok && now.Before(exp) {
		return true
	}
	c.spent[nonce] = expires
	return false
}

func (c *nonceCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spent)
}
