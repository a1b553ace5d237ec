// forumd/models/services.go
package models

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time
	every    time.Duration
	burst    int
	expire   time.Duration
}

// PendingSecretStore holds freshly generated two-factor secrets until the
// member confirms them with a valid code.
type PendingSecretStore struct {
	Mu      sync.Mutex
	Secrets map[int64]pendingSecret
	ttl     time.Duration
}

type pendingSecret struct {
	secret  string
	expires time.Time
}

// --- Rate Limiter Methods ---

// NewRateLimiter creates and starts a new rate limiter.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
	}
	go rl.cleanup(prune)
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a key such as an IP or member id.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// Allow is shorthand for GetLimiter(key).Allow().
func (rl *RateLimiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// cleanup periodically removes old entries from the rate limiter maps.
func (rl *RateLimiter) cleanup(every time.Duration) {
	for range time.Tick(every) {
		rl.prune(time.Now().Add(-rl.expire))
	}
}

func (rl *RateLimiter) prune(cutoff time.Time) {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	for key, lastSeen := range rl.LastSeen {
		if lastSeen.Before(cutoff) {
			delete(rl.Limiters, key)
			delete(rl.LastSeen, key)
		}
	}
}

// --- Pending Secret Methods ---

func NewPendingSecretStore(ttl time.Duration) *PendingSecretStore {
	return &PendingSecretStore{Secrets: make(map[int64]pendingSecret), ttl: ttl}
}

// Put stores secret for a member, replacing any earlier pending secret.
func (ps *PendingSecretStore) Put(memberID int64, secret string) {
	ps.Mu.Lock()
	defer ps.Mu.Unlock()
	ps.Secrets[memberID] = pendingSecret{secret: secret, expires: time.Now().Add(ps.ttl)}
}

// Get returns the unexpired pending secret for a member.
func (ps *PendingSecretStore) Get(memberID int64) (string, bool) {
	ps.Mu.Lock()
	defer ps.Mu.Unlock()
	p, ok := ps.Secrets[memberID]
	if !ok {
		return "", false
	}
	if time.Now().After(p.expires) {
		delete(ps.Secrets, memberID)
		return "", false
	}
	return p.secret, true
}

// Take returns and removes the pending secret, so it can be confirmed once.
func (ps *PendingSecretStore) Take(memberID int64) (string, bool) {
	ps.Mu.Lock()
	defer ps.Mu.Unlock()
	p, ok := ps.Secrets[memberID]
	if !ok {
		return "", false
	}
	delete(ps.Secrets, memberID)
	if time.Now().After(p.expires) {
		return "", false
	}
	return p.secret, true
}
