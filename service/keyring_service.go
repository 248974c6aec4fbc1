package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/repository"
)

var (
	// ErrNoCredentials means no API keys are configured at all
	ErrNoCredentials = errors.New("no api keys configured")

	// ErrNoCapacity means every configured key is out of daily quota
	ErrNoCapacity = errors.New("all api keys exhausted for today")
)

// maxKeyFailures is the consecutive failure count that takes a key out of
// rotation until the counters reset.
const maxKeyFailures = 3

// IssuedKey pairs a raw API key with its stable quota identifier
type IssuedKey struct {
	ID  string
	Key string
}

// KeyringService rotates across the configured Gemini API keys. Keys with
// repeated failures are skipped; when every key has failed the counters reset
// so a transient outage does not permanently drain the pool. Daily quota
// eligibility is checked against the RPD store on every issue.
type KeyringService struct {
	rpd *repository.RpdRepository

	mu       sync.Mutex
	keys     []string
	cursor   int
	failures []int
}

// NewKeyringService creates a keyring over the given keys in order
func NewKeyringService(keys []string, rpd *repository.RpdRepository) *KeyringService {
	return &KeyringService{
		rpd:      rpd,
		keys:     keys,
		failures: make([]int, len(keys)),
	}
}

// KeySpecs builds the quota registration rows for a set of keys
func KeySpecs(keys []string, maxPerDay int) []repository.KeySpec {
	specs := make([]repository.KeySpec, len(keys))
	for i, key := range keys {
		specs[i] = repository.KeySpec{
			ID:          keyID(i),
			Name:        fmt.Sprintf("API Key %d", i+1),
			MaskedValue: MaskKey(key),
			MaxPerDay:   maxPerDay,
		}
	}
	return specs
}

func keyID(index int) string {
	return fmt.Sprintf("key%d", index+1)
}

// MaskKey hides the middle of an API key for logs and status responses
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// isValidKeyFormat filters out placeholder and truncated keys before they
// ever reach the API.
func isValidKeyFormat(key string) bool {
	return strings.HasPrefix(key, "AIza") && len(key) >= 20
}

// NextKey issues the next usable key in round-robin order. Keys that are
// failed out, malformed, or over quota are skipped. When every key has
// failed out, the failure counters reset and selection runs once more, so
// only true quota exhaustion yields ErrNoCapacity.
func (s *KeyringService) NextKey(ctx context.Context) (IssuedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.keys) == 0 {
		return IssuedKey{}, ErrNoCredentials
	}

	for pass := 0; pass < 2; pass++ {
		issued, allFailed, err := s.pickLocked(ctx)
		if err == nil {
			return issued, nil
		}
		if !allFailed || pass == 1 {
			return IssuedKey{}, err
		}
		log.Printf("All %d API keys failed out, resetting failure counters", len(s.keys))
		for i := range s.failures {
			s.failures[i] = 0
		}
	}

	return IssuedKey{}, ErrNoCapacity
}

// pickLocked scans one full rotation from the cursor. allFailed reports that
// every key was skipped by its failure counter, which is the reset trigger.
func (s *KeyringService) pickLocked(ctx context.Context) (IssuedKey, bool, error) {
	skippedByFailure := 0
	for i := 0; i < len(s.keys); i++ {
		idx := (s.cursor + i) % len(s.keys)

		if s.failures[idx] >= maxKeyFailures {
			skippedByFailure++
			continue
		}
		if !isValidKeyFormat(s.keys[idx]) {
			log.Printf("Skipping malformed API key %s", keyID(idx))
			s.failures[idx] = maxKeyFailures
			skippedByFailure++
			continue
		}

		eligible, err := s.rpd.IsEligible(ctx, keyID(idx))
		if err != nil {
			return IssuedKey{}, false, err
		}
		if !eligible {
			continue
		}

		s.cursor = (idx + 1) % len(s.keys)
		return IssuedKey{ID: keyID(idx), Key: s.keys[idx]}, false, nil
	}

	return IssuedKey{}, skippedByFailure == len(s.keys), ErrNoCapacity
}

// RecordUsage counts one dispatched request against the key's daily quota.
// A successful dispatch also clears the key's failure streak. The returned
// flag is false when the key had no quota left, in which case the caller
// must not use the response.
func (s *KeyringService) RecordUsage(ctx context.Context, issued IssuedKey) (bool, error) {
	ok, err := s.rpd.RecordUsage(ctx, issued.ID)
	if err != nil {
		return false, err
	}
	if ok {
		s.mu.Lock()
		if idx := s.indexOfLocked(issued.ID); idx >= 0 {
			s.failures[idx] = 0
		}
		s.mu.Unlock()
	}
	return ok, nil
}

// RecordFailure marks the key after a failed API call. Quota errors
// deactivate the key in the RPD store until the next daily reset; auth
// errors fail the key out of rotation immediately.
func (s *KeyringService) RecordFailure(ctx context.Context, issued IssuedKey, cause error) {
	s.mu.Lock()
	if idx := s.indexOfLocked(issued.ID); idx >= 0 {
		if IsAuthFailure(cause) {
			s.failures[idx] = maxKeyFailures
		} else {
			s.failures[idx]++
		}
	}
	s.mu.Unlock()

	if IsQuotaExhausted(cause) {
		if err := s.rpd.Deactivate(ctx, issued.ID); err != nil {
			log.Printf("Failed to deactivate %s after quota error: %v", issued.ID, err)
		} else {
			log.Printf("Key %s deactivated until next daily reset", issued.ID)
		}
	}
}

// Stats returns the aggregate quota view for the status endpoint
func (s *KeyringService) Stats(ctx context.Context) (*models.RpdStats, error) {
	return s.rpd.Stats(ctx)
}

func (s *KeyringService) indexOfLocked(id string) int {
	for i := range s.keys {
		if keyID(i) == id {
			return i
		}
	}
	return -1
}
