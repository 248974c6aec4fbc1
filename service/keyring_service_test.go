package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggawoos-bot/chat5M/repository"
)

var testKeys = []string{
	"AIzaTestKeyAAAA00000001",
	"AIzaTestKeyBBBB00000002",
}

func newTestKeyring(t *testing.T, keys []string, maxPerDay int) *KeyringService {
	t.Helper()
	rpd, err := repository.NewRpdRepository(
		filepath.Join(t.TempDir(), "rpd.db"), KeySpecs(keys, maxPerDay))
	require.NoError(t, err)
	t.Cleanup(func() { rpd.Close() })
	return NewKeyringService(keys, rpd)
}

func TestNextKeyRotatesRoundRobin(t *testing.T) {
	ctx := context.Background()
	keyring := newTestKeyring(t, testKeys, 100)

	var issued []string
	for i := 0; i < 4; i++ {
		key, err := keyring.NextKey(ctx)
		require.NoError(t, err)
		issued = append(issued, key.ID)
	}

	assert.Equal(t, []string{"key1", "key2", "key1", "key2"}, issued)
}

func TestNextKeyNoCredentials(t *testing.T) {
	keyring := newTestKeyring(t, nil, 100)

	_, err := keyring.NextKey(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestNextKeySkipsMalformedKeys(t *testing.T) {
	ctx := context.Background()
	keys := []string{"not-a-real-key", testKeys[1]}
	keyring := newTestKeyring(t, keys, 100)

	for i := 0; i < 3; i++ {
		issued, err := keyring.NextKey(ctx)
		require.NoError(t, err)
		assert.Equal(t, "key2", issued.ID)
	}
}

func TestNextKeySkipsExhaustedKeys(t *testing.T) {
	ctx := context.Background()
	keyring := newTestKeyring(t, testKeys, 1)

	first, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	ok, err := keyring.RecordUsage(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	// key1 is out of quota, rotation lands on key2 twice in a row
	second, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key2", second.ID)
	ok, err = keyring.RecordUsage(ctx, second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = keyring.NextKey(ctx)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestRecordFailureQuotaErrorDeactivatesKey(t *testing.T) {
	ctx := context.Background()
	keyring := newTestKeyring(t, testKeys, 100)

	issued, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "key1", issued.ID)

	keyring.RecordFailure(ctx, issued, errors.New("RESOURCE_EXHAUSTED: quota exceeded"))

	for i := 0; i < 3; i++ {
		next, err := keyring.NextKey(ctx)
		require.NoError(t, err)
		assert.Equal(t, "key2", next.ID)
	}

	stats, err := keyring.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Keys[0].IsActive)
}

func TestRecordFailureAuthErrorFailsKeyOut(t *testing.T) {
	ctx := context.Background()
	keyring := newTestKeyring(t, testKeys, 100)

	issued, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "key1", issued.ID)

	// One auth failure takes the key out; transient errors need three
	keyring.RecordFailure(ctx, issued, errors.New("API key not valid"))

	next, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key2", next.ID)
	next, err = keyring.NextKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key2", next.ID)
}

func TestNextKeyResetsWhenAllKeysFailed(t *testing.T) {
	ctx := context.Background()
	keyring := newTestKeyring(t, testKeys, 100)

	for i := 0; i < maxKeyFailures; i++ {
		for _, id := range []string{"key1", "key2"} {
			keyring.RecordFailure(ctx, IssuedKey{ID: id}, errors.New("UNAVAILABLE"))
		}
	}

	// Every key is failed out, so the counters reset and issuing resumes
	issued, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key1", issued.ID)
}

func TestRecordUsageClearsFailureStreak(t *testing.T) {
	ctx := context.Background()
	keyring := newTestKeyring(t, testKeys, 100)

	issued, err := keyring.NextKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "key1", issued.ID)

	keyring.RecordFailure(ctx, issued, errors.New("UNAVAILABLE"))
	keyring.RecordFailure(ctx, issued, errors.New("UNAVAILABLE"))

	ok, err := keyring.RecordUsage(ctx, issued)
	require.NoError(t, err)
	require.True(t, ok)

	keyring.RecordFailure(ctx, issued, errors.New("UNAVAILABLE"))
	keyring.RecordFailure(ctx, issued, errors.New("UNAVAILABLE"))

	// Two failures after the reset are below the threshold
	var saw []string
	for i := 0; i < 4; i++ {
		next, err := keyring.NextKey(ctx)
		require.NoError(t, err)
		saw = append(saw, next.ID)
	}
	assert.Contains(t, saw, "key1")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "AIza****0001", MaskKey("AIzaTestKeyA0001"))
	assert.Equal(t, "****", MaskKey("short"))
}
