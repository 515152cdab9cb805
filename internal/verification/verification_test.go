package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sealed_love_auth/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodeStore mimics the ephemeral store; expiry is simulated by
// deleting keys directly.
type fakeCodeStore struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: make(map[string]string)}
}

func (s *fakeCodeStore) GetCode(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	c, ok := s.codes[email]
	if !ok {
		return "", storage.ErrCodeNotFound
	}
	return c, nil
}

func (s *fakeCodeStore) SetCodeNX(_ context.Context, email, code string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.codes[email]; ok {
		return false, nil
	}
	s.codes[email] = code
	return true, nil
}

func (s *fakeCodeStore) ConsumeCode(_ context.Context, email, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.codes[email] != code || code == "" {
		return false, nil
	}
	delete(s.codes, email)
	return true, nil
}

func (s *fakeCodeStore) expire(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingGenerator(next *int, codes ...string) func() (string, error) {
	return func() (string, error) {
		c := codes[*next%len(codes)]
		*next++
		return c, nil
	}
}

func TestGetOrCreate_IdempotentWithinWindow(t *testing.T) {
	store := newFakeCodeStore()
	calls := 0
	m := New(discardLogger(), store, 10*time.Minute, countingGenerator(&calls, "482913", "111111"))

	first, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	second, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestGetOrCreate_RegeneratesAfterExpiry(t *testing.T) {
	store := newFakeCodeStore()
	calls := 0
	m := New(discardLogger(), store, 10*time.Minute, countingGenerator(&calls, "482913", "573021"))

	first, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	store.expire("a@example.com")

	second, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "a fresh generation must occur after expiry")
	assert.NotEqual(t, first, second)
}

func TestGetOrCreate_LosingRaceReturnsWinnerCode(t *testing.T) {
	store := newFakeCodeStore()
	calls := 0
	m := New(discardLogger(), store, 10*time.Minute, countingGenerator(&calls, "999999"))

	// Another instance stored a code between our read and write.
	gen := m.generate
	m.generate = func() (string, error) {
		store.codes["a@example.com"] = "123456"
		return gen()
	}

	got, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "123456", got)
}

func TestGetOrCreate_MixedCaseEmailSharesOneCode(t *testing.T) {
	store := newFakeCodeStore()
	calls := 0
	m := New(discardLogger(), store, 10*time.Minute, countingGenerator(&calls, "482913", "111111"))

	issued, err := m.GetOrCreate(context.Background(), "A@Example.com")
	require.NoError(t, err)

	same, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, issued, same)
	assert.Equal(t, 1, calls)

	ok, err := m.Consume(context.Background(), " A@EXAMPLE.COM ", issued)
	require.NoError(t, err)
	assert.True(t, ok, "a code issued under a mixed-case address must verify")
}

func TestGetOrCreate_StoreFailureIsHard(t *testing.T) {
	store := newFakeCodeStore()
	store.err = errors.New("connection refused")
	m := New(discardLogger(), store, 10*time.Minute, func() (string, error) { return "482913", nil })

	_, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.Error(t, err)
}

func TestConsume_SucceedsExactlyOnce(t *testing.T) {
	store := newFakeCodeStore()
	calls := 0
	m := New(discardLogger(), store, 10*time.Minute, countingGenerator(&calls, "482913"))

	c, err := m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	ok, err := m.Consume(context.Background(), "a@example.com", c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Consume(context.Background(), "a@example.com", c)
	require.NoError(t, err)
	assert.False(t, ok, "a consumed code must not validate again")
}

func TestConsume_WrongOrMissingCodeIndistinguishable(t *testing.T) {
	store := newFakeCodeStore()
	calls := 0
	m := New(discardLogger(), store, 10*time.Minute, countingGenerator(&calls, "482913"))

	ok, err := m.Consume(context.Background(), "nobody@example.com", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.GetOrCreate(context.Background(), "a@example.com")
	require.NoError(t, err)

	ok, err = m.Consume(context.Background(), "a@example.com", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}
