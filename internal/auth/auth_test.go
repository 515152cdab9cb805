package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"sealed_love_auth/internal/models"
	"sealed_love_auth/internal/storage"
	"sealed_love_auth/internal/verification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) UserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockUserStore) SaveUser(ctx context.Context, email, name string, verifiedAt time.Time) (models.User, error) {
	args := m.Called(ctx, email, name, verifiedAt)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *mockUserStore) SetEmailVerified(ctx context.Context, userID int64, at time.Time) error {
	return m.Called(ctx, userID, at).Error(0)
}

type mockCodes struct{ mock.Mock }

func (m *mockCodes) Consume(ctx context.Context, email, submitted string) (bool, error) {
	args := m.Called(ctx, email, submitted)
	return args.Bool(0), args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) SendMessage(ctx context.Context, msg models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func newAuth(users *mockUserStore, codes *mockCodes, pub *mockPublisher) *Auth {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), users, codes, pub)
}

func verifiedUser(id int64, email string) models.User {
	now := time.Now()
	return models.User{ID: id, Email: email, EmailVerified: &now}
}

// --- tests ---

func TestAuthenticate_FirstLoginCreatesUserAndQueuesWelcome(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "482913").Return(true, nil)
	users.On("UserByEmail", mock.Anything, "a@example.com").Return(models.User{}, storage.ErrUserNotFound)
	users.On("SaveUser", mock.Anything, "a@example.com", "", mock.Anything).
		Return(verifiedUser(1, "a@example.com"), nil)
	pub.On("SendMessage", mock.Anything, mock.MatchedBy(func(msg models.Message) bool {
		return msg.Purpose == models.PurposeWelcome && msg.Email == "a@example.com"
	})).Return(nil)

	user, err := a.Authenticate(context.Background(), " A@Example.com ", " 482913 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.NotNil(t, user.EmailVerified)

	users.AssertExpectations(t)
	codes.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestAuthenticate_RejectedCode(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "000000").Return(false, nil)

	_, err := a.Authenticate(context.Background(), "a@example.com", "000000")
	assert.ErrorIs(t, err, ErrInvalidCode)
	users.AssertNotCalled(t, "UserByEmail", mock.Anything, mock.Anything)
}

func TestAuthenticate_SameCodeFailsAfterConsumption(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "482913").Return(true, nil).Once()
	codes.On("Consume", mock.Anything, "a@example.com", "482913").Return(false, nil).Once()
	users.On("UserByEmail", mock.Anything, "a@example.com").Return(verifiedUser(1, "a@example.com"), nil)

	_, err := a.Authenticate(context.Background(), "a@example.com", "482913")
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), "a@example.com", "482913")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestAuthenticate_SentinelRejectedOnPublicPath(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	_, err := a.Authenticate(context.Background(), "a@example.com", "profile_update")
	assert.ErrorIs(t, err, ErrInvalidCode)

	codes.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "UserByEmail", mock.Anything, mock.Anything)
}

func TestAuthenticate_WelcomeFailureDoesNotFailAuth(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "482913").Return(true, nil)
	users.On("UserByEmail", mock.Anything, "a@example.com").Return(models.User{}, storage.ErrUserNotFound)
	users.On("SaveUser", mock.Anything, "a@example.com", "", mock.Anything).
		Return(verifiedUser(1, "a@example.com"), nil)
	pub.On("SendMessage", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	user, err := a.Authenticate(context.Background(), "a@example.com", "482913")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
}

func TestAuthenticate_DuplicateKeyRaceRefetches(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "482913").Return(true, nil)
	users.On("UserByEmail", mock.Anything, "a@example.com").
		Return(models.User{}, storage.ErrUserNotFound).Once()
	users.On("SaveUser", mock.Anything, "a@example.com", "", mock.Anything).
		Return(models.User{}, storage.ErrUserExists)
	users.On("UserByEmail", mock.Anything, "a@example.com").
		Return(verifiedUser(7, "a@example.com"), nil).Once()

	user, err := a.Authenticate(context.Background(), "a@example.com", "482913")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	pub.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestAuthenticate_MarksExistingUserVerified(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "482913").Return(true, nil)
	users.On("UserByEmail", mock.Anything, "a@example.com").
		Return(models.User{ID: 3, Email: "a@example.com"}, nil)
	users.On("SetEmailVerified", mock.Anything, int64(3), mock.Anything).Return(nil)

	user, err := a.Authenticate(context.Background(), "a@example.com", "482913")
	require.NoError(t, err)
	assert.NotNil(t, user.EmailVerified)
	users.AssertExpectations(t)
}

func TestAuthenticate_StoreFailureIsHard(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	codes.On("Consume", mock.Anything, "a@example.com", "482913").
		Return(false, errors.New("connection refused"))

	_, err := a.Authenticate(context.Background(), "a@example.com", "482913")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCode)
}

// fakeCodeStore backs a real verification.Manager so the issuance and
// verification paths hit the same keys, as they would in Redis.
type fakeCodeStore struct {
	codes map[string]string
}

func (s *fakeCodeStore) GetCode(_ context.Context, email string) (string, error) {
	c, ok := s.codes[email]
	if !ok {
		return "", storage.ErrCodeNotFound
	}
	return c, nil
}

func (s *fakeCodeStore) SetCodeNX(_ context.Context, email, code string, _ time.Duration) (bool, error) {
	if _, ok := s.codes[email]; ok {
		return false, nil
	}
	s.codes[email] = code
	return true, nil
}

func (s *fakeCodeStore) ConsumeCode(_ context.Context, email, code string) (bool, error) {
	if s.codes[email] != code || code == "" {
		return false, nil
	}
	delete(s.codes, email)
	return true, nil
}

func TestAuthenticate_MixedCaseEmailRoundTrip(t *testing.T) {
	store := &fakeCodeStore{codes: make(map[string]string)}
	manager := verification.New(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		store,
		10*time.Minute,
		func() (string, error) { return "482913", nil },
	)

	users := &mockUserStore{}
	pub := &mockPublisher{}
	a := New(slog.New(slog.NewTextHandler(io.Discard, nil)), users, manager, pub)

	users.On("UserByEmail", mock.Anything, "a@example.com").Return(models.User{}, storage.ErrUserNotFound)
	users.On("SaveUser", mock.Anything, "a@example.com", "", mock.Anything).
		Return(verifiedUser(1, "a@example.com"), nil)
	pub.On("SendMessage", mock.Anything, mock.Anything).Return(nil)

	// Issued under the address exactly as the user typed it.
	issued, err := manager.GetOrCreate(context.Background(), "A@Example.com")
	require.NoError(t, err)

	user, err := a.Authenticate(context.Background(), "A@Example.com", issued)
	require.NoError(t, err, "a code issued for a mixed-case address must verify")
	assert.Equal(t, int64(1), user.ID)
}

func TestReassertIdentity_ExistingUser(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	users.On("UserByEmail", mock.Anything, "a@example.com").Return(verifiedUser(5, "a@example.com"), nil)

	user, err := a.ReassertIdentity(context.Background(), "A@Example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(5), user.ID)
	codes.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestReassertIdentity_UnknownUserFails(t *testing.T) {
	users := &mockUserStore{}
	codes := &mockCodes{}
	pub := &mockPublisher{}
	a := newAuth(users, codes, pub)

	users.On("UserByEmail", mock.Anything, "ghost@example.com").
		Return(models.User{}, storage.ErrUserNotFound)

	_, err := a.ReassertIdentity(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}
