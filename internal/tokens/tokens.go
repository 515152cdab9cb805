package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "sealed_love_auth/internal/lib/logger"
	"sealed_love_auth/internal/models"
	"sealed_love_auth/internal/storage"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type TokenStore interface {
	SetToken(ctx context.Context, token string, rec models.TokenRecord, ttl time.Duration) error
	GetToken(ctx context.Context, token string) (models.TokenRecord, error)
	DeleteToken(ctx context.Context, token string) error
}

type CodeProvider interface {
	GetOrCreate(ctx context.Context, email string) (string, error)
}

// Manager owns magic-link token records. A record embeds the code active
// at creation time; record and code are stored with the same fixed TTL
// so both artifacts expire together, regardless of the caller-supplied
// expiry (which only bounds the validity check in Use).
type Manager struct {
	log      *slog.Logger
	store    TokenStore
	codes    CodeProvider
	storeTTL time.Duration
}

func New(
	log *slog.Logger,
	store TokenStore,
	codes CodeProvider,
	storeTTL time.Duration,
) *Manager {
	return &Manager{
		log:      log,
		store:    store,
		codes:    codes,
		storeTTL: storeTTL,
	}
}

func (m *Manager) Create(ctx context.Context, identifier, token string, expires time.Time) (models.TokenRecord, error) {
	const op = "tokens.Create"

	log := m.log.With(slog.String("op", op))

	identifier = models.NormalizeEmail(identifier)

	verificationCode, err := m.codes.GetOrCreate(ctx, identifier)
	if err != nil {
		log.Error("failed to obtain verification code", sl.Err(err))
		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	rec := models.TokenRecord{
		Identifier:       identifier,
		Token:            token,
		Expires:          expires,
		VerificationCode: verificationCode,
	}

	if err := m.store.SetToken(ctx, token, rec, m.storeTTL); err != nil {
		log.Error("failed to store token", sl.Err(err))
		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (m *Manager) Get(ctx context.Context, token string) (models.TokenRecord, error) {
	const op = "tokens.Get"

	rec, err := m.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return models.TokenRecord{}, storage.ErrTokenNotFound
		}

		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (m *Manager) Delete(ctx context.Context, token string) error {
	const op = "tokens.Delete"

	if err := m.store.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Use consumes a token: the record must exist, belong to the supplied
// identifier and be unexpired. On success the record is deleted so a
// second Use with the same token fails.
func (m *Manager) Use(ctx context.Context, identifier, token string) (models.TokenRecord, error) {
	const op = "tokens.Use"

	log := m.log.With(slog.String("op", op))

	rec, err := m.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return models.TokenRecord{}, ErrInvalidToken
		}

		log.Error("failed to read token", sl.Err(err))
		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if rec.Identifier != models.NormalizeEmail(identifier) {
		log.Warn("token identifier mismatch")
		return models.TokenRecord{}, ErrInvalidToken
	}

	if rec.IsExpired() {
		return models.TokenRecord{}, ErrTokenExpired
	}

	if err := m.store.DeleteToken(ctx, token); err != nil {
		log.Error("failed to delete token", sl.Err(err))
		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// EnsureCode backfills a record created before any code existed for its
// identifier, re-storing it with a fresh code. Send paths call this so
// an email never goes out with an empty code field.
func (m *Manager) EnsureCode(ctx context.Context, rec models.TokenRecord) (models.TokenRecord, error) {
	const op = "tokens.EnsureCode"

	if rec.VerificationCode != "" {
		return rec, nil
	}

	updated, err := m.Create(ctx, rec.Identifier, rec.Token, rec.Expires)
	if err != nil {
		return models.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return updated, nil
}
