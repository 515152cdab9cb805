package verification

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

type CodeStore interface {
	GetCode(ctx context.Context, email string) (string, error)
	SetCodeNX(ctx context.Context, email, code string, ttl time.Duration) (bool, error)
	ConsumeCode(ctx context.Context, email, code string) (bool, error)
}

// Manager hands out one-time codes, at most one active per email.
type Manager struct {
	log      *slog.Logger
	store    CodeStore
	codeTTL  time.Duration
	generate func() (string, error)
}

func New(
	log *slog.Logger,
	store CodeStore,
	codeTTL time.Duration,
	generate func() (string, error),
) *Manager {
	return &Manager{
		log:      log,
		store:    store,
		codeTTL:  codeTTL,
		generate: generate,
	}
}

// GetOrCreate returns the active code for an email, generating and
// storing a new one only when none exists. Repeated calls inside the
// TTL window return the same code and do not extend its lifetime, so
// every delivery path presents the user with a single value.
func (m *Manager) GetOrCreate(ctx context.Context, email string) (string, error) {
	const op = "verification.GetOrCreate"

	log := m.log.With(slog.String("op", op))

	email = models.NormalizeEmail(email)

	existing, err := m.store.GetCode(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrCodeNotFound) {
		log.Error("failed to read code", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	generated, err := m.generate()
	if err != nil {
		log.Error("failed to generate code", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	stored, err := m.store.SetCodeNX(ctx, email, generated, m.codeTTL)
	if err != nil {
		log.Error("failed to store code", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if stored {
		return generated, nil
	}

	// Lost the race to a concurrent request; use the winner's code.
	winner, err := m.store.GetCode(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return winner, nil
}

// Consume checks a submitted code against the stored one and removes it
// on match in a single atomic step. Returns false for both "no active
// code" and "wrong code" so callers cannot tell the cases apart.
func (m *Manager) Consume(ctx context.Context, email, submitted string) (bool, error) {
	const op = "verification.Consume"

	ok, err := m.store.ConsumeCode(ctx, models.NormalizeEmail(email), submitted)
	if err != nil {
		m.log.Error("failed to consume code", slog.String("op", op), sl.Err(err))
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}
