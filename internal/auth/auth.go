package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sl "sealed_love_auth/internal/lib/logger"
	"sealed_love_auth/internal/models"
	"sealed_love_auth/internal/storage"
)

var ErrInvalidCode = errors.New("invalid or expired code")

// reauthSentinel is the legacy in-band marker for "re-assert an existing
// identity without a code round-trip". It is never accepted from user
// input; trusted callers use ReassertIdentity instead.
const reauthSentinel = "profile_update"

type UserStore interface {
	UserByEmail(ctx context.Context, email string) (models.User, error)
	SaveUser(ctx context.Context, email, name string, verifiedAt time.Time) (models.User, error)
	SetEmailVerified(ctx context.Context, userID int64, at time.Time) error
}

type CodeConsumer interface {
	Consume(ctx context.Context, email, submitted string) (bool, error)
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

type Auth struct {
	log       *slog.Logger
	users     UserStore
	codes     CodeConsumer
	publisher Publisher
}

func New(
	log *slog.Logger,
	users UserStore,
	codes CodeConsumer,
	publisher Publisher,
) *Auth {
	return &Auth{
		log:       log,
		users:     users,
		codes:     codes,
		publisher: publisher,
	}
}

// Authenticate validates a submitted (email, code) pair. The stored code
// is consumed atomically, so a given code succeeds at most once. On
// success the user is resolved, created lazily if needed.
func (a *Auth) Authenticate(ctx context.Context, email, submitted string) (models.User, error) {
	const op = "auth.Authenticate"

	log := a.log.With(slog.String("op", op))

	email = models.NormalizeEmail(email)
	submitted = normalizeCode(submitted)

	if submitted == reauthSentinel {
		log.Warn("sentinel code submitted on public path")
		return models.User{}, ErrInvalidCode
	}

	ok, err := a.codes.Consume(ctx, email, submitted)
	if err != nil {
		log.Error("code consumption failed", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Info("code rejected")
		return models.User{}, ErrInvalidCode
	}

	user, err := a.ResolveVerifiedUser(ctx, email)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user authenticated", slog.Int64("uid", user.ID))

	return user, nil
}

// ResolveVerifiedUser looks up the user for a successfully verified
// email, creating the record on first sight. A duplicate-key error from
// a concurrent first login is treated as "already exists, re-fetch".
func (a *Auth) ResolveVerifiedUser(ctx context.Context, email string) (models.User, error) {
	const op = "auth.ResolveVerifiedUser"

	log := a.log.With(slog.String("op", op))

	email = models.NormalizeEmail(email)
	now := time.Now()

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			log.Error("failed to look up user", sl.Err(err))
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		created, saveErr := a.users.SaveUser(ctx, email, "", now)
		if saveErr != nil {
			if errors.Is(saveErr, storage.ErrUserExists) {
				return a.users.UserByEmail(ctx, email)
			}

			log.Error("failed to create user", sl.Err(saveErr))
			return models.User{}, fmt.Errorf("%s: %w", op, saveErr)
		}

		a.sendWelcome(ctx, email)

		return created, nil
	}

	if user.EmailVerified == nil {
		if err := a.users.SetEmailVerified(ctx, user.ID, now); err != nil {
			log.Error("failed to mark email verified", sl.Err(err))
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}
		user.EmailVerified = &now
	}

	return user, nil
}

// ReassertIdentity resolves an existing user without a code round-trip.
// Only in-process callers that already hold an authenticated session may
// use it; there is deliberately no code parameter to thread a sentinel
// through.
func (a *Auth) ReassertIdentity(ctx context.Context, email string) (models.User, error) {
	const op = "auth.ReassertIdentity"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.UserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("reassertion for unknown user")
			return models.User{}, storage.ErrUserNotFound
		}

		log.Error("failed to look up user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// sendWelcome queues the first-time welcome email. Delivery failure is
// logged and swallowed; it never fails the authentication that
// triggered it.
func (a *Auth) sendWelcome(ctx context.Context, email string) {
	msg := models.Message{
		Email:   email,
		Subject: "Welcome to Sealed Love",
		Purpose: models.PurposeWelcome,
	}

	if err := a.publisher.SendMessage(ctx, msg); err != nil {
		a.log.Warn("failed to queue welcome email", sl.Err(err))
	}
}

// normalizeCode trims and lowercases. Lowercasing is a no-op for digit
// codes but keeps the comparison safe if codes ever become alphanumeric.
func normalizeCode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
