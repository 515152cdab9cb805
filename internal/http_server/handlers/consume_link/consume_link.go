package consumeLink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sealed_love_auth/internal/auth"
	resp "sealed_love_auth/internal/lib/api/response"
	sl "sealed_love_auth/internal/lib/logger"
	"sealed_love_auth/internal/session"
	"sealed_love_auth/internal/tokens"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	SessionToken string `json:"session_token"`
}

type CodeConsumer interface {
	Consume(ctx context.Context, email, submitted string) (bool, error)
}

func New(
	log *slog.Logger,
	tokenManager *tokens.Manager,
	codes CodeConsumer,
	authService *auth.Auth,
	issuer *session.Issuer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.consumeLink.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		identifier := r.URL.Query().Get("identifier")
		token := r.URL.Query().Get("token")
		if identifier == "" || token == "" {
			log.Warn("missing identifier or token")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("missing token"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		rec, err := tokenManager.Use(ctx, identifier, token)
		if err != nil {
			// Expired and never-existed collapse into one answer.
			if errors.Is(err, tokens.ErrInvalidToken) || errors.Is(err, tokens.ErrTokenExpired) {
				log.Info("token rejected")

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid or expired token"))

				return
			}

			log.Error("failed to use token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		// The embedded code is spent alongside the token; best effort,
		// expiry cleans up after a miss.
		if rec.VerificationCode != "" {
			if _, err := codes.Consume(ctx, rec.Identifier, rec.VerificationCode); err != nil {
				log.Warn("failed to consume embedded code", sl.Err(err))
			}
		}

		user, err := authService.ResolveVerifiedUser(ctx, rec.Identifier)
		if err != nil {
			log.Error("failed to resolve user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		sessionToken, err := issuer.Issue(user)
		if err != nil {
			log.Error("failed to issue session", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("magic link consumed", slog.Int64("uid", user.ID))

		http.SetCookie(w, issuer.Cookie(sessionToken))
		ResponseOK(w, r, sessionToken)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, sessionToken string) {
	render.JSON(w, r, Response{
		Response:     resp.OK(),
		SessionToken: sessionToken,
	})
}
