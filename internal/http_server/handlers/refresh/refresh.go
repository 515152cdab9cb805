package refresh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "sealed_love_auth/internal/lib/api/response"
	sl "sealed_love_auth/internal/lib/logger"
	"sealed_love_auth/internal/models"
	"sealed_love_auth/internal/session"
	"sealed_love_auth/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	SessionToken string `json:"session_token"`
}

type UserProvider interface {
	UserByID(ctx context.Context, id int64) (models.User, error)
}

func New(
	log *slog.Logger,
	issuer *session.Issuer,
	users UserProvider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		cookie, err := r.Cookie(session.CookieName)
		if err != nil {
			log.Warn("missing session cookie")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("invalid session"))

			return
		}

		claims, err := issuer.Parse(cookie.Value)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("invalid session"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// A session for a deleted account dies at refresh time.
		if _, err := users.UserByID(ctx, claims.UserID); err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				log.Warn("session refers to missing user", slog.Int64("uid", claims.UserID))

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid session"))

				return
			}

			log.Error("failed to load user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		// Refresh recomputes is_admin from the current allow-list, so a
		// delisted admin loses the flag here without logging out.
		sessionToken, err := issuer.Refresh(cookie.Value)
		if err != nil {
			if errors.Is(err, session.ErrInvalidSession) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid session"))

				return
			}

			log.Error("failed to refresh session", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("session refreshed", slog.Int64("uid", claims.UserID))

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
