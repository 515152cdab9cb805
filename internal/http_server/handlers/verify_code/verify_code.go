package verifyCode

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

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required"`
}

type Response struct {
	resp.Response
	SessionToken string `json:"session_token"`
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	issuer *session.Issuer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verifyCode.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		user, err := authService.Authenticate(ctx, req.Email, req.Code)
		if err != nil {
			// One generic answer for every rejection, so callers cannot
			// probe which emails have active codes.
			if errors.Is(err, auth.ErrInvalidCode) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("invalid or expired code"))

				return
			}

			log.Error("failed to authenticate", sl.Err(err))

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

		log.Info("session issued", slog.Int64("uid", user.ID))

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
