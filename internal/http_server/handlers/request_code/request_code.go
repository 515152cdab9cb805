package requestCode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	resp "sealed_love_auth/internal/lib/api/response"
	sl "sealed_love_auth/internal/lib/logger"
	"sealed_love_auth/internal/models"
	"sealed_love_auth/internal/tokens"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
}

type Response struct {
	resp.Response
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	tokenManager *tokens.Manager,
	msgSender Publisher,
	codeTTL time.Duration,
	baseURL string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requestCode.New"

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

		// The same canonical address must key the code here and the
		// lookup at verification time.
		email := models.NormalizeEmail(req.Email)

		opaque, err := tokens.NewOpaque()
		if err != nil {
			log.Error("failed to generate token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		rec, err := tokenManager.Create(ctx, email, opaque, time.Now().Add(codeTTL))
		if err != nil {
			log.Error("failed to create sign-in token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		// A record without an embedded code must be re-created before
		// dispatch so the email never carries an empty code.
		rec, err = tokenManager.EnsureCode(ctx, rec)
		if err != nil {
			log.Error("failed to backfill code", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		link := fmt.Sprintf("%s/auth/magic?identifier=%s&token=%s",
			baseURL,
			url.QueryEscape(rec.Identifier),
			url.QueryEscape(rec.Token),
		)

		msg := models.Message{
			Email:   email,
			Subject: "Your Sealed Love sign-in code",
			Code:    rec.VerificationCode,
			Link:    link,
			Purpose: models.PurposeSignIn,
		}

		// The sign-in email is the only way the user gets the code, so a
		// publish failure fails the whole request.
		if err := msgSender.SendMessage(ctx, msg); err != nil {
			log.Error("failed to queue sign-in email", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("sign-in email queued")

		ResponseOK(w, r)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, Response{
		Response: resp.OK(),
	})
}
