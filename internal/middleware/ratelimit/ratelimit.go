package rateLimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	resp "sealed_love_auth/internal/lib/api/response"
	sl "sealed_love_auth/internal/lib/logger"

	"github.com/go-chi/render"
)

// HitCounter is backed by the shared ephemeral store, so limits hold
// across instances instead of living in a process-local map.
type HitCounter interface {
	CountHit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Limiter struct {
	log     *slog.Logger
	counter HitCounter
}

func New(log *slog.Logger, counter HitCounter) *Limiter {
	return &Limiter{
		log:     log,
		counter: counter,
	}
}

func (l *Limiter) RequestCode() func(http.Handler) http.Handler {
	return l.limitByIP("request_code", 3, time.Hour)
}

func (l *Limiter) VerifyCode() func(http.Handler) http.Handler {
	return l.limitByIP("verify_code", 10, 10*time.Minute)
}

func (l *Limiter) ConsumeLink() func(http.Handler) http.Handler {
	return l.limitByIP("consume_link", 10, 10*time.Minute)
}

func (l *Limiter) Refresh() func(http.Handler) http.Handler {
	return l.limitByIP("refresh", 30, 10*time.Minute)
}

func (l *Limiter) limitByIP(name string, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("%s:%s", name, clientIP(r))

			n, err := l.counter.CountHit(r.Context(), key, window)
			if err != nil {
				// Fail open: a limiter outage must not take auth down.
				l.log.Warn("rate limiter unavailable", sl.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			if n > limit {
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, resp.Error("too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
