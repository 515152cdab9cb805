package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sealed_love_auth/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSession = errors.New("invalid session")

// Issuer signs session JWTs. The admin flag is never persisted: it is
// recomputed from the configured allow-list on every Issue and Refresh,
// so removing an email from the list revokes admin on the next refresh.
type Issuer struct {
	secret      []byte
	maxAge      time.Duration
	adminEmails map[string]struct{}
}

func New(secret string, maxAge time.Duration, adminList string) *Issuer {
	admins := make(map[string]struct{})
	for _, e := range strings.Split(adminList, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			admins[e] = struct{}{}
		}
	}

	return &Issuer{
		secret:      []byte(secret),
		maxAge:      maxAge,
		adminEmails: admins,
	}
}

func (i *Issuer) IsAdmin(email string) bool {
	_, ok := i.adminEmails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Issue creates a session token with a fixed absolute expiry.
func (i *Issuer) Issue(user models.User) (string, error) {
	const op = "session.Issue"

	now := time.Now()

	claims := jwt.MapClaims{
		"sub":      user.ID,
		"email":    user.Email,
		"is_admin": i.IsAdmin(user.Email),
		"iat":      now.Unix(),
		"exp":      now.Add(i.maxAge).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

type Claims struct {
	UserID  int64
	Email   string
	IsAdmin bool
	Expires time.Time
}

func (i *Issuer) Parse(tokenStr string) (Claims, error) {
	const op = "session.Parse"

	claims := jwt.MapClaims{}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidSession
	}

	sub, ok := claims["sub"].(float64)
	if !ok {
		return Claims{}, ErrInvalidSession
	}

	email, ok := claims["email"].(string)
	if !ok {
		return Claims{}, ErrInvalidSession
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok || time.Now().Unix() > int64(expFloat) {
		return Claims{}, ErrInvalidSession
	}

	isAdmin, _ := claims["is_admin"].(bool)

	return Claims{
		UserID:  int64(sub),
		Email:   email,
		IsAdmin: isAdmin,
		Expires: time.Unix(int64(expFloat), 0),
	}, nil
}

// Refresh re-signs a valid session, keeping the original absolute
// expiry and recomputing is_admin against the current allow-list.
func (i *Issuer) Refresh(tokenStr string) (string, error) {
	const op = "session.Refresh"

	current, err := i.Parse(tokenStr)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"sub":      current.UserID,
		"email":    current.Email,
		"is_admin": i.IsAdmin(current.Email),
		"iat":      time.Now().Unix(),
		"exp":      current.Expires.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}
