package models

import (
	"strings"
	"time"
)

type User struct {
	ID            int64
	Email         string
	Name          string
	EmailVerified *time.Time
}

// TokenRecord is the magic-link artifact kept in the ephemeral store.
// VerificationCode is a snapshot of the code active when the token was
// created; both share the same TTL window.
type TokenRecord struct {
	Identifier       string    `json:"identifier"`
	Token            string    `json:"token"`
	Expires          time.Time `json:"expires"`
	VerificationCode string    `json:"verification_code"`
}

func (t *TokenRecord) IsExpired() bool {
	return t.Expires.Before(time.Now())
}

// Message is the payload published to the email queue.
type Message struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Code    string `json:"code,omitempty"`
	Link    string `json:"link,omitempty"`
	Purpose string `json:"purpose"`
}

const (
	PurposeSignIn  = "sign_in"
	PurposeWelcome = "welcome"
)

// NormalizeEmail canonicalizes an address for use as a store key and a
// user-row identity. Every path that keys a code, token or user row by
// email must go through it, or issuance and verification diverge on
// mixed-case input.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
