package mailer

import (
	"fmt"

	"sealed_love_auth/internal/models"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (m *Mailer) Send(to, subject, text, html string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("From", m.From)
	msg.SetHeader("Subject", subject)

	msg.SetBody("text/plain", text)
	if html != "" {
		msg.AddAlternative("text/html", html)
	}

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	return dialer.DialAndSend(msg)
}

// Render builds the plain and HTML bodies for a queued message.
func Render(msg models.Message) (text string, html string) {
	switch msg.Purpose {
	case models.PurposeWelcome:
		text = "Welcome to Sealed Love!\n\nYour story space is ready."
		html = "<p>Welcome to Sealed Love!</p><p>Your story space is ready.</p>"
	case models.PurposeSignIn:
		text = fmt.Sprintf(
			"Your sign-in code is %s.\n\nOr sign in directly: %s\n\nThe code expires in 10 minutes.",
			msg.Code, msg.Link,
		)
		html = fmt.Sprintf(
			"<p>Your sign-in code is <strong>%s</strong>.</p><p><a href=%q>Sign in directly</a></p><p>The code expires in 10 minutes.</p>",
			msg.Code, msg.Link,
		)
	default:
		text = msg.Link
	}

	return text, html
}
