// Package notify delivers rendered reports and operational notices. Template
// rendering is out of scope; bodies arrive ready to send.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SMTPNotifier sends plain-text mail. Credentials come from the environment
// (SMTP_USERNAME, SMTP_PASSWORD) so they never live in config files.
type SMTPNotifier struct {
	Host string
	Port int
	From string
}

func (n *SMTPNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if n.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	username := os.Getenv("SMTP_USERNAME")
	if username == "" {
		username = n.From
	}
	auth := smtp.PlainAuth("", username, os.Getenv("SMTP_PASSWORD"), n.Host)

	msg := strings.Join([]string{
		"From: " + n.From,
		"To: " + recipient,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)
	if err := smtp.SendMail(addr, auth, n.From, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", recipient, err)
	}
	return nil
}

// Retrying wraps a Notifier with a small bounded retry. Delivery is
// independently retried from report persistence.
type Retrying struct {
	Next     Notifier
	Attempts int
	Backoff  time.Duration
	Log      *zap.SugaredLogger

	Sleep func(d time.Duration)
}

func WithRetry(next Notifier, attempts int, log *zap.SugaredLogger) *Retrying {
	if attempts <= 0 {
		attempts = 3
	}
	return &Retrying{Next: next, Attempts: attempts, Backoff: time.Second, Log: log, Sleep: time.Sleep}
}

func (r *Retrying) Send(ctx context.Context, recipient, subject, body string) error {
	var err error
	for attempt := 1; attempt <= r.Attempts; attempt++ {
		err = r.Next.Send(ctx, recipient, subject, body)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if r.Log != nil {
			r.Log.Warnf("notify %s: attempt %d/%d failed: %v", recipient, attempt, r.Attempts, err)
		}
		if attempt < r.Attempts {
			r.Sleep(r.Backoff * time.Duration(attempt))
		}
	}
	return err
}
