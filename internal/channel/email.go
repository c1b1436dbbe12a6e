package channel

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Email sends records over SMTP with PLAIN auth.
type Email struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(cfg SMTPConfig) *Email {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Email{cfg: cfg, sendMail: smtp.SendMail}
}

func (e *Email) Send(ctx context.Context, d Delivery) (Result, error) {
	if d.Contact == nil || d.Contact.Email == "" {
		return Result{}, ErrNoAddress
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	msg := buildMessage(e.cfg.From, d.Contact.Email, d.Record.Subject, d.Record.Message, d.Record.HTML)
	addr := net.JoinHostPort(e.cfg.Host, e.cfg.Port)

	if err := e.sendMail(addr, auth, e.cfg.From, []string{d.Contact.Email}, msg); err != nil {
		return Result{}, fmt.Errorf("smtp send failed: %w", err)
	}
	now := time.Now()
	return Result{ProviderID: fmt.Sprintf("smtp-%d", now.UnixNano()), SentAt: now}, nil
}

func buildMessage(from, to, subject, text, html string) []byte {
	contentType, body := "text/plain", text
	if html != "" {
		contentType, body = "text/html", html
	}
	var b strings.Builder
	b.WriteString("From: " + headerValue(from) + "\r\n")
	b.WriteString("To: " + headerValue(to) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", headerValue(subject)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: " + contentType + "; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

var headerBreaks = strings.NewReplacer("\r", "", "\n", "")

// headerValue strips line breaks so a value cannot start a new header.
func headerValue(v string) string {
	return headerBreaks.Replace(v)
}
