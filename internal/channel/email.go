package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromName     string
	FromEmail    string
}

// Email sends plain-text mail through an SMTP relay with STARTTLS when the
// server offers it.
type Email struct {
	cfg  EmailConfig
	now  func() time.Time
	send func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(cfg EmailConfig) *Email {
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.FromName) == "" {
		cfg.FromName = "AuraTask"
	}
	return &Email{cfg: cfg, now: time.Now, send: smtpSend}
}

func (e *Email) Send(ctx context.Context, dest, subject, body string) error {
	if strings.TrimSpace(e.cfg.SMTPHost) == "" || strings.TrimSpace(e.cfg.SMTPUser) == "" || e.cfg.SMTPPassword == "" {
		return permanentf("smtp credentials not configured")
	}
	to, err := mail.ParseAddress(dest)
	if err != nil {
		return permanentf("invalid email address %q: %w", dest, err)
	}
	from := strings.TrimSpace(e.cfg.FromEmail)
	if from == "" {
		from = e.cfg.SMTPUser
	}

	msg, err := e.compose(from, to, subject, body)
	if err != nil {
		return Permanent(err)
	}

	addr := net.JoinHostPort(e.cfg.SMTPHost, strconv.Itoa(e.cfg.SMTPPort))
	auth := smtp.PlainAuth("", e.cfg.SMTPUser, e.cfg.SMTPPassword, e.cfg.SMTPHost)
	if err := e.send(ctx, addr, auth, from, []string{to.Address}, msg); err != nil {
		var perr *textproto.Error
		if errors.As(err, &perr) && perr.Code >= 500 {
			return Permanent(err)
		}
		return err
	}
	return nil
}

func (e *Email) compose(from string, to *mail.Address, subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(e.now())
	h.SetAddressList("From", []*mail.Address{{Name: e.cfg.FromName, Address: from}})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("composing email: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("composing email: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("composing email: %w", err)
	}
	return buf.Bytes(), nil
}

// smtpSend is smtp.SendMail with a context-bound connection.
func smtpSend(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
