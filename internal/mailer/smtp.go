package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/gyaneshwarpardhi/txmon/internal/config"
)

const (
	gmailHost    = "smtp.gmail.com"
	relayHost    = "localhost"
	relayPort    = 1025
	fallbackFrom = "no-reply@ledger.local"
)

// Transport is the resolved SMTP endpoint.
type Transport struct {
	Host string
	Port int
	// Secure means implicit TLS from the first byte (port 465 style).
	Secure bool
	// RequireTLS forces STARTTLS on a plain connection.
	RequireTLS bool
	User       string
	Pass       string
	From       string
}

// HasAuth reports whether credentials are attached.
func (t Transport) HasAuth() bool { return t.User != "" && t.Pass != "" }

// ResolveSMTP decides which server to send through. Gmail is used when it is
// requested and credentials exist; a Gmail request without credentials falls
// back to the local relay so mail is still captured during development.
func ResolveSMTP(c config.SMTPConfig) Transport {
	t := Transport{
		Host:   c.Host,
		Port:   c.Port,
		Secure: c.Secure,
		User:   c.User,
		Pass:   c.Pass,
		From:   c.From,
	}
	if t.From == "" {
		t.From = c.User
	}
	if t.From == "" {
		t.From = fallbackFrom
	}

	hasCreds := c.User != "" && c.Pass != ""
	wantsGmail := strings.EqualFold(c.Provider, "gmail") || strings.HasSuffix(strings.ToLower(c.User), "@gmail.com")

	switch {
	case wantsGmail && hasCreds:
		t.Host = gmailHost
		if c.Port != 465 && c.Port != 587 {
			t.Port = 465
		}
		t.Secure = t.Port == 465
		t.RequireTLS = t.Port == 587
	case wantsGmail:
		t.Host = relayHost
		t.Port = relayPort
		t.Secure = false
	}
	if !hasCreds {
		t.User, t.Pass = "", ""
	}
	return t
}

func (t Transport) String() string {
	return fmt.Sprintf("%s:%d secure=%t starttls=%t auth=%t", t.Host, t.Port, t.Secure, t.RequireTLS, t.HasAuth())
}

// Mail is one outgoing plain-text message.
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

// SMTPSender sends through go-mail, dialing a fresh session per message.
type SMTPSender struct {
	client *mail.Client
}

// NewSMTPSender builds a client for t. Nothing is dialed until Send.
func NewSMTPSender(t Transport) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(t.Port),
		mail.WithTimeout(30 * time.Second),
	}
	switch {
	case t.Secure:
		opts = append(opts, mail.WithSSL())
	case t.RequireTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if t.HasAuth() {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.User),
			mail.WithPassword(t.Pass),
		)
	}
	c, err := mail.NewClient(t.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client %s: %w", t.Host, err)
	}
	return &SMTPSender{client: c}, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Mail) error {
	msg := mail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return fmt.Errorf("from %q: %w", m.From, err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("to %q: %w", m.To, err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", m.To, err)
	}
	return nil
}
