package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends email through an SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender creates a sender. Authentication is enabled when a username
// is configured; TLS is required either way.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

// Send delivers email as multipart/alternative: plain text, HTML, and the
// calendar invite when present.
func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := m.AddToFormat(email.ToName, email.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	m.Subject(email.Subject)
	m.SetBodyString(mail.TypeTextPlain, email.Text)
	m.AddAlternativeString(mail.TypeTextHTML, email.HTML)
	if email.Calendar != "" {
		m.AddAlternativeString(mail.ContentType("text/calendar; method=REQUEST"), email.Calendar)
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
