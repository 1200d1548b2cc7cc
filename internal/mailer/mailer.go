// Package mailer delivers a message with attachments over SMTP.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	logx "naps/pkg/logx"
)

// Config configures the SMTP connection.
//
// StartTLS requires STARTTLS on a plain connection; SSL dials implicit TLS
// (usually port 465). With neither set the connection upgrades opportunistically.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
	SSL      bool
	Timeout  time.Duration
}

// Message is one outgoing mail. Attachments map file names to contents.
type Message struct {
	Subject     string
	From        string
	To          string
	Text        string
	Attachments map[string][]byte
}

// SMTP sends messages through a single SMTP server. A new connection is made
// per Send.
type SMTP struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.StartTLS && cfg.SSL {
		return nil, errors.New("smtp: start_tls and ssl are mutually exclusive")
	}
	if cfg.Port <= 0 {
		switch {
		case cfg.SSL:
			cfg.Port = 465
		case cfg.StartTLS:
			cfg.Port = 587
		default:
			cfg.Port = 25
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("configured email server",
		logx.String("host", cfg.Host),
		logx.Int("port", cfg.Port),
		logx.String("username", cfg.Username),
		logx.Bool("start_tls", cfg.StartTLS),
		logx.Bool("ssl", cfg.SSL),
	)
	return &SMTP{cfg: cfg, log: log}, nil
}

func (s *SMTP) clientOptions() []mail.Option {
	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	switch {
	case s.cfg.SSL:
		opts = append(opts, mail.WithSSL())
	case s.cfg.StartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// Send delivers msg. Any error means the message must be treated as not sent.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	m, err := build(msg)
	if err != nil {
		return err
	}
	c, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	s.log.Info("sending email", logx.String("to", msg.To), logx.Int("attachments", len(msg.Attachments)))
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)

	// Stable attachment order.
	names := make([]string, 0, len(msg.Attachments))
	for name := range msg.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.AttachReader(name, bytes.NewReader(msg.Attachments[name])); err != nil {
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
	}
	return m, nil
}
