package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"notifyhub/internal/domain/entity"
)

const defaultSMTPTimeout = 30 * time.Second

// MailDialer sends a set of messages over one SMTP session.
type MailDialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// NewSMTPClient builds a go-mail client from the tenant's SMTP settings.
// STARTTLS is used when the server offers it.
func NewSMTPClient(_ context.Context, cred *entity.Credential) (MailDialer, error) {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(defaultSMTPTimeout),
	}
	if cred.SMTPPort > 0 {
		opts = append(opts, mail.WithPort(cred.SMTPPort))
	}
	if cred.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cred.SMTPUsername),
			mail.WithPassword(cred.SMTPPassword))
	}
	client, err := mail.NewClient(cred.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}
	return client, nil
}

// NewSMTPClientRegistry returns a registry keyed on the SMTP connection settings.
func NewSMTPClientRegistry(factory ClientFactory[MailDialer]) *ClientRegistry[MailDialer] {
	if factory == nil {
		factory = NewSMTPClient
	}
	return NewClientRegistry(factory, func(c *entity.Credential) string {
		return strings.Join([]string{c.SMTPHost, strconv.Itoa(c.SMTPPort), c.SMTPUsername, c.SMTPPassword}, "\x00")
	})
}

// EmailSender delivers one email per recipient address within a single SMTP session.
type EmailSender struct {
	creds   CredentialSource
	clients *ClientRegistry[MailDialer]
	logger  *slog.Logger
}

func NewEmailSender(creds CredentialSource, clients *ClientRegistry[MailDialer], logger *slog.Logger) *EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSender{creds: creds, clients: clients, logger: logger}
}

func (s *EmailSender) Channel() entity.ChannelType { return entity.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, tenantID string, devices []*entity.Device, msg Message) error {
	if len(devices) == 0 {
		return nil
	}
	addrs := distinctHandles(devices, entity.ChannelEmail)
	if len(addrs) == 0 {
		return &ClientError{Message: "EMAIL: no device has an email address"}
	}

	cred, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("EMAIL credential: %w", err)
	}
	if strings.TrimSpace(cred.SMTPHost) == "" || strings.TrimSpace(cred.FromEmail) == "" {
		return fmt.Errorf("EMAIL: %w", ErrNoCredential)
	}

	msgs := make([]*mail.Msg, 0, len(addrs))
	for _, addr := range addrs {
		m, err := buildMail(cred, addr, msg)
		if err != nil {
			s.logger.Warn("skipping email recipient",
				slog.String("tenant_id", tenantID),
				slog.String("address", addr),
				slog.Any("error", err))
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return &ClientError{Message: "EMAIL: no valid recipient address"}
	}

	client, err := s.clients.Get(ctx, tenantID, cred)
	if err != nil {
		return fmt.Errorf("EMAIL client: %w", err)
	}

	sendErr := client.DialAndSendWithContext(ctx, msgs...)
	if sendErr == nil {
		return nil
	}
	failed := 0
	for _, m := range msgs {
		if m.HasSendError() {
			failed++
		}
	}
	// 0 means the session itself failed before any message went out
	if failed == 0 || failed == len(msgs) {
		return fmt.Errorf("EMAIL send: %w", sendErr)
	}
	s.logger.Warn("email partially delivered",
		slog.String("tenant_id", tenantID),
		slog.Int("sent", len(msgs)-failed),
		slog.Int("failed", failed),
		slog.Any("error", sendErr))
	return nil
}

func buildMail(cred *entity.Credential, to string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if cred.FromName != "" {
		if err := m.FromFormat(cred.FromName, cred.FromEmail); err != nil {
			return nil, err
		}
	} else if err := m.From(cred.FromEmail); err != nil {
		return nil, err
	}
	if err := m.To(to); err != nil {
		return nil, err
	}
	m.Subject(msg.Title)
	contentType := mail.TypeTextPlain
	if looksLikeHTML(msg.Body) {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, msg.Body)
	return m, nil
}

func looksLikeHTML(body string) bool {
	return strings.Contains(body, "</") || strings.Contains(body, "<br")
}
