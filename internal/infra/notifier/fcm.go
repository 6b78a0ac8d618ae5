package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"notifyhub/internal/domain/entity"
)

// fcmMaxTokens is the provider's per-call limit for multicast sends.
const fcmMaxTokens = 500

// MulticastClient is the part of the FCM messaging client the sender uses.
type MulticastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// NewFCMClient builds a messaging client from the tenant's service-account JSON.
func NewFCMClient(ctx context.Context, cred *entity.Credential) (MulticastClient, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(cred.PushKey)))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return client, nil
}

// NewFCMClientRegistry returns a registry keyed on the push key.
func NewFCMClientRegistry(factory ClientFactory[MulticastClient]) *ClientRegistry[MulticastClient] {
	if factory == nil {
		factory = NewFCMClient
	}
	return NewClientRegistry(factory, func(c *entity.Credential) string { return c.PushKey })
}

// FCMSender delivers mobile push (PUSH) or browser push (WEB) through FCM.
// The two channels share the client registry but build different payloads.
type FCMSender struct {
	channel entity.ChannelType
	creds   CredentialSource
	clients *ClientRegistry[MulticastClient]
	logger  *slog.Logger
}

// NewFCMSender creates a sender for ch, which must be PUSH or WEB.
func NewFCMSender(ch entity.ChannelType, creds CredentialSource, clients *ClientRegistry[MulticastClient], logger *slog.Logger) *FCMSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMSender{channel: ch, creds: creds, clients: clients, logger: logger}
}

func (s *FCMSender) Channel() entity.ChannelType { return s.channel }

// Send multicasts msg to the distinct push tokens of devices.
func (s *FCMSender) Send(ctx context.Context, tenantID string, devices []*entity.Device, msg Message) error {
	if len(devices) == 0 {
		return nil
	}
	tokens := distinctHandles(devices, s.channel)
	if len(tokens) == 0 {
		return &ClientError{Message: fmt.Sprintf("%s: no device has a push token", s.channel)}
	}

	cred, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("%s credential: %w", s.channel, err)
	}
	if strings.TrimSpace(cred.PushKey) == "" {
		return fmt.Errorf("%s: %w", s.channel, ErrNoCredential)
	}
	client, err := s.clients.Get(ctx, tenantID, cred)
	if err != nil {
		return fmt.Errorf("%s client: %w", s.channel, err)
	}

	var sent, failed int
	var lastErr error
	for start := 0; start < len(tokens); start += fcmMaxTokens {
		end := min(start+fcmMaxTokens, len(tokens))
		chunk := tokens[start:end]

		resp, err := client.SendEachForMulticast(ctx, s.buildMessage(chunk, msg))
		if err != nil {
			return classifyFCMError(err)
		}
		sent += resp.SuccessCount
		failed += resp.FailureCount
		for i, r := range resp.Responses {
			if r.Success {
				continue
			}
			lastErr = r.Error
			s.logger.Warn("push token rejected",
				slog.String("channel", string(s.channel)),
				slog.String("tenant_id", tenantID),
				slog.String("token_suffix", tokenSuffix(chunk[i])),
				slog.Bool("unregistered", messaging.IsUnregistered(r.Error)),
				slog.Any("error", r.Error))
		}
	}

	if sent == 0 {
		return fmt.Errorf("%s: all %d tokens failed: %w", s.channel, failed, classifyFCMError(lastErr))
	}
	if failed > 0 {
		s.logger.Info("push multicast partially delivered",
			slog.String("channel", string(s.channel)),
			slog.String("tenant_id", tenantID),
			slog.Int("sent", sent),
			slog.Int("failed", failed))
	}
	return nil
}

func (s *FCMSender) buildMessage(tokens []string, msg Message) *messaging.MulticastMessage {
	m := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}
	ex := msg.Extras

	if s.channel == entity.ChannelWeb {
		wp := &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  ex.Icon,
			},
		}
		link := ex.ClickActionWeb
		if link == "" {
			link = ex.ClickAction
		}
		// FCM only accepts https links here
		if strings.HasPrefix(link, "https://") {
			wp.FCMOptions = &messaging.WebpushFCMOptions{Link: link}
		}
		m.Webpush = wp
		return m
	}

	sound := ex.Sound
	if sound == "" {
		sound = "default"
	}
	m.Android = &messaging.AndroidConfig{
		Priority: "high",
		Notification: &messaging.AndroidNotification{
			Icon:        ex.Icon,
			Sound:       sound,
			ClickAction: ex.ClickAction,
		},
	}
	aps := &messaging.Aps{Sound: sound, Category: ex.ClickAction}
	if ex.Badge > 0 {
		badge := ex.Badge
		aps.Badge = &badge
	}
	m.APNS = &messaging.APNSConfig{Payload: &messaging.APNSPayload{Aps: aps}}
	return m
}

// classifyFCMError maps provider errors onto the shared error types.
func classifyFCMError(err error) error {
	if err == nil {
		return errors.New("unknown push failure")
	}
	switch {
	case messaging.IsQuotaExceeded(err):
		return &RateLimitError{Message: err.Error()}
	case messaging.IsUnregistered(err), messaging.IsInvalidArgument(err), messaging.IsSenderIDMismatch(err):
		return &ClientError{StatusCode: 400, Message: err.Error()}
	case messaging.IsUnavailable(err), messaging.IsInternal(err):
		return &ServerError{StatusCode: 503, Message: err.Error()}
	}
	return err
}

func tokenSuffix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[len(token)-8:]
}
