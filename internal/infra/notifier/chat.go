package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"notifyhub/internal/domain/entity"
)

// ChatBot is the part of the bot client the sender uses.
type ChatBot interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// NewChatBot builds an offline bot client for the tenant's bot token.
// Offline skips the getMe round trip; the bot only sends, it never polls.
func NewChatBot(_ context.Context, cred *entity.Credential) (ChatBot, error) {
	bot, err := tele.NewBot(tele.Settings{Token: cred.ChatBotToken, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("init chat bot: %w", err)
	}
	return bot, nil
}

// NewChatClientRegistry returns a registry keyed on the bot token.
func NewChatClientRegistry(factory ClientFactory[ChatBot]) *ClientRegistry[ChatBot] {
	if factory == nil {
		factory = NewChatBot
	}
	return NewClientRegistry(factory, func(c *entity.Credential) string { return c.ChatBotToken })
}

// ChatSender delivers one bot message per chat user id.
type ChatSender struct {
	creds   CredentialSource
	clients *ClientRegistry[ChatBot]
	logger  *slog.Logger
}

func NewChatSender(creds CredentialSource, clients *ClientRegistry[ChatBot], logger *slog.Logger) *ChatSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSender{creds: creds, clients: clients, logger: logger}
}

func (s *ChatSender) Channel() entity.ChannelType { return entity.ChannelChat }

// Send posts "title\nbody" to each distinct chat id. Failures for single users
// are logged; when every user fails the joined errors are returned.
func (s *ChatSender) Send(ctx context.Context, tenantID string, devices []*entity.Device, msg Message) error {
	if len(devices) == 0 {
		return nil
	}
	ids := distinctHandles(devices, entity.ChannelChat)
	if len(ids) == 0 {
		return &ClientError{Message: "CHAT: no device has a chat user id"}
	}

	cred, err := s.creds.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("CHAT credential: %w", err)
	}
	if strings.TrimSpace(cred.ChatBotToken) == "" {
		return fmt.Errorf("CHAT: %w", ErrNoCredential)
	}
	bot, err := s.clients.Get(ctx, tenantID, cred)
	if err != nil {
		return fmt.Errorf("CHAT client: %w", err)
	}

	text := chatText(msg)
	var errs []error
	sent := 0
	for _, raw := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, &ClientError{Message: fmt.Sprintf("invalid chat id %q", raw)})
			continue
		}
		if _, err := bot.Send(tele.ChatID(chatID), text); err != nil {
			s.logger.Warn("chat message failed",
				slog.String("tenant_id", tenantID),
				slog.Int64("chat_id", chatID),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		sent++
	}

	if sent == 0 {
		return fmt.Errorf("CHAT: all %d recipients failed: %w", len(ids), errors.Join(errs...))
	}
	if len(errs) > 0 {
		s.logger.Info("chat partially delivered",
			slog.String("tenant_id", tenantID),
			slog.Int("sent", sent),
			slog.Int("failed", len(errs)))
	}
	return nil
}

// chat messages are capped by the provider at 4096 characters
const chatMaxLength = 4096

func chatText(msg Message) string {
	text := msg.Title
	if msg.Body != "" {
		if text != "" {
			text += "\n"
		}
		text += msg.Body
	}
	return truncate(text, chatMaxLength, "...")
}
