package notifier

import (
	"context"
	"log/slog"

	"notifyhub/internal/domain/entity"
)

// NoopSender accepts every batch without contacting a provider.
// It stands in for a channel that is disabled in this deployment.
type NoopSender struct {
	channel entity.ChannelType
	logger  *slog.Logger
}

// NewNoopSender creates a NoopSender for ch.
func NewNoopSender(ch entity.ChannelType, logger *slog.Logger) *NoopSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSender{channel: ch, logger: logger}
}

func (n *NoopSender) Channel() entity.ChannelType { return n.channel }

// Send does nothing and returns nil.
func (n *NoopSender) Send(ctx context.Context, tenantID string, devices []*entity.Device, msg Message) error {
	if len(devices) == 0 {
		return nil
	}
	n.logger.Debug("noop sender skipped batch",
		slog.String("channel", string(n.channel)),
		slog.String("tenant_id", tenantID),
		slog.Int("devices", len(devices)))
	return nil
}
