// Package registration registers delivery devices. A tenant's external
// device id maps to at most one active device record.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/repository"
)

// Input is a device registration request.
// A nil Channels copies the flags of the device being replaced, or enables
// every channel that has a handle for a first registration.
type Input struct {
	TenantID   string               `json:"tenantId"`
	ExternalID string               `json:"externalId"`
	PushToken  string               `json:"pushToken,omitempty"`
	Email      string               `json:"email,omitempty"`
	ChatUserID string               `json:"chatUserId,omitempty"`
	Group      string               `json:"group,omitempty"`
	Locale     string               `json:"locale,omitempty"`
	Gateway    string               `json:"gateway,omitempty"`
	Channels   *entity.ChannelFlags `json:"channels,omitempty"`
}

// Service implements Register.
type Service struct {
	devices repository.DeviceRepository
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(devices repository.DeviceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{devices: devices, logger: logger}
}

// Register deactivates the current active device for (tenant, external id),
// if any, and inserts the new one, in one transaction.
func (s *Service) Register(ctx context.Context, in Input) (*entity.Device, error) {
	d := &entity.Device{
		TenantID:   strings.TrimSpace(in.TenantID),
		ExternalID: strings.TrimSpace(in.ExternalID),
		PushToken:  in.PushToken,
		Email:      strings.TrimSpace(in.Email),
		ChatUserID: in.ChatUserID,
		Group:      in.Group,
		Locale:     in.Locale,
		Gateway:    in.Gateway,
		Active:     true,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var replaced int64
	err := s.devices.WithinTx(ctx, func(repo repository.DeviceRepository) error {
		prev, err := repo.FindActive(ctx, d.TenantID, d.ExternalID)
		if err != nil {
			return err
		}
		switch {
		case in.Channels != nil:
			d.Channels = *in.Channels
		case prev != nil:
			d.Channels = prev.Channels
		default:
			d.Channels = entity.ChannelFlags{
				Push:  d.PushToken != "",
				Email: d.Email != "",
				Chat:  d.ChatUserID != "",
			}
		}

		if prev != nil {
			if err := repo.Deactivate(ctx, prev.ID); err != nil {
				return err
			}
			replaced = prev.ID
		}
		return repo.Create(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	s.logger.Info("device registered",
		slog.String("tenant_id", d.TenantID),
		slog.String("external_id", d.ExternalID),
		slog.Int64("device_id", d.ID),
		slog.Int64("replaced_device_id", replaced))
	return d, nil
}
