// Package device provides the HTTP handler for device registration.
package device

import (
	"time"

	"notifyhub/internal/domain/entity"
)

// DTO represents the JSON structure of a registered device.
type DTO struct {
	ID         int64               `json:"id" example:"42"`
	TenantID   string              `json:"tenantId" example:"acme"`
	ExternalID string              `json:"externalId" example:"user-1001"`
	Group      string              `json:"group,omitempty" example:"beta"`
	Locale     string              `json:"locale,omitempty" example:"ja"`
	Gateway    string              `json:"gateway,omitempty"`
	Channels   entity.ChannelFlags `json:"channels"`
	HasPush    bool                `json:"hasPushToken"`
	HasEmail   bool                `json:"hasEmail"`
	HasChat    bool                `json:"hasChatUser"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// toDTO hides the contact handles; callers only learn which ones are set.
func toDTO(d *entity.Device) DTO {
	return DTO{
		ID:         d.ID,
		TenantID:   d.TenantID,
		ExternalID: d.ExternalID,
		Group:      d.Group,
		Locale:     d.Locale,
		Gateway:    d.Gateway,
		Channels:   d.Channels,
		HasPush:    d.PushToken != "",
		HasEmail:   d.Email != "",
		HasChat:    d.ChatUserID != "",
		CreatedAt:  d.CreatedAt,
	}
}
