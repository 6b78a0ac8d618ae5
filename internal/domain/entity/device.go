package entity

import (
	"strings"
	"time"
)

// Device is a registered delivery target owned by a tenant.
// Only one device per (TenantID, ExternalID) is active at a time; older
// registrations stay in the store with Active=false.
type Device struct {
	ID         int64
	TenantID   string
	ExternalID string
	PushToken  string
	Email      string
	ChatUserID string
	Group      string
	Locale     string
	Gateway    string
	Active     bool
	Channels   ChannelFlags
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EnabledChannels returns the channels this device opted into, in processing order.
func (d *Device) EnabledChannels() []ChannelType {
	out := make([]ChannelType, 0, 4)
	for _, ch := range AllChannels() {
		if d.Channels.Enabled(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Handle returns the contact handle a channel sender uses for this device.
func (d *Device) Handle(ch ChannelType) string {
	switch ch {
	case ChannelPush, ChannelWeb:
		return d.PushToken
	case ChannelEmail:
		return d.Email
	case ChannelChat:
		return d.ChatUserID
	}
	return ""
}

// Validate checks the fields required to register a device.
func (d *Device) Validate() error {
	if strings.TrimSpace(d.TenantID) == "" {
		return &ValidationError{Field: "tenantId", Message: "tenant id is required"}
	}
	if strings.TrimSpace(d.ExternalID) == "" {
		return &ValidationError{Field: "externalId", Message: "external device id is required"}
	}
	return nil
}
