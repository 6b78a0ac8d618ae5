package cacheadmin

import "notifyhub/internal/domain/entity"

// ConfigDTO is a tenant configuration with its secrets replaced by presence flags.
type ConfigDTO struct {
	TenantID          string `json:"tenantId"`
	HasPushKey        bool   `json:"hasPushKey"`
	SMTPHost          string `json:"smtpHost,omitempty"`
	SMTPPort          int    `json:"smtpPort,omitempty"`
	SMTPUsername      string `json:"smtpUsername,omitempty"`
	HasSMTPPassword   bool   `json:"hasSmtpPassword"`
	FromEmail         string `json:"fromEmail,omitempty"`
	FromName          string `json:"fromName,omitempty"`
	HasChatBotToken   bool   `json:"hasChatBotToken"`
	RetryDelayMinutes int    `json:"retryDelayMinutes"`
	MaxRetryCount     int    `json:"maxRetryCount"`
}

func toDTO(c *entity.Credential) ConfigDTO {
	return ConfigDTO{
		TenantID:          c.TenantID,
		HasPushKey:        c.PushKey != "",
		SMTPHost:          c.SMTPHost,
		SMTPPort:          c.SMTPPort,
		SMTPUsername:      c.SMTPUsername,
		HasSMTPPassword:   c.SMTPPassword != "",
		FromEmail:         c.FromEmail,
		FromName:          c.FromName,
		HasChatBotToken:   c.ChatBotToken != "",
		RetryDelayMinutes: c.RetryDelayMinutes,
		MaxRetryCount:     c.MaxRetryCount,
	}
}

// PeekResponse is the body of GET /admin/cache/{tenantID}/peek.
type PeekResponse struct {
	TenantID string     `json:"tenantId"`
	Cached   bool       `json:"cached"`
	Config   *ConfigDTO `json:"config,omitempty"`
}

// BatchRequest is the body of POST /admin/cache/invalidate.
type BatchRequest struct {
	TenantIDs []string `json:"tenantIds"`
}

// InvalidateResponse reports how many tenants (or keys, for invalidate-all) were dropped.
type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

// CountResponse is the body of GET /admin/cache/count.
type CountResponse struct {
	Count int `json:"count"`
}
