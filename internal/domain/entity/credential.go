package entity

// Credential carries the per-tenant secrets and settings every channel sender needs.
// Values are cached as JSON in the shared tier, so field names are part of the cache format.
type Credential struct {
	TenantID          string `json:"tenantId"`
	PushKey           string `json:"pushKey"`
	SMTPHost          string `json:"smtpHost"`
	SMTPPort          int    `json:"smtpPort"`
	SMTPUsername      string `json:"smtpUsername"`
	SMTPPassword      string `json:"smtpPassword"`
	FromEmail         string `json:"fromEmail"`
	FromName          string `json:"fromName"`
	ChatBotToken      string `json:"chatBotToken"`
	RetryDelayMinutes int    `json:"retryDelayMinutes"`
	MaxRetryCount     int    `json:"maxRetryCount"`
}
