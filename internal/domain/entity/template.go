package entity

// DefaultLocale is used when neither the request nor the device names one.
const DefaultLocale = "zh-TW"

// Template is a stored, localized message.
type Template struct {
	ID             int64
	TenantID       string
	Code           string
	Locale         string
	Gateway        string
	Title          string
	Body           string
	Icon           string
	ClickAction    string
	ClickActionWeb string
	Sound          string
	Badge          int
	Data           map[string]string
}
