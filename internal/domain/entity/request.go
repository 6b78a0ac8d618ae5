package entity

import "strings"

// SourceKind tags who triggered a dispatch.
type SourceKind string

const (
	SourceBackend  SourceKind = "backend"
	SourceExternal SourceKind = "external"
	SourceJob      SourceKind = "job"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourceBackend || k == SourceExternal || k == SourceJob
}

// Target selects the devices of a request. Exactly one of DeviceIDs, Group
// or All is used, in that precedence.
type Target struct {
	DeviceIDs []int64 `json:"deviceIds,omitempty"`
	Group     string  `json:"group,omitempty"`
	All       bool    `json:"all,omitempty"`
}

// Content is either inline text or a template reference.
type Content struct {
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	TemplateID   *int64            `json:"templateId,omitempty"`
	TemplateCode string            `json:"templateCode,omitempty"`
	Locale       string            `json:"locale,omitempty"`
}

// Inline reports whether the content carries its own text.
func (c Content) Inline() bool {
	return c.TemplateID == nil && c.TemplateCode == ""
}

// DispatchRequest is a notification intent as accepted by the public entry point
// and carried through the ingest queue.
type DispatchRequest struct {
	ID       string        `json:"id"`
	TenantID string        `json:"tenantId"`
	Target   Target        `json:"target"`
	Content  Content       `json:"content"`
	Source   SourceKind    `json:"source"`
	JobID    *int64        `json:"jobId,omitempty"`
	Channels []ChannelType `json:"channels,omitempty"`
}

// Validate checks the request shape before any target resolution happens.
func (r *DispatchRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return &ValidationError{Field: "tenantId", Message: "tenant id is required"}
	}
	if len(r.Target.DeviceIDs) == 0 && r.Target.Group == "" && !r.Target.All {
		return &ValidationError{Field: "target", Message: "device ids, group or all is required"}
	}
	if r.Content.Inline() && strings.TrimSpace(r.Content.Title) == "" && strings.TrimSpace(r.Content.Body) == "" {
		return &ValidationError{Field: "content", Message: "title, body or template is required"}
	}
	if r.Source != "" && !r.Source.Valid() {
		return &ValidationError{Field: "source", Message: "invalid source kind"}
	}
	for _, ch := range r.Channels {
		if !ch.Valid() {
			return &ValidationError{Field: "channels", Message: "invalid channel " + string(ch)}
		}
	}
	return nil
}
