// Package entity defines the core domain entities and validation logic for the notification platform.
// It contains devices, channel policies, tenant credentials, dispatch requests, delivery outcomes
// and scheduled jobs, along with their validation rules and domain-specific errors.
package entity

import (
	"fmt"
	"strings"
)

// ChannelType identifies one delivery medium.
type ChannelType string

const (
	ChannelPush  ChannelType = "PUSH"
	ChannelWeb   ChannelType = "WEB"
	ChannelEmail ChannelType = "EMAIL"
	ChannelChat  ChannelType = "CHAT"
)

// AllChannels returns every channel in the fixed processing order.
func AllChannels() []ChannelType {
	return []ChannelType{ChannelPush, ChannelWeb, ChannelEmail, ChannelChat}
}

// ParseChannelType parses a channel label case-insensitively.
func ParseChannelType(s string) (ChannelType, error) {
	ch := ChannelType(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.Valid() {
		return "", &ValidationError{Field: "channel", Message: fmt.Sprintf("unknown channel %q", s)}
	}
	return ch, nil
}

// Valid reports whether c is one of the four known channels.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelPush, ChannelWeb, ChannelEmail, ChannelChat:
		return true
	}
	return false
}

func (c ChannelType) String() string { return string(c) }

// ChannelFlags holds the per-device opt-in for each channel.
type ChannelFlags struct {
	Push  bool `json:"push"`
	Web   bool `json:"web"`
	Email bool `json:"email"`
	Chat  bool `json:"chat"`
}

// Enabled reports whether the flag for ch is set.
func (f ChannelFlags) Enabled(ch ChannelType) bool {
	switch ch {
	case ChannelPush:
		return f.Push
	case ChannelWeb:
		return f.Web
	case ChannelEmail:
		return f.Email
	case ChannelChat:
		return f.Chat
	}
	return false
}

// Any reports whether at least one channel is enabled.
func (f ChannelFlags) Any() bool {
	return f.Push || f.Web || f.Email || f.Chat
}
