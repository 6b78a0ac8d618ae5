// Package notifier delivers messages to devices over the four delivery channels.
//
// Each Sender handles one channel and one tenant's batch of devices per call.
// Credentials are resolved through a CredentialSource before every batch, and
// provider clients are cached per tenant in a ClientRegistry.
package notifier

import (
	"context"
	"errors"

	"notifyhub/internal/domain/entity"
)

// ErrNoCredential is returned when the tenant has no usable credential for the channel.
var ErrNoCredential = errors.New("channel credential not configured")

// TemplateExtras carries presentation hints copied from a stored template.
type TemplateExtras struct {
	Icon           string
	ClickAction    string
	ClickActionWeb string
	Sound          string
	Badge          int
}

// ExtrasFromTemplate extracts the presentation hints of t. A nil template yields zero extras.
func ExtrasFromTemplate(t *entity.Template) TemplateExtras {
	if t == nil {
		return TemplateExtras{}
	}
	return TemplateExtras{
		Icon:           t.Icon,
		ClickAction:    t.ClickAction,
		ClickActionWeb: t.ClickActionWeb,
		Sound:          t.Sound,
		Badge:          t.Badge,
	}
}

// Message is the channel-independent content of one delivery.
type Message struct {
	Title  string
	Body   string
	Data   map[string]string
	Extras TemplateExtras
}

// Sender delivers a message to one tenant's devices over one channel.
//
// An empty device list is a no-op. A non-nil error means the whole batch is
// treated as failed; individual recipient failures that still leave some
// recipients served are logged and do not fail the call.
type Sender interface {
	Channel() entity.ChannelType
	Send(ctx context.Context, tenantID string, devices []*entity.Device, msg Message) error
}

// CredentialSource resolves a tenant's credential (normally the config cache).
type CredentialSource interface {
	Get(ctx context.Context, tenantID string) (*entity.Credential, error)
}

// Senders maps each channel to its sender.
type Senders map[entity.ChannelType]Sender

// NewSenders builds the lookup table from the given senders.
func NewSenders(senders ...Sender) Senders {
	m := make(Senders, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return m
}

// Lookup returns the sender for ch.
func (s Senders) Lookup(ch entity.ChannelType) (Sender, bool) {
	sender, ok := s[ch]
	return sender, ok
}

// distinctHandles returns the non-empty, de-duplicated channel handles of devices in input order.
func distinctHandles(devices []*entity.Device, ch entity.ChannelType) []string {
	seen := make(map[string]struct{}, len(devices))
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		h := d.Handle(ch)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
