package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChannelPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *ChannelPolicy)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(p *ChannelPolicy) {}},
		{
			name:    "multiplier must exceed one when retrying",
			mutate:  func(p *ChannelPolicy) { p.Retry.BackoffMultiplier = 1.0 },
			wantErr: "backoffMultiplier",
		},
		{
			name: "multiplier of one is fine with a single attempt",
			mutate: func(p *ChannelPolicy) {
				p.Retry.MaxAttempts = 1
				p.Retry.BackoffMultiplier = 1.0
			},
		},
		{
			name:    "initial delay above max delay",
			mutate:  func(p *ChannelPolicy) { p.Retry.InitialDelay = 2 * time.Hour },
			wantErr: "initialDelay",
		},
		{
			name:    "negative batch size",
			mutate:  func(p *ChannelPolicy) { p.BatchSize = -1 },
			wantErr: "batchSize",
		},
		{
			name:    "unknown channel",
			mutate:  func(p *ChannelPolicy) { p.Channel = "SMS" },
			wantErr: "channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy(ChannelEmail)
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestChannelPolicy_ConcurrencyLimit(t *testing.T) {
	p := ChannelPolicy{Channel: ChannelPush}
	assert.Equal(t, DefaultMaxConcurrentTasks, p.ConcurrencyLimit())

	p.MaxConcurrentTasks = 12
	assert.Equal(t, 12, p.ConcurrencyLimit())
}
