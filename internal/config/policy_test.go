package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/domain/entity"
)

const samplePolicies = `
channels:
  email:
    max_concurrent_tasks: 2
    rate_limit_per_second: 10
    batch_size: 50
    request_timeout: 45s
    retry:
      initial_delay: 2m
      max_attempts: 5
  CHAT:
    retry:
      max_attempts: 0
`

func TestParseChannelPolicies_OverlaysDefaults(t *testing.T) {
	policies, err := ParseChannelPolicies([]byte(samplePolicies))
	require.NoError(t, err)
	require.Len(t, policies, 4)

	email := policies[entity.ChannelEmail]
	assert.Equal(t, entity.ChannelEmail, email.Channel)
	assert.Equal(t, 2, email.MaxConcurrentTasks)
	assert.Equal(t, 10.0, email.RateLimitPerSecond)
	assert.Equal(t, 50, email.BatchSize)
	assert.Equal(t, 45*time.Second, email.RequestTimeout)
	assert.Equal(t, 2*time.Minute, email.Retry.InitialDelay)
	assert.Equal(t, 5, email.Retry.MaxAttempts)
	// untouched fields keep the defaults
	assert.Equal(t, entity.DefaultMaxRetryDelay, email.Retry.MaxDelay)
	assert.Equal(t, entity.DefaultBackoffMultiplier, email.Retry.BackoffMultiplier)

	assert.Equal(t, 0, policies[entity.ChannelChat].Retry.MaxAttempts)
	assert.Equal(t, entity.DefaultPolicy(entity.ChannelPush), policies[entity.ChannelPush])
}

func TestParseChannelPolicies_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown channel", "channels:\n  SMS:\n    batch_size: 1\n"},
		{"invalid multiplier", "channels:\n  PUSH:\n    retry:\n      backoff_multiplier: 1.0\n"},
		{"initial above max", "channels:\n  WEB:\n    retry:\n      initial_delay: 2h\n"},
		{"bad duration", "channels:\n  WEB:\n    request_timeout: soon\n"},
		{"malformed yaml", "channels: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChannelPolicies([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadChannelPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicies), 0o600))

	policies, err := LoadChannelPolicies(path)
	require.NoError(t, err)
	assert.Equal(t, 2, policies[entity.ChannelEmail].MaxConcurrentTasks)

	_, err = LoadChannelPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
