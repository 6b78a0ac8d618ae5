package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/config"
	"notifyhub/internal/domain/entity"
	"notifyhub/internal/usecase/logsink"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCreds struct{}

func (nopCreds) Get(context.Context, string) (*entity.Credential, error) {
	return &entity.Credential{}, nil
}

func TestNewSenders_EveryChannel(t *testing.T) {
	senders := NewSenders(nopCreds{}, quietLogger())
	for _, ch := range entity.AllChannels() {
		s, ok := senders.Lookup(ch)
		require.True(t, ok, "missing sender for %s", ch)
		assert.Equal(t, ch, s.Channel())
	}
}

func TestNewDryRunSenders_EveryChannel(t *testing.T) {
	senders := NewDryRunSenders(quietLogger())
	assert.Len(t, senders, len(entity.AllChannels()))
	for _, ch := range entity.AllChannels() {
		_, ok := senders.Lookup(ch)
		assert.True(t, ok, ch)
	}
}

func TestBuild_RequiresURLs(t *testing.T) {
	cfg := &config.AppConfig{}

	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err := Build(context.Background(), cfg, logsink.Config{}, quietLogger())
	assert.ErrorIs(t, err, ErrMissingDatabaseURL)

	t.Setenv("DATABASE_URL", "postgres://localhost/notifyhub")
	t.Setenv("REDIS_URL", "")
	_, err = Build(context.Background(), cfg, logsink.Config{}, quietLogger())
	assert.ErrorIs(t, err, ErrMissingRedisURL)
}

func TestComponents_CloseReverseOrder(t *testing.T) {
	var order []int
	c := &Components{}
	for i := range 3 {
		c.closers = append(c.closers, func() error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, c.Close())
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.NoError(t, c.Close())
}
