package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()

	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 1*time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxIdleTime)
}

func TestGetConnectionConfigFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ConnectionConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: DefaultConnectionConfig(),
		},
		{
			name: "custom values",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":     "50",
				"DB_MAX_IDLE_CONNS":     "20",
				"DB_CONN_MAX_LIFETIME":  "2h",
				"DB_CONN_MAX_IDLE_TIME": "10m",
			},
			want: ConnectionConfig{MaxOpenConns: 50, MaxIdleConns: 20, ConnMaxLifetime: 2 * time.Hour, ConnMaxIdleTime: 10 * time.Minute},
		},
		{
			name: "invalid values fall back",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":    "abc",
				"DB_MAX_IDLE_CONNS":    "0",
				"DB_CONN_MAX_LIFETIME": "-1h",
			},
			want: DefaultConnectionConfig(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, getConnectionConfigFromEnv())
		})
	}
}

func TestOpen_MissingDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingDSN)
}

func TestOpenSQLite_InMemory(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpen_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.NoError(t, db.PingContext(context.Background()))
}
