package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "chat-session", cfg.ServiceName)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "disk", cfg.StorageDriver)
	assert.Equal(t, 5*time.Minute, cfg.PresenceStaleAfter)
	assert.Equal(t, ":8083", cfg.HTTPAddr())
	assert.Equal(t, ":9083", cfg.GRPCAddr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "9000")
	t.Setenv("PRESENCE_STALE_AFTER", "90s")
	t.Setenv("PRESENCE_TOUCH_INTERVAL", "30s")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, ":9000", cfg.HTTPAddr())
	assert.Equal(t, 90*time.Second, cfg.PresenceStaleAfter)
	assert.Equal(t, "chat-files", cfg.S3Bucket)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without dsn", map[string]string{"DB_DSN": " "}},
		{"unknown storage", map[string]string{"STORAGE_DRIVER": "ftp"}},
		{"s3 without credentials", map[string]string{"STORAGE_DRIVER": "s3"}},
		{"stale not above touch", map[string]string{"PRESENCE_STALE_AFTER": "1m", "PRESENCE_TOUCH_INTERVAL": "1m"}},
		{"zero sweep", map[string]string{"PRESENCE_SWEEP_INTERVAL": "0s"}},
		{"bad duration", map[string]string{"SHUTDOWN_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
