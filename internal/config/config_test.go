package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/uploads", cfg.Uploads.URLPrefix)
	assert.Equal(t, "chat.repair", cfg.RabbitMQ.RepairQueue)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("PORT", "9000")
	t.Setenv("DEBUG_ROUTES", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMongo, cfg.Store.Driver)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.Server.DebugRoutes)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "cassandra")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadBool(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DEBUG_ROUTES", "sometimes")
	_, err := Load()
	assert.Error(t, err)
}
