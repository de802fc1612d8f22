package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
hmac:
  secret: sign-secret
database:
  dsn: postgres://localhost/fleet
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Device.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.Device.DialTimeout)
	assert.Equal(t, 256, cfg.Device.InboundQueueSize)
	assert.Equal(t, 10, cfg.Device.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Device.BatchInterval)
	assert.Equal(t, "end", cfg.Device.Framing)
	assert.Equal(t, 32<<20, cfg.Device.MaxFrameBytes)
	assert.Equal(t, "uploads/recordings", cfg.Recording.Dir)
	assert.Equal(t, time.Minute, cfg.Fanout.SessionSweepMax)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
hmac:
  secret: sign-secret
device:
  reconnect_delay: 30s
  framing: legacy
  batch_size: 50
fanout:
  port: 8081
  write_timeout: 3s
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Device.ReconnectDelay)
	assert.Equal(t, "legacy", cfg.Device.Framing)
	assert.Equal(t, 50, cfg.Device.BatchSize)
	assert.Equal(t, 8081, cfg.Fanout.Port)
	assert.Equal(t, 3*time.Second, cfg.Fanout.WriteTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  dsn: postgres://localhost/fleet
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hmac.secret")
}

func TestLoadRejectsUnknownFraming(t *testing.T) {
	_, err := Load(writeConfig(t, `
hmac:
  secret: sign-secret
device:
  framing: morse
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "framing")
}

func TestLoadRejectsReconnectDelayOutOfRange(t *testing.T) {
	for _, delay := range []string{"1s", "2m"} {
		_, err := Load(writeConfig(t, `
hmac:
  secret: sign-secret
device:
  reconnect_delay: `+delay+"\n"))
		assert.Error(t, err, delay)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/fleet")
	t.Setenv("HMAC_SECRET", "env-secret")
	t.Setenv("NATS_URL", "nats://env:4222")

	cfg, err := Load(writeConfig(t, `
hmac:
  secret: file-secret
database:
  dsn: postgres://file/fleet
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/fleet", cfg.Database.DSN)
	assert.Equal(t, "env-secret", cfg.HMAC.Secret)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
}

func TestLoadIntegrationEndpoints(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
hmac:
  secret: sign-secret
integration:
  http:
    - endpoint: https://example.com/hook
      headers:
        Authorization: Bearer abc
  mqtt:
    - broker_url: tcp://broker:1883
      topic_pattern: fleet/{camera_id}/{event}
      qos: 1
`))
	require.NoError(t, err)

	require.Len(t, cfg.Integration.HTTP, 1)
	assert.Equal(t, "Bearer abc", cfg.Integration.HTTP[0].Headers["Authorization"])
	require.Len(t, cfg.Integration.MQTT, 1)
	assert.Equal(t, byte(1), cfg.Integration.MQTT[0].QoS)
}
