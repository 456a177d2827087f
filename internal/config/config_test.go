package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, defaultGRPCAddress, cfg.GRPC.Address)
	assert.Equal(t, defaultLogLevel, cfg.Log.Level)
	assert.Equal(t, defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	assert.Equal(t, defaultMongoDatabase, cfg.MongoDB.Database)
	assert.Equal(t, defaultConnectTimeout, cfg.MongoDB.ConnectTimeout)
	assert.Equal(t, defaultSendTimeout, cfg.Chat.SendTimeout)
	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, "local", cfg.Uploads.Driver)
	assert.EqualValues(t, defaultUploadsMaxBytes, cfg.Uploads.MaxBytes)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
port: "9000"
shutdown_grace_period: "5s"
log:
  level: "debug"
store:
  driver: "memory"
rate_limit:
  rpm: 120
uploads:
  driver: "s3"
s3:
  bucket: "attachments"
  region: "auto"
`), 0o644))

	t.Setenv("RATE_LIMIT_RPM", "30")
	t.Setenv("CHAT_SEND_TIMEOUT", "2s")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 30, cfg.RateLimit.RPM, "env should override file")
	assert.Equal(t, 2*time.Second, cfg.Chat.SendTimeout)
	assert.Equal(t, "attachments", cfg.S3.Bucket)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"mongo without uri": {"STORE_DRIVER": "mongo", "MONGODB_URI": ""},
		"unknown store":     {"STORE_DRIVER": "redis"},
		"s3 without bucket": {"STORE_DRIVER": "memory", "UPLOADS_DRIVER": "s3"},
		"half tls":          {"STORE_DRIVER": "memory", "TLS_CERT": "cert.pem"},
		"bad duration":      {"STORE_DRIVER": "memory", "CHAT_SEND_TIMEOUT": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestJWTKeys(t *testing.T) {
	cfg := Config{JWT: JWTConfig{Keys: "k1:one, k2:two"}}
	keys, err := cfg.JWTKeys()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "one", "k2": "two"}, keys)
	assert.True(t, cfg.AuthEnabled())

	cfg.JWT.Keys = "broken"
	_, err = cfg.JWTKeys()
	assert.Error(t, err)
}
