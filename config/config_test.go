package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "tcp", cfg.Transport)
	assert.True(t, cfg.SSLVerify)
	assert.True(t, cfg.Enable)
}

func TestLoadFileAppliesDefaultsToUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	assert.NoError(t, os.WriteFile(path, []byte("host: collector.internal\nport: 5140\n"), 0o600))

	cfg, err := LoadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "collector.internal", cfg.Host)
	assert.Equal(t, 5140, cfg.Port)
	assert.Equal(t, "tcp", cfg.Transport) // unset in file, kept from Default()
	assert.True(t, cfg.SSLVerify)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	assert.NoError(t, os.WriteFile(path, []byte("host: collector.internal\nport: 5140\nssl_verify: false\n"), 0o600))

	cfg, err := LoadFile(path)
	assert.NoError(t, err)
	assert.False(t, cfg.SSLVerify)
}

func TestLoadFileMissingFile(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/config.yml")
	assert.Error(t, err)
}

func TestValidateRequiresHostAndPort(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Host = "collector.internal"
	assert.Error(t, cfg.Validate())

	cfg.Port = 5140
	assert.NoError(t, cfg.Validate())

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateKeyCertPairing(t *testing.T) {
	cfg := Default()
	cfg.Host = "collector.internal"
	cfg.Port = 5140
	cfg.SSLEnable = true
	cfg.KeyFile = "key.pem"
	assert.Error(t, cfg.Validate(), "keyfile without certfile must fail")

	cfg.CertFile = "cert.pem"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultTunablesNonZero(t *testing.T) {
	tun := DefaultTunables()
	assert.Greater(t, tun.FlushCount, 0)
	assert.Greater(t, int64(tun.FlushInterval), int64(0))
	assert.Greater(t, tun.MaxPayloadBytes, 0)
}
