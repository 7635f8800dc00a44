package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Development.DevMode = true
	require.NoError(t, cfg.Validate())
}

func TestNewDefaultsToDevModeWhenJWTSecretUnset(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := New()
	require.NoError(t, err)
	assert.True(t, cfg.Development.DevMode)
}

func TestNewAppliesOptionsAfterEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := New(WithPort(9100))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}

func TestWithConfigFileOverlaysOnlyPresentFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tachikoma.yaml")
	yamlBody := `
serviceName: tachikoma-prod
gateway:
  jwtIssuer: tachikoma-prod-issuer
  allowedHosts:
    - api.example.com
delegation:
  workerCount: 4
completer:
  provider: mock
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := New(WithConfigFile(path), WithDevMode(true))
	require.NoError(t, err)

	assert.Equal(t, "tachikoma-prod", cfg.ServiceName)
	assert.Equal(t, "tachikoma-prod-issuer", cfg.Gateway.JWTIssuer)
	assert.Contains(t, cfg.Gateway.AllowedHosts, "api.example.com")
	assert.Equal(t, 4, cfg.Delegation.WorkerCount)
	// unset fields keep their defaults.
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Delegation.Timeout)
}

func TestWithConfigFileMissingFileFails(t *testing.T) {
	_, err := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}
