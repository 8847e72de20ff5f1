package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
environment: production
exchange:
  network: tcp
  address: 0.0.0.0:7000
  password: hunter2
ca:
  common_name: TestCA
  key_type: rsa
logging:
  level: debug
metrics:
  enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "0.0.0.0:7000", cfg.Exchange.Address)
	assert.Equal(t, "hunter2", cfg.Exchange.Password)
	assert.Equal(t, "TestCA", cfg.CA.CommonName)
	assert.Equal(t, "rsa", cfg.CA.KeyType)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	// defaults fill the gaps
	assert.Equal(t, 365, cfg.Exchange.ValidityDays)
	assert.Equal(t, 3650, cfg.CA.RootDays)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromJSON(t *testing.T) {
	path := writeFile(t, "config.json",
		`{"exchange": {"password": "pw", "address": "127.0.0.1:7001"}}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.Exchange.Address)
	require.NoError(t, cfg.Validate())
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("LARMO_TEST_PASSWORD", "from-env")

	path := writeFile(t, "config.yaml", `
exchange:
  password: ${LARMO_TEST_PASSWORD}
  address: ${LARMO_TEST_ADDR:127.0.0.1:7002}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Exchange.Password)
	assert.Equal(t, "127.0.0.1:7002", cfg.Exchange.Address)
}

func TestPasswordFallsBackToEnv(t *testing.T) {
	t.Setenv("LARMO_PASSWORD", "ambient")

	cfg := Default()
	assert.Equal(t, "ambient", cfg.Exchange.Password)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("LARMO_PASSWORD", "")
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Exchange.Password = "pw"
	cfg.Exchange.Network = "udp"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Exchange.Password = "pw"
	cfg.CA.KeyType = "dsa"
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("LARMO_DOTENV_PROBE=yes\n"), 0o644))

	LoadEnvFile(envPath)
	assert.Equal(t, "yes", os.Getenv("LARMO_DOTENV_PROBE"))
	t.Cleanup(func() { os.Unsetenv("LARMO_DOTENV_PROBE") })
}
