package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	require.Equal(t, ProviderMock, cfg.Provider)
	require.Equal(t, "http://127.0.0.1:8085", cfg.IdentityURL)
	require.Equal(t, "apexkit.db", cfg.StoragePath)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, "http://127.0.0.1:9000/", cfg.S3BaseEndpoint)
}

func TestLoad_JSONOverlayIsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"provider": "hosted",
		"identity_url": "https://id.example.com",
		"access_token_ttl": "5m"
	}`), 0o600))

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)

	require.Equal(t, ProviderHosted, cfg.Provider)
	require.Equal(t, "https://id.example.com", cfg.IdentityURL)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	// Keys absent from the file keep their defaults.
	require.Equal(t, "apexkit.db", cfg.StoragePath)
	require.Equal(t, 24*time.Hour, cfg.RefreshTokenTTL)
}

func TestLoad_JSONInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token_ttl": "soon"}`), 0o600))

	_, err := Load([]string{"-config", path})
	require.Error(t, err)
}

func TestLoad_EnvOverridesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"identity_url": "https://json.example.com"}`), 0o600))

	t.Setenv("APEX_IDENTITY_URL", "https://env.example.com")
	t.Setenv("APEX_ACCESS_TOKEN_TTL", "30s")

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)

	require.Equal(t, "https://env.example.com", cfg.IdentityURL)
	require.Equal(t, 30*time.Second, cfg.AccessTokenTTL)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("APEX_PROVIDER", "mock")
	t.Setenv("APEX_DATABASE_DSN", "postgres://env")

	cfg, err := Load([]string{
		"-provider", "hosted",
		"-database-dsn", "postgres://flag",
		"-refresh-token-ttl", "48h",
	})
	require.NoError(t, err)

	require.Equal(t, ProviderHosted, cfg.Provider)
	require.Equal(t, "postgres://flag", cfg.DatabaseDSN)
	require.Equal(t, 48*time.Hour, cfg.RefreshTokenTTL)
}

func TestLoad_UnknownProvider(t *testing.T) {
	_, err := Load([]string{"-provider", "firebase"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load([]string{"-config", filepath.Join(t.TempDir(), "absent.json")})
	require.Error(t, err)
}
