package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/adinsight")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 90*24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.WebsiteFetchTimeout)
	assert.Equal(t, "@daily", cfg.CacheCleanupSchedule)
	assert.Equal(t, 90*24*time.Hour, cfg.AccessLogRetention)
	assert.Equal(t, 2840, cfg.DataForSEOLocationCode)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CACHE_TTL", "48h")
	t.Setenv("MAX_CONCURRENT_JOBS", "9")
	t.Setenv("DATAFORSEO_LOGIN", "login@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 9, cfg.MaxConcurrentJobs)
	assert.Equal(t, "login@example.com", cfg.DataForSEOLogin)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OPENAI_MODEL=test-model\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OPENAI_MODEL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test-model", cfg.OpenAIModel)
}

func TestValidateListsMissingSettings(t *testing.T) {
	cfg := &Config{MaxConcurrentJobs: 1, CacheTTL: time.Hour}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "ADMIN_TOKEN")
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := &Config{JWTSecret: "super-secret", OpenAIAPIKey: "sk-live", DataForSEOPassword: "pw"}

	out := cfg.String()
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "sk-live")
	assert.Contains(t, out, "********")
}
