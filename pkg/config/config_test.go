package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Provider)
	assert.Equal(t, DefaultMaxTries, cfg.MaxTries)
	assert.Equal(t, DefaultBundleTokenBudget, cfg.BundleTokenBudget)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	content := `
provider: openai
max_tries: 5
bundle_token_budget: 2000
verify:
  tool: go
  timeout_seconds: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, 5, cfg.MaxTries)
	assert.Equal(t, 2000, cfg.BundleTokenBudget)
	assert.Equal(t, "go", cfg.Verify.Tool)
	assert.Equal(t, 60, cfg.Verify.TimeoutSeconds)
	// Untouched sections keep defaults.
	assert.Equal(t, int64(1024*1024), cfg.Index.MaxFileSizeBytes)
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: cohere\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestResolveAPIKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	cfg := DefaultConfig()
	key, err := cfg.ResolveAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", key)
}

func TestResolveAPIKeyFromKeyFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte("sk-file-456\n"), 0600))

	cfg := DefaultConfig()
	model := cfg.Models[ProviderAnthropic]
	model.KeyFile = keyFile
	cfg.Models[ProviderAnthropic] = model

	key, err := cfg.ResolveAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-file-456", key)
}

func TestResolveAPIKeyMissing(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := DefaultConfig()
	model := cfg.Models[ProviderAnthropic]
	model.KeyFile = filepath.Join(t.TempDir(), "absent")
	cfg.Models[ProviderAnthropic] = model

	_, err := cfg.ResolveAPIKey()
	assert.Error(t, err)
}

func TestEnsureStateDir(t *testing.T) {
	repo := t.TempDir()
	dir, err := EnsureStateDir(repo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, StateDirName), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
