package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
)

func noEnv(string) string { return "" }

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "templates", cfg.Templates.Dir)
	assert.Equal(t, ".html", cfg.Templates.Extension)
	assert.Equal(t, 256, cfg.Templates.CacheSize)
	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Development.HotReload)
	assert.Equal(t, "/__vellum/reload", cfg.Development.ReloadPath)
	assert.Equal(t, 300*time.Millisecond, cfg.Development.Debounce)
	assert.True(t, cfg.Security.EnableNonce)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vellum.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  dir: views
  extension: htm
  cache_size: 10
server:
  port: 3000
  environment: Production
  allowed_origins:
    - http://localhost:3000
development:
  debounce: 50ms
log:
  level: debug
  format: json
`), 0644))

	v := viper.New()
	require.NoError(t, Setup(v, path, noEnv))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "views", cfg.Templates.Dir)
	assert.Equal(t, ".htm", cfg.Templates.Extension)
	assert.Equal(t, 10, cfg.Templates.CacheSize)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset keys keep defaults")
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 50*time.Millisecond, cfg.Development.Debounce)

	logCfg := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, logCfg.Level)
	assert.Equal(t, "json", logCfg.Format)
}

func TestSetupConfigFileFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0644))

	v := viper.New()
	require.NoError(t, Setup(v, "", func(key string) string {
		if key == "VELLUM_CONFIG_FILE" {
			return path
		}
		return ""
	}))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestSetupMissingFiles(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.NoError(t, Setup(viper.New(), "", noEnv), "missing .vellum.yml falls back to defaults")

	err = Setup(viper.New(), "does-not-exist.yml", noEnv)
	require.Error(t, err)
	assert.True(t, errors.HasErrorType(err, errors.ErrorTypeConfig))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("VELLUM_SERVER_PORT", "4321")
	t.Setenv("VELLUM_TEMPLATES_CACHE_SIZE", "7")
	t.Setenv("VELLUM_DEVELOPMENT_HOT_RELOAD", "false")

	v := viper.New()
	require.NoError(t, Setup(v, "", noEnv))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 4321, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Templates.CacheSize)
	assert.False(t, cfg.Development.HotReload)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.port", 70000)
	v.Set("server.environment", "staging")

	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.True(t, errors.HasErrorCode(err, errors.ErrCodeConfigInvalid))
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "server.environment")
}

func TestLoadUsesGlobalViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults(viper.GetViper())
	viper.Set("server.host", "0.0.0.0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}
