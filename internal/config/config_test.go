package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// chdirTemp keeps Load from picking up a .env in the package directory.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_ValidYAML(t *testing.T) {
	chdirTemp(t)
	path := writeConfig(t, `
server:
  http_addr: ":9000"
poll:
  interval: 5s
source:
  kind: qbittorrent
  url: http://qb:8081
auth:
  allowed_chat_ids: [1, 2]
  max_age: 1h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 5*time.Second, cfg.Poll.FetchTimeout, "fetch timeout defaults to the interval")
	assert.Equal(t, []int64{1, 2}, cfg.Auth.AllowedChatIDs)
	assert.Equal(t, time.Hour, cfg.Auth.MaxAge)
	assert.Equal(t, 5, cfg.Client.MaxAttempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	chdirTemp(t)
	path := writeConfig(t, `
source:
  url: http://file:8081
auth:
  allowed_chat_ids: [1]
`)
	t.Setenv("QBITTORRENT_URL", "http://env:8081")
	t.Setenv("QBITTORRENT_PASSWORD", "pw")
	t.Setenv("TG_BOT_TOKEN", "tok")
	t.Setenv("ALLOWED_CHAT_IDS", "10, 20,")
	t.Setenv("TMDB_API_KEY", "k")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:8081", cfg.Source.URL)
	assert.Equal(t, "pw", cfg.Source.Password)
	assert.Equal(t, "tok", cfg.Auth.BotToken)
	assert.Equal(t, []int64{10, 20}, cfg.Auth.AllowedChatIDs)
	assert.False(t, cfg.EnrichEnabled(), "enrich.enabled is still false")
}

func TestLoad_DotEnvFile(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile(".env", []byte("QBITTORRENT_URL=http://dotenv:8081\n"), 0o644))
	t.Setenv("QBITTORRENT_URL", "")
	os.Unsetenv("QBITTORRENT_URL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://dotenv:8081", cfg.Source.URL)
}

func TestLoad_Errors(t *testing.T) {
	chdirTemp(t)
	t.Setenv("QBITTORRENT_URL", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "source:\n  kind: qbittorrent\n"))
	assert.ErrorContains(t, err, "source.url")

	_, err = Load(writeConfig(t, "source:\n  kind: ftp\n"))
	assert.ErrorContains(t, err, "unknown source.kind")

	t.Setenv("ALLOWED_CHAT_IDS", "12,abc")
	_, err = Load(writeConfig(t, "source:\n  kind: simulated\n"))
	assert.ErrorContains(t, err, "ALLOWED_CHAT_IDS")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Source.Kind = "simulated"
	require.NoError(t, cfg.Validate())

	cfg.Source.FailureRate = 2
	assert.Error(t, cfg.Validate())
	cfg.Source.FailureRate = 0

	cfg.MQTT.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.MQTT.Broker = "tcp://localhost:1883"
	assert.NoError(t, cfg.Validate())

	cfg.Client.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestDefaultConfigFileParses(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	path := filepath.Join(wd, "..", "..", DefaultPath)

	chdirTemp(t)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)
}
