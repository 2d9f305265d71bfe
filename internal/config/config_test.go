package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/config"
)

func clientFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.ClientFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func serverFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.ServerFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := config.LoadServer(serverFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:5050", cfg.Listen)
	assert.Empty(t, cfg.KeyFile)
	assert.Equal(t, "NOTICE", cfg.Log.Level)
}

func TestLoadClient_RequiresUsername(t *testing.T) {
	_, err := config.LoadClient(clientFlags(t))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestLoadClient_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaychat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: chat.example
port: 6000
username: fromfile
chunk_size: 1024
log:
  level: debug
`), 0o600))

	t.Setenv("RELAYCHAT_PORT", "7000")
	t.Setenv("RELAYCHAT_LOG_LEVEL", "info")

	cfg, err := config.LoadClient(clientFlags(t, "--config", path, "-u", "alice"))
	require.NoError(t, err)

	assert.Equal(t, "chat.example", cfg.Host)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "chat.example:7000", cfg.Addr())
}

func TestLoadClient_Validation(t *testing.T) {
	cases := map[string][]string{
		"broadcast name": {"-u", "*"},
		"spaces":         {"-u", "a b"},
		"port":           {"-u", "a", "--port", "70000"},
		"chunk":          {"-u", "a", "--chunk-size", "0"},
		"level":          {"-u", "a", "--log-level", "loud"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadClient(clientFlags(t, args...))
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestLoadServer_PassphraseNeedsKeyFile(t *testing.T) {
	_, err := config.LoadServer(serverFlags(t, "--key-passphrase", "x"))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestLoadServer_MissingConfigFile(t *testing.T) {
	_, err := config.LoadServer(serverFlags(t, "--config", filepath.Join(t.TempDir(), "nope.toml")))
	assert.Error(t, err)
}
