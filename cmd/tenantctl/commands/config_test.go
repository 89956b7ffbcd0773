package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/tenantctl/internal/app"
)

// loadWithArgs parses args through the real command tree and returns the
// resulting configuration.
func loadWithArgs(t *testing.T, environ []string, args ...string) (*app.Config, error) {
	t.Helper()

	var (
		cfg     *app.Config
		loadErr error
	)
	root := newRootCommand()
	root.Commands = append(root.Commands, &cli.Command{
		Name:  "show",
		Flags: serveCommand(nil).Flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, loadErr = loadConfig(cmd.String("config"), cmd, func() []string { return environ })
			return nil
		},
	})

	require.NoError(t, root.Run(context.Background(), append([]string{"tenantctl"}, args...)))
	return cfg, loadErr
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
log_level = "debug"
log_format = "json"

[auth]
domain = "tenant.example.com"
client_id = "cid"
client_secret = "sec"
scope = "read:users read:roles"
use_cache = false

[client]
rate_limit = 2.5
rate_burst = 5
max_retries = 3
timeout = "10s"
`)

	cfg, err := loadWithArgs(t, nil, "--config", path, "show")
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, app.LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "tenant.example.com", cfg.Auth.Domain)
	assert.Equal(t, "read:users read:roles", cfg.Auth.Scope)
	require.NotNil(t, cfg.Auth.UseCache)
	assert.False(t, *cfg.Auth.UseCache)
	assert.InDelta(t, 2.5, cfg.Client.RateLimit, 0.001)
	assert.Equal(t, 5, cfg.Client.RateBurst)
	assert.EqualValues(t, 3, cfg.Client.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout)
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
[auth]
domain = "file.example.com"
client_id = "file-cid"
client_secret = "sec"

[server]
port = 5000
`)
	environ := []string{
		"TENANTCTL_AUTH__DOMAIN=env.example.com",
		"TENANTCTL_AUTH__CLIENT_ID=env-cid",
		"TENANTCTL_SERVER__PORT=6000",
		"UNRELATED=1",
	}

	cfg, err := loadWithArgs(t, environ, "--config", path, "--auth--client-id", "flag-cid", "show", "--server--port", "7000")
	require.NoError(t, err)

	assert.Equal(t, "env.example.com", cfg.Auth.Domain, "env overrides file")
	assert.Equal(t, "flag-cid", cfg.Auth.ClientID, "flags override env")
	assert.EqualValues(t, 7000, cfg.Server.Port)
	assert.Equal(t, app.DefaultConfigServerHost, cfg.Server.Host, "defaults fill the rest")
}

func TestLoadConfig_EnvUseCache(t *testing.T) {
	t.Parallel()

	environ := []string{
		"TENANTCTL_AUTH__DOMAIN=tenant.example.com",
		"TENANTCTL_AUTH__CLIENT_ID=cid",
		"TENANTCTL_AUTH__CLIENT_SECRET=sec",
		"TENANTCTL_AUTH__USE_CACHE=false",
	}

	cfg, err := loadWithArgs(t, environ, "show")
	require.NoError(t, err)
	require.NotNil(t, cfg.Auth.UseCache)
	assert.False(t, *cfg.Auth.UseCache)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Parallel()

	_, err := loadWithArgs(t, nil, "show")
	require.ErrorContains(t, err, "invalid config")

	_, err = loadWithArgs(t, nil, "--config", filepath.Join(t.TempDir(), "missing.toml"), "show")
	require.ErrorContains(t, err, "loading config file")

	path := writeConfigFile(t, "log_format = 'xml'\n[auth]\ndomain='d.example.com'\nclient_id='c'\nclient_secret='s'\n")
	_, err = loadWithArgs(t, nil, "--config", path, "show")
	require.ErrorContains(t, err, "invalid config")
}

func TestParseQuery(t *testing.T) {
	t.Parallel()

	q, err := parseQuery(nil)
	require.NoError(t, err)
	assert.Nil(t, q)

	q, err = parseQuery([]string{"q=email:\"a@b.c\"", "fields=id", "fields=name", "empty="})
	require.NoError(t, err)
	assert.Equal(t, `email:"a@b.c"`, q["q"])
	assert.Equal(t, []string{"id", "name"}, q["fields"])
	assert.Equal(t, "", q["empty"])

	_, err = parseQuery([]string{"novalue"})
	require.Error(t, err)
	_, err = parseQuery([]string{"=x"})
	require.Error(t, err)
}
