package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadRequiresBaseDomainAndHostname(t *testing.T) {
	resetViper(t)
	require.NoError(t, InitConfig())

	_, err := Load()
	require.Error(t, err, "base_domain defaults to non-empty but hostname is required")

	t.Setenv("DDNSSD_APP_HOSTNAME", "host1.example.com.")
	resetViper(t)
	require.NoError(t, InitConfig())
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "host1.example.com.", cfg.App.Hostname)
	require.Equal(t, "services.local.", cfg.App.BaseDomain)
}

func TestLoadDefaultsBackendClassesToSQLDNS(t *testing.T) {
	resetViper(t)
	t.Setenv("DDNSSD_APP_HOSTNAME", "host1.example.com.")
	require.NoError(t, InitConfig())
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"sqldns"}, cfg.App.BackendClasses)
}

func TestEnvOverridesDefault(t *testing.T) {
	resetViper(t)
	t.Setenv("DDNSSD_APP_HOSTNAME", "host1.example.com.")
	t.Setenv("DDNSSD_APP_BASE_DOMAIN", "example.com.")
	t.Setenv("DDNSSD_APP_ENABLE_METRICS", "false")
	require.NoError(t, InitConfig())
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "example.com.", cfg.App.BaseDomain)
	require.False(t, cfg.App.EnableMetrics)
}
