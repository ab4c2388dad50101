// Package config loads ddns-sd's configuration with viper defaults,
// then an optional config file, then DDNSSD_-prefixed environment
// variables, unmarshalled into a typed struct.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// HostRecordConfig carries the optional host DNS record: a single
// record always included in the desired set when Enabled.
type HostRecordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	TTL     uint32 `mapstructure:"ttl"`
	Value   string `mapstructure:"value"`
}

// CloudDNSConfig holds the clouddns backend's credentials/zone.
type CloudDNSConfig struct {
	ZoneID  string `mapstructure:"zone_id"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// SQLDNSConfig holds the sqldns backend's connection string.
type SQLDNSConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EtcdConfig holds the optional cross-instance reconciliation lock's
// etcd connection and lease parameters.
type EtcdConfig struct {
	Enabled           bool     `mapstructure:"lock_enabled"`
	Endpoints         []string `mapstructure:"endpoints"`
	PathPrefix        string   `mapstructure:"path_prefix"`
	LockTTLSeconds    int      `mapstructure:"lock_ttl_seconds"`
	LockTimeoutMillis int      `mapstructure:"lock_timeout_millis"`
	LockRetryMillis   int      `mapstructure:"lock_retry_millis"`
}

// LoggingConfig holds logger verbosity settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// AppConfig holds the core reconciliation-engine settings: the zone
// containers are published into, the host identity, which backends to
// reconcile against, and the optional always-on host record.
type AppConfig struct {
	BaseDomain     string   `mapstructure:"base_domain"`
	Hostname       string   `mapstructure:"hostname"`
	BackendClasses []string `mapstructure:"backend_classes"`
	EnableMetrics  bool     `mapstructure:"enable_metrics"`
	DockerHost     string   `mapstructure:"docker_host"`
	QueueSize      int      `mapstructure:"queue_size"`

	HostDNSRecord HostRecordConfig `mapstructure:"host_dns_record"`
}

// Config is the top-level configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  LoggingConfig  `mapstructure:"log"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	CloudDNS CloudDNSConfig `mapstructure:"clouddns"`
	SQLDNS   SQLDNSConfig   `mapstructure:"sqldns"`
}

// InitConfig sets defaults, locates the optional config file, and
// layers DDNSSD_-prefixed environment variables on top.
func InitConfig() error {
	viper.SetDefault("app.base_domain", "services.local.")
	viper.SetDefault("app.hostname", "")
	viper.SetDefault("app.backend_classes", []string{"sqldns"})
	viper.SetDefault("app.enable_metrics", true)
	viper.SetDefault("app.docker_host", "unix:///var/run/docker.sock")
	viper.SetDefault("app.queue_size", 256)
	viper.SetDefault("app.host_dns_record.enabled", false)

	viper.SetDefault("log.level", "INFO")

	viper.SetDefault("etcd.lock_enabled", false)
	viper.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	viper.SetDefault("etcd.path_prefix", "/ddns-sd/locks")
	viper.SetDefault("etcd.lock_ttl_seconds", 5)
	viper.SetDefault("etcd.lock_timeout_millis", 2000)
	viper.SetDefault("etcd.lock_retry_millis", 100)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/ddns-sd")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: reading config file: %w", err)
		}
	}

	viper.SetEnvPrefix("DDNSSD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the layered configuration into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode into struct: %w", err)
	}
	if cfg.App.BaseDomain == "" {
		return nil, fmt.Errorf("config: app.base_domain is required")
	}
	if cfg.App.Hostname == "" {
		return nil, fmt.Errorf("config: app.hostname is required")
	}
	if len(cfg.App.BackendClasses) == 0 {
		return nil, fmt.Errorf("config: app.backend_classes must be a non-empty ordered list")
	}
	return &cfg, nil
}
