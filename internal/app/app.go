// Package app wires ddns-sd's dependencies together: construct the
// runtime client, the configured backends, the optional
// reconciliation lock, and the engine, then expose a single Run/Close
// pair to cmd/ddns-sd.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/backend/clouddns"
	"github.com/auto-dns/ddns-sd/internal/backend/sqldns"
	"github.com/auto-dns/ddns-sd/internal/config"
	"github.com/auto-dns/ddns-sd/internal/container"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/auto-dns/ddns-sd/internal/engine"
	"github.com/auto-dns/ddns-sd/internal/lock"
	"github.com/auto-dns/ddns-sd/internal/metrics"
	"github.com/auto-dns/ddns-sd/internal/runtime"
	dockercli "github.com/docker/docker/client"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// App owns every long-lived dependency the daemon needs and the
// goroutines/servers built on top of them.
type App struct {
	cfg          *config.Config
	logger       zerolog.Logger
	dockerClient *dockercli.Client
	etcdClient   *clientv3.Client
	metricsSrv   *http.Server
	engine       *engine.Engine
}

// New builds an App from cfg: the Docker watcher/runtime, every
// backend named in cfg.App.BackendClasses (via backend.Registry), the
// optional etcd reconciliation lock, and the engine itself.
func New(cfg *config.Config, logger zerolog.Logger, gitRevision string) (*App, error) {
	dockerClient, err := dockercli.NewClientWithOpts(
		dockercli.WithHost(cfg.App.DockerHost),
		dockercli.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create docker client: %w", err)
	}
	watcher := runtime.NewDockerWatcher(dockerClient, logger)

	registry := NewRegistry(cfg, logger)
	backends := make([]backend.Backend, 0, len(cfg.App.BackendClasses))
	for _, name := range cfg.App.BackendClasses {
		b, err := registry.Build(name, nil)
		if err != nil {
			dockerClient.Close()
			return nil, fmt.Errorf("app: build backend %q: %w", name, err)
		}
		backends = append(backends, b)
	}

	caps := container.Capabilities{HostFQDN: cfg.App.Hostname, BaseDomain: cfg.App.BaseDomain}
	host := hostRecordFrom(cfg.App.HostDNSRecord, cfg.App.Hostname)

	eng := engine.New(logger, watcher, watcher, backends, caps, host, cfg.App.QueueSize)

	a := &App{cfg: cfg, logger: logger, dockerClient: dockerClient, engine: eng}

	if cfg.Etcd.Enabled {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: 2 * time.Second,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: connect to etcd: %w", err)
		}
		a.etcdClient = etcdClient
		l := lock.NewEtcdLock(
			etcdClient,
			cfg.App.Hostname,
			cfg.Etcd.PathPrefix,
			time.Duration(cfg.Etcd.LockTTLSeconds)*time.Second,
			time.Duration(cfg.Etcd.LockTimeoutMillis)*time.Millisecond,
			time.Duration(cfg.Etcd.LockRetryMillis)*time.Millisecond,
			logger,
		)
		eng.SetLocker(l)
	}

	if cfg.App.EnableMetrics {
		metrics.RecordStart(gitRevision, time.Now().Unix())
		a.metricsSrv = metrics.Serve(fmt.Sprintf(":%d", metrics.DefaultPort))
	}

	return a, nil
}

// Run starts the metrics endpoint (if configured) and the engine, and
// blocks until ctx is cancelled or the engine returns.
func (a *App) Run(ctx context.Context) error {
	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error().Err(err).Msg("app: metrics server failed")
			}
		}()
	}

	a.logger.Info().Msg("app: starting engine")
	return a.engine.Run(ctx)
}

// Shutdown enqueues suppress_all (when graceful shutdown is
// requested) then terminate, giving the engine a chance to drain
// in-flight backend calls before Run returns.
func (a *App) Shutdown(ctx context.Context, suppress bool) error {
	if suppress {
		if err := a.engine.Enqueue(ctx, engine.NewSuppressAll()); err != nil {
			return err
		}
	}
	return a.engine.Enqueue(ctx, engine.NewTerminate())
}

// Close releases every external connection the App opened.
func (a *App) Close() error {
	var firstErr error
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("app: close metrics server: %w", err)
		}
	}
	if a.dockerClient != nil {
		if err := a.dockerClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("app: close docker client: %w", err)
		}
	}
	if a.etcdClient != nil {
		if err := a.etcdClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("app: close etcd client: %w", err)
		}
	}
	return firstErr
}

// NewRegistry builds the backend.Registry used by cmd/ddns-sd and the
// diagnostic CLIs, mapping the clouddns and sqldns backends to
// constructors closed over cfg.
func NewRegistry(cfg *config.Config, logger zerolog.Logger) *backend.Registry {
	r := backend.NewRegistry()
	r.Register("clouddns", func(map[string]any) (backend.Backend, error) {
		if cfg.CloudDNS.ZoneID == "" || cfg.CloudDNS.BaseURL == "" {
			return nil, fmt.Errorf("app: clouddns.zone_id and clouddns.base_url are required")
		}
		api := clouddns.NewHTTPAPI(cfg.CloudDNS.BaseURL, cfg.CloudDNS.APIKey, nil)
		return clouddns.New(api, cfg.CloudDNS.ZoneID, logger), nil
	})
	r.Register("sqldns", func(map[string]any) (backend.Backend, error) {
		if cfg.SQLDNS.DSN == "" {
			return nil, fmt.Errorf("app: sqldns.dsn is required")
		}
		db, err := sql.Open("pgx", cfg.SQLDNS.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: open sqldns connection: %w", err)
		}
		return sqldns.New(db, logger), nil
	})
	return r
}

// hostRecordFrom builds the optional host address record, scoped
// under hostname, or nil when disabled.
func hostRecordFrom(cfg config.HostRecordConfig, hostname string) *dnsrecord.DNSRecord {
	if !cfg.Enabled {
		return nil
	}
	var rr dnsrecord.DNSRecord
	switch cfg.Type {
	case "AAAA":
		rr = dnsrecord.NewAAAA(hostname, cfg.TTL, cfg.Value)
	default:
		rr = dnsrecord.NewA(hostname, cfg.TTL, cfg.Value)
	}
	return &rr
}
