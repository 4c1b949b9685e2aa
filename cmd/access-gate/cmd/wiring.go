package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Sentinel-Gate/accessgate/internal/adapter/inbound/admin"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/inbound/http"
	auditfile "github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/audit"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/elasticsearch"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/redisstore"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/sqlstore"
	"github.com/Sentinel-Gate/accessgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/accessgate/internal/config"
	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
	"github.com/Sentinel-Gate/accessgate/internal/domain/auth"
	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// policyBackend is a policy repository that may own a connection.
type policyBackend interface {
	policy.PolicyRepository
	Close() error
}

// auditBackend is an audit sink that can also answer queries.
type auditBackend interface {
	audit.Store
	audit.QueryStore
}

// app holds every wired component of a running server.
type app struct {
	policies   policyBackend
	stateStore *state.FileStateStore // memory driver only

	auditStore   auditBackend
	auditService *service.AuditService

	registry  *condition.Registry
	decisions *service.DecisionService
	admin     *service.PolicyAdminService
	eval      *service.PolicyEvaluationService
	stats     *service.StatsService

	metrics  *http.Metrics
	gatherer prometheus.Gatherer
	server   *http.Server
}

// memoryBackend adapts the in-memory store to policyBackend.
type memoryBackend struct{ *memory.PolicyStore }

func (memoryBackend) Close() error { return nil }

// newRegistry returns the condition registry with the built-in types
// and CEL expressions, evaluated in the configured timezone.
func newRegistry(cfg *config.Config) (*condition.Registry, error) {
	reg := condition.NewRegistry(condition.WithLocation(cfg.Location()))
	if err := cel.Register(reg); err != nil {
		return nil, fmt.Errorf("register expression conditions: %w", err)
	}
	return reg, nil
}

// openPolicyBackend opens the configured policy store. The memory driver
// returns a state store so policies survive restarts.
func openPolicyBackend(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) (policyBackend, *state.FileStateStore, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		s, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		logger.Info("policy store ready", "driver", cfg.Store.Driver)
		return s, nil, nil

	case config.DriverRedis:
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("policy store ready", "driver", cfg.Store.Driver, "addr", cfg.Store.Redis.Addr)
		return s, nil, nil

	default:
		logger.Info("policy store ready", "driver", config.DriverMemory, "state_file", statePath)
		return memoryBackend{memory.NewPolicyStore()}, state.NewFileStateStore(statePath, logger), nil
	}
}

// openAuditBackend opens the configured audit sink.
func openAuditBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auditBackend, error) {
	switch cfg.Audit.Output {
	case config.OutputFile:
		fs, err := auditfile.NewFileStore(auditfile.FileConfig{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		}, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil

	case config.OutputElasticsearch:
		es, err := elasticsearch.New(elasticsearch.Config{
			Addresses: cfg.Audit.Elasticsearch.Addresses,
			Index:     cfg.Audit.Elasticsearch.Index,
			Username:  cfg.Audit.Elasticsearch.Username,
			Password:  cfg.Audit.Elasticsearch.Password,
		})
		if err != nil {
			return nil, err
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := es.EnsureIndex(ensureCtx); err != nil {
			return nil, err
		}
		return es, nil

	case config.OutputStdout:
		return memory.NewAuditStoreWithWriter(os.Stdout, cfg.Audit.BufferSize), nil

	default:
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil
	}
}

// loadPolicies restores state.json (memory driver) and then seeds the
// store from the policy file and inline policies when it is still empty.
func (a *app) loadPolicies(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if a.stateStore != nil && a.stateStore.Exists() {
		st, err := a.stateStore.Load()
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if _, err := a.admin.LoadPoliciesFromState(ctx, st); err != nil {
			return err
		}
	}

	seeds, err := seedPolicies(cfg)
	if err != nil {
		return err
	}
	if _, err := a.admin.SeedPolicies(ctx, seeds); err != nil {
		return err
	}

	all, err := a.admin.List(ctx)
	if err != nil {
		return err
	}
	logger.Info("policies loaded", "count", len(all))
	return nil
}

// seedPolicies returns the policy file entries followed by inline ones.
func seedPolicies(cfg *config.Config) ([]policy.Policy, error) {
	var seeds []policy.Policy
	if cfg.PolicyFile != "" {
		pf, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, pf.ToPolicies()...)
	}
	return append(seeds, cfg.SeedPolicies()...), nil
}

// newKeyRing builds the admin key ring from configuration.
func newKeyRing(cfg *config.Config) (*auth.KeyRing, error) {
	keys := make([]auth.APIKey, 0, len(cfg.Admin.APIKeys))
	for _, k := range cfg.Admin.APIKeys {
		keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.KeyHash})
	}
	return auth.NewKeyRing(keys)
}

// buildApp wires stores, services and the HTTP server from cfg.
// On error every component opened so far is closed.
func buildApp(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(logger)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = http.NewMetrics(reg)
	a.gatherer = reg

	if a.registry, err = newRegistry(cfg); err != nil {
		return nil, err
	}
	if a.policies, a.stateStore, err = openPolicyBackend(ctx, cfg, statePath, logger); err != nil {
		return nil, err
	}
	if a.auditStore, err = openAuditBackend(ctx, cfg, logger); err != nil {
		return nil, err
	}

	a.auditService = service.NewAuditService(a.auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(config.Duration(cfg.Audit.FlushInterval, time.Second)),
		service.WithSendTimeout(config.Duration(cfg.Audit.SendTimeout, 100*time.Millisecond)),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
		service.WithDropObserver(a.metrics.ObserveAuditDrop),
	)
	a.auditService.Start(ctx)

	a.stats = service.NewStatsService()
	a.decisions = service.NewDecisionService(a.policies, a.registry, logger,
		service.WithDefaultAction(cfg.DefaultAction()),
		service.WithStoreTimeout(config.Duration(cfg.Engine.StoreTimeout, service.DefaultStoreTimeout)),
		service.WithCompileCacheSize(cfg.Engine.CompileCacheSize),
		service.WithDecisionMetrics(a.metrics),
		service.WithDecisionMetrics(a.stats),
	)
	a.admin = service.NewPolicyAdminService(a.policies, a.stateStore, a.decisions, a.auditService, logger)
	a.eval = service.NewPolicyEvaluationService(a.decisions, a.policies, a.auditService, logger)

	if err = a.loadPolicies(ctx, cfg, logger); err != nil {
		return nil, err
	}

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithHealthChecker(http.NewHealthChecker(a.decisions, a.auditService, Version)),
		http.WithMetrics(a.metrics, a.gatherer),
		http.WithTimeouts(
			config.Duration(cfg.Server.ReadTimeout, 10*time.Second),
			config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
			config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second),
		),
	}
	if cfg.Admin.Enabled {
		keys, kerr := newKeyRing(cfg)
		if kerr != nil {
			return nil, kerr
		}
		api := admin.NewAdminAPIHandler(
			admin.WithPolicyAdminService(a.admin),
			admin.WithPolicyEvaluationService(a.eval),
			admin.WithAuditQuery(a.auditStore),
			admin.WithStats(a.stats),
			admin.WithKeyRing(keys),
			admin.WithAPILogger(logger),
			admin.WithRateLimit(cfg.Admin.RateLimit.RequestsPerMinute, cfg.Admin.RateLimit.Burst),
		)
		opts = append(opts, http.WithAdminHandler(api.Routes()))
		logger.Info("admin API enabled", "path", "/admin/api/", "api_keys", keys.Len())
	}
	a.server = http.NewServer(opts...)
	return a, nil
}

// close drains the audit queue and releases stores. Safe on a partially
// built app.
func (a *app) close(logger *slog.Logger) {
	if a.auditService != nil {
		a.auditService.Stop()
	}
	var errs []error
	if a.auditStore != nil {
		errs = append(errs, a.auditStore.Close())
	}
	if a.policies != nil {
		errs = append(errs, a.policies.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("error closing stores", "error", err)
	}
}
