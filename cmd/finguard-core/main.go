package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/altairalabs/finguard/internal/api"
	"github.com/altairalabs/finguard/internal/aps"
	"github.com/altairalabs/finguard/internal/audit"
	"github.com/altairalabs/finguard/internal/config"
	"github.com/altairalabs/finguard/internal/km"
	"github.com/altairalabs/finguard/internal/policy"
	"github.com/altairalabs/finguard/internal/pvs"
	"github.com/altairalabs/finguard/internal/rpe"
	"github.com/altairalabs/finguard/internal/store"
	"github.com/altairalabs/finguard/internal/transform"
	"github.com/altairalabs/finguard/pkg/logging"
	"github.com/altairalabs/finguard/pkg/metrics"
)

// flags groups all CLI flags for the finguard-core binary.
type flags struct {
	apiAddr      string
	healthAddr   string
	metricsAddr  string
	postgresConn string
	integrityKey string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.apiAddr, "api-addr", ":8080", "API server listen address")
	flag.StringVar(&f.healthAddr, "health-addr", ":8081", "Health probe listen address")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics server listen address")
	flag.StringVar(&f.postgresConn, "postgres-conn", "", "Postgres connection string")
	flag.StringVar(&f.integrityKey, "audit-integrity-key", "", "Hex-encoded HMAC key seeding the audit ledger's hash chain")
	flag.Parse()

	envFallback(&f.postgresConn, "", "POSTGRES_CONN")
	envFallback(&f.integrityKey, "", "AUDIT_INTEGRITY_KEY")
	envFallback(&f.apiAddr, ":8080", "API_ADDR")
	envFallback(&f.healthAddr, ":8081", "HEALTH_ADDR")
	envFallback(&f.metricsAddr, ":9090", "METRICS_ADDR")
	return f
}

func envFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	if f.postgresConn == "" {
		return fmt.Errorf("--postgres-conn or POSTGRES_CONN is required")
	}

	integrityKey, err := resolveIntegrityKey(f.integrityKey)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.DefaultOptions()
	cfg.PostgresDSN = f.postgresConn
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pool, err := store.NewPool(ctx, f.postgresConn)
	if err != nil {
		return fmt.Errorf("creating postgres pool: %w", err)
	}
	defer pool.Close()

	migrator, err := store.NewMigrator(f.postgresConn, log)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	log.V(1).Info("migrations complete")

	components, err := buildComponents(ctx, cfg, pool, integrityKey, log)
	if err != nil {
		return err
	}
	defer func() { _ = components.ledger.Close() }()

	scheduler := startKeyMaintenance(ctx, components.km, cfg.KeyMaintenanceCron, log)
	defer scheduler.Stop()

	httpMetrics := metrics.NewHTTPMetrics()
	handler := api.NewHandler(
		components.km, components.auditAdapter, components.ledger,
		components.transform, components.policy, components.pvs,
		components.aps, components.rpe, httpMetrics, log,
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	apiSrv := &http.Server{Addr: f.apiAddr, Handler: withMiddleware(mux, httpMetrics)}
	healthSrv := newHealthServer(f.healthAddr, pool)
	metricsSrv := newMetricsServer(f.metricsAddr)

	startHTTPServer(log, "api", f.apiAddr, apiSrv)
	startHTTPServer(log, "health", f.healthAddr, healthSrv)
	startHTTPServer(log, "metrics", f.metricsAddr, metricsSrv)

	log.Info("finguard-core ready", "api", f.apiAddr, "health", f.healthAddr, "metrics", f.metricsAddr)

	<-ctx.Done()
	log.Info("shutting down")
	shutdownServers(log, apiSrv, healthSrv, metricsSrv)
	return nil
}

func resolveIntegrityKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("--audit-integrity-key or AUDIT_INTEGRITY_KEY is required")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding audit integrity key: %w", err)
	}
	return key, nil
}

func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error", "server", name)
		}
	}()
}

func shutdownServers(log logr.Logger, servers ...*http.Server) {
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	for _, s := range servers {
		if err := s.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error")
		}
	}
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

func newHealthServer(addr string, pool *pgxpool.Pool) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("postgres unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// startKeyMaintenance schedules the Key Manager's auto-rotation/backup-purge
// pass on cronExpr, running immediately-scheduled occurrences in the
// background for the binary's lifetime.
func startKeyMaintenance(ctx context.Context, manager *km.Manager, cronExpr string, log logr.Logger) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc(cronExpr, func() {
		result, err := manager.Maintenance(ctx, func(_ time.Time) (int, error) { return 0, nil })
		if err != nil {
			log.Error(err, "key maintenance failed")
			return
		}
		log.Info("key maintenance complete",
			"expired", result.Expired, "autoRotated", result.AutoRotated, "purged", result.BackupsPurged)
	})
	if err != nil {
		log.Error(err, "invalid key maintenance schedule, maintenance disabled", "schedule", cronExpr)
		return c
	}
	c.Start()
	return c
}

// components bundles every wired core service for the composition root.
type components struct {
	km           *km.Manager
	ledger       *audit.Ledger
	auditAdapter *auditAdapter
	transform    *transform.Engine
	policy       *policy.Service
	pvs          *pvs.Service
	aps          *aps.Service
	rpe          *rpe.Service
}

func buildComponents(ctx context.Context, cfg config.Options, pool *pgxpool.Pool, integrityKey []byte, log logr.Logger) (*components, error) {
	ledger, err := audit.NewLedger(ctx, audit.NewPostgresStore(pool), integrityKey, log, metrics.NewAuditMetrics(), audit.LedgerConfig{})
	if err != nil {
		return nil, fmt.Errorf("creating audit ledger: %w", err)
	}
	adapter := newAuditAdapter(ledger)

	consentStore := transform.NewMemoryConsentStore()

	table, err := mergedRuleTable(cfg.TransformPresets)
	if err != nil {
		return nil, err
	}
	engine, err := transform.NewEngine(table, 10_000, metrics.NewDTEMetrics())
	if err != nil {
		return nil, fmt.Errorf("creating transform engine: %w", err)
	}

	masterKey, err := km.NewMasterKeyProvider(km.MasterKeyConfig{Backend: cfg.MasterKeyProvider})
	if err != nil {
		return nil, fmt.Errorf("creating master key provider: %w", err)
	}
	keyManager, err := km.NewManager(cfg.KeyStoreDir, masterKey, consentStore, adapter, metrics.NewKMMetrics(), km.ManagerConfig{
		DefaultLifetime:     cfg.KeyDefaultLifetime,
		RotationGraceWindow: cfg.KeyRotationGraceWindow,
		AutoRotateThreshold: cfg.KeyAutoRotateThreshold,
		BackupRetentionDays: cfg.KeyBackupRetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("creating key manager: %w", err)
	}

	pvsRepo := pvs.NewPostgresRepository(pool)
	pvsSvc := pvs.NewService(pvsRepo, adapter, pvs.ServiceConfig{LockTimeout: cfg.PVSLockTimeout})

	decisionCache, err := policy.NewLocalCache(10_000)
	if err != nil {
		return nil, fmt.Errorf("creating decision cache: %w", err)
	}
	policySvc, err := policy.NewService(pvsSvc, adapter, decisionCache, nil, metrics.NewPDPMetrics(), policy.ServiceConfig{
		CacheTTL: cfg.PDPCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating policy service: %w", err)
	}

	apsSvc := aps.NewService(pvsSvc, adapter, metrics.NewAPSMetrics(), aps.ServiceConfig{
		LockTimeout:        cfg.APSLockTimeout,
		TransactionTimeout: cfg.APSTransactionTimeout,
	})

	rpeSvc := rpe.NewService(pvsSvc, policySvc, adapter, rpe.ServiceConfig{})

	return &components{
		km: keyManager, ledger: ledger, auditAdapter: adapter,
		transform: engine, policy: policySvc, pvs: pvsSvc, aps: apsSvc, rpe: rpeSvc,
	}, nil
}

func mergedRuleTable(presets []string) (transform.RuleTable, error) {
	var table transform.RuleTable
	for _, name := range presets {
		preset, err := transform.GetPreset(name)
		if err != nil {
			return nil, fmt.Errorf("loading transform preset %q: %w", name, err)
		}
		table = append(table, preset...)
	}
	return table, nil
}

func withMiddleware(mux *http.ServeMux, m *metrics.HTTPMetrics) http.Handler {
	return api.MetricsMiddleware(m, api.WithActorContext(mux))
}
