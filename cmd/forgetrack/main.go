package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	fthttp "github.com/Strob0t/ForgeTrack/internal/adapter/http"
	ftnats "github.com/Strob0t/ForgeTrack/internal/adapter/nats"
	"github.com/Strob0t/ForgeTrack/internal/adapter/natskv"
	ftotel "github.com/Strob0t/ForgeTrack/internal/adapter/otel"
	"github.com/Strob0t/ForgeTrack/internal/adapter/postgres"
	"github.com/Strob0t/ForgeTrack/internal/adapter/ristretto"
	"github.com/Strob0t/ForgeTrack/internal/adapter/tiered"
	"github.com/Strob0t/ForgeTrack/internal/adapter/ws"
	"github.com/Strob0t/ForgeTrack/internal/config"
	"github.com/Strob0t/ForgeTrack/internal/logger"
	"github.com/Strob0t/ForgeTrack/internal/middleware"
	"github.com/Strob0t/ForgeTrack/internal/port/cache"
	"github.com/Strob0t/ForgeTrack/internal/port/notifier"
	"github.com/Strob0t/ForgeTrack/internal/resilience"
	"github.com/Strob0t/ForgeTrack/internal/secrets"
	"github.com/Strob0t/ForgeTrack/internal/service"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"auth_enabled", cfg.Auth.Enabled,
		"otel_enabled", cfg.OTEL.Enabled,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Infrastructure ---

	shutdownOTEL, err := ftotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := ftotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.MasterKeyName, secrets.PreviousMasterKeyName))
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	codec, err := secrets.NewAESCodec(vault)
	if err != nil {
		return fmt.Errorf("secret codec: %w", err)
	}

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := ftnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Tiered cache: in-process L1 over a NATS KV L2 shared by all nodes.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	sharedCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)

	// --- Services ---
	store := postgres.NewStore(pool)
	hub := ws.NewHub(originHost(cfg.Server.CORSOrigin))
	defer hub.Close()
	breakers := resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	automation := service.NewStatusAutomation(store, sharedCache, cfg.Cache.WorkflowTTL)
	projects := service.NewProjectService(store, codec)

	alerter, err := newAlerter(cfg.Alerts, sharedCache)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	defer alerter.Wait()

	reporter := service.NewWebhookReporter(store, queue, hub)
	reporter.SetMetrics(metrics)
	reporter.SetAlerter(alerter)
	errorSvc := service.NewErrorWebhookService(service.NewErrorDeduplicator(store), service.NewErrorIssueWriter(store))
	errorSvc.SetMetrics(metrics)
	webhooks := service.NewWebhookService(
		service.NewVCSWebhookService(service.NewBranchIssueLinker(store), automation),
		errorSvc,
		reporter,
		sharedCache,
		cfg.Webhook.DeliveryTTL,
	)

	syncSvc := service.NewSyncService(store, codec, queue, hub, automation, breakers, cfg.Sync, cfg.Providers)
	syncSvc.SetMetrics(metrics)
	syncSvc.SetAlerter(alerter)

	if n, err := syncSvc.RecoverStale(ctx); err != nil {
		slog.Warn("stale sync recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("failed stale sync operations", "count", n)
	}
	cancelListener, err := syncSvc.ListenForCancels(ctx)
	if err != nil {
		return fmt.Errorf("sync cancel subscriber: %w", err)
	}
	defer cancelListener()

	// --- HTTP ---
	handlers := &fthttp.Handlers{
		Webhooks:  webhooks,
		Sync:      syncSvc,
		Directory: projects,
		Version:   version,
		Health: map[string]fthttp.HealthCheck{
			"postgres": pool.Ping,
			"nats": func(context.Context) error {
				if !queue.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
	}

	webhookLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst, middleware.ByURLParam("connectionID"))
	stopCleanup := webhookLimiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	apiKeys := make(map[string]string, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		apiKeys[k.SHA256] = k.Name
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(ftotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(fthttp.SecurityHeaders)
	r.Use(fthttp.CORS(cfg.Server.CORSOrigin))
	r.Use(fthttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	fthttp.MountRoutes(r, handlers, fthttp.RouteConfig{
		Connections:    store,
		Verifier:       middleware.NewSignatureVerifier(codec),
		MaxWebhookBody: cfg.Webhook.MaxBodyBytes,
		WebhookLimiter: webhookLimiter,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKeys:        apiKeys,
		Idempotency:    sharedCache,
		IdempotencyTTL: cfg.Idempotency.TTL,
		WS:             hub.HandleWS,
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown; SIGHUP reloads config and the master keys.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	for {
		select {
		case err := <-serveErr:
			return fmt.Errorf("server: %w", err)
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				reload(holder, vault)
				continue
			}
			slog.Info("shutting down server", "signal", sig.String())
			return shutdown(srv, syncSvc, holder.Get().Server.ShutdownTimeout)
		}
	}
}

// reload applies the settings that can change without a restart.
func reload(holder *config.Holder, vault *secrets.Vault) {
	if err := holder.Reload(); err != nil {
		slog.Error("config reload failed, keeping previous config", "error", err)
	} else {
		logger.SetLevel(holder.Get().Logging.Level)
		slog.Info("config reloaded", "log_level", holder.Get().Logging.Level)
	}
	if err := vault.Reload(); err != nil {
		slog.Error("secret reload failed", "error", err)
	}
}

func shutdown(srv *http.Server, syncSvc *service.SyncService, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	srvErr := srv.Shutdown(ctx)
	if err := syncSvc.Shutdown(ctx); err != nil {
		slog.Warn("sync jobs did not finish before shutdown", "error", err)
	}
	return srvErr
}

// newAlerter builds an Alerter from the configured chat webhooks. It
// returns nil when none is set.
func newAlerter(cfg config.Alerts, cooldown cache.Cache) (*service.Alerter, error) {
	notifiers, err := notifier.Configured(map[string]map[string]string{
		"slack":   {"webhook_url": cfg.SlackWebhookURL},
		"discord": {"webhook_url": cfg.DiscordWebhookURL},
	})
	if err != nil {
		return nil, err
	}
	if len(notifiers) > 0 {
		slog.Info("operator alerts enabled", "notifiers", len(notifiers), "cooldown", cfg.Cooldown)
	}
	return service.NewAlerter(cooldown, cfg.Cooldown, notifiers...), nil
}

// originHost turns the CORS origin into the host pattern the WebSocket
// upgrade checks against.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
