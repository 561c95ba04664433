package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/odyssey-erp/odyssey-access/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-access/internal/app"
	"github.com/odyssey-erp/odyssey-access/internal/auth"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/db"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/routecap"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/users"
	"github.com/odyssey-erp/odyssey-access/jobs"
)

// server bundles the wired HTTP components.
type server struct {
	router      *chi.Mux
	table       *routecap.Table
	registry    *permcache.Registry
	broadcaster *permcache.Broadcaster
	rbacService *rbac.Service
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1:]))
	}
	os.Exit(serve(ctx, stop, cfg, logger))
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	srv, err := buildServer(ctx, cfg, logger, dbpool, redisClient, inspector, metrics, nil)
	if err != nil {
		logger.Error("build server", slog.Any("error", err))
		return 1
	}
	defer srv.registry.CloseAll()

	report, err := srv.table.CheckRouter(srv.router)
	if err != nil {
		logger.Error("route check", slog.Any("error", err))
		return 1
	}
	if !report.OK() {
		if cfg.RouteStrict {
			logger.Error("route check failed in strict mode", slog.String("report", report.String()))
			return 1
		}
		for _, f := range report.Findings {
			logger.Warn("route open to any authenticated user", slog.String("route", f.Route), slog.String("kind", f.Kind), slog.String("detail", f.Detail))
		}
	}

	go srv.registry.RunSweeper(ctx, cfg.SessionCacheSweepInterval)

	if err := srv.broadcaster.Listen(ctx, srv.handleEvent(logger)); err != nil {
		logger.Warn("permission invalidation listener", slog.Any("error", err))
	}

	httpServer := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      srv.router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

// buildServer wires repositories, services and handlers. A non-nil catalog
// skips loading it from the database.
func buildServer(ctx context.Context, cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, inspector jobs.QueueInspector, metrics *observability.Metrics, catalog *rbac.Catalog) (*server, error) {
	rbacService := rbac.NewService(rbac.NewRepository(pool), logger)
	if catalog == nil {
		loaded, err := rbacService.Catalog(ctx)
		if err != nil {
			return nil, fmt.Errorf("load permission catalog: %w", err)
		}
		catalog = loaded
	}
	overrides, err := cfg.Overrides()
	if err != nil {
		return nil, err
	}
	table, err := routecap.NewTable(cfg.Convention(), overrides, catalog)
	if err != nil {
		return nil, err
	}

	registry := permcache.NewRegistry(rbacService, cfg.PermissionRefreshInterval, permcache.Options{
		Routes:     table,
		Logger:     logger,
		Recorder:   metrics,
		SessionTTL: cfg.SessionTTL,
	})
	metrics.TrackSessions(registry.Len)
	broadcaster := permcache.NewBroadcaster(redisClient, logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Routes: table, Logger: logger, Decisions: metrics}

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authService := auth.NewService(auth.NewRepository(pool))
	auditLogger := shared.NewAuditLogger(pool)
	rolesService := roles.NewService(roles.NewRepository(pool), rbacService, broadcaster, logger).WithAudit(auditLogger)
	usersService := users.NewService(users.NewRepository(pool), rbacService, broadcaster, logger).WithAudit(auditLogger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Registry:           registry,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager, registry),
		MeHandler:          permcache.NewHandler(logger, rbacService),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rolesService, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})
	return &server{router: router, table: table, registry: registry, broadcaster: broadcaster, rbacService: rbacService}, nil
}

// handleEvent applies a broadcast invalidation. Catalog changes also rebuild
// the route table so new slugs start matching.
func (s *server) handleEvent(logger *slog.Logger) func(context.Context, permcache.Event) error {
	return func(ctx context.Context, ev permcache.Event) error {
		if ev.Kind == permcache.EventCatalog {
			catalog, err := s.rbacService.Catalog(ctx)
			if err != nil {
				logger.Warn("reload catalog", slog.Any("error", err))
			} else if err := s.table.Reload(catalog); err != nil {
				logger.Warn("reload route table", slog.Any("error", err))
			}
		}
		return s.registry.HandleEvent(ctx, ev)
	}
}

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	usage := "usage: odyssey [jobs trigger <catalog-sync|session-sweep> | jobs stats | routes check [--declared]] [--json]"
	if len(args) < 2 {
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 1
	}
	command := args[0] + " " + args[1]
	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	declared := fs.Bool("declared", false, "routes check: use the permissions declared in code instead of the database")
	if err := fs.Parse(args[2:]); err != nil {
		return 1
	}
	out := cli.Output{JSON: *jsonOut}

	switch command {
	case "jobs trigger":
		jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer closeJobsCLI(logger, jobsCLI)
		return jobsCLI.TriggerCommand(ctx, cli.TriggerOptions{Output: out, Name: fs.Arg(0)})
	case "jobs stats":
		jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer closeJobsCLI(logger, jobsCLI)
		return jobsCLI.StatsCommand(cli.StatsOptions{Output: out})
	case "routes check":
		return routesCheck(ctx, cfg, logger, out, *declared)
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		return 1
	}
}

func closeJobsCLI(logger *slog.Logger, c *cli.JobsCLI) {
	if err := c.Close(); err != nil {
		logger.Warn("jobs cli close", slog.Any("error", err))
	}
}

func routesCheck(ctx context.Context, cfg *app.Config, logger *slog.Logger, out cli.Output, declared bool) int {
	var catalog *rbac.Catalog
	if declared {
		catalog = declaredCatalog()
	}
	// pgxpool and go-redis connect lazily, so a declared check needs neither.
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()

	srv, err := buildServer(ctx, cfg, logger, pool, redisClient, nil, observability.NewMetrics(), catalog)
	if err != nil {
		logger.Error("build server", slog.Any("error", err))
		return 1
	}
	defer srv.registry.CloseAll()
	return cli.RoutesCheckCommand(cli.RoutesCheckOptions{Output: out, Router: srv.router, Checker: srv.table})
}

func declaredCatalog() *rbac.Catalog {
	scopes := shared.AllScopes()
	perms := make([]rbac.Permission, 0, len(scopes))
	for i, scope := range scopes {
		perms = append(perms, rbac.Permission{ID: int64(i + 1), Name: scope.Name, Slug: rbac.Slug(scope.Slug), GroupName: scope.Group})
	}
	return rbac.NewCatalog(perms)
}
