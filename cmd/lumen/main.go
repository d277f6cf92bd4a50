package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumen-lms/lumen/internal/app"
	"github.com/lumen-lms/lumen/internal/audit"
	audithttp "github.com/lumen-lms/lumen/internal/audit/http"
	"github.com/lumen-lms/lumen/internal/auth"
	"github.com/lumen-lms/lumen/internal/calendar"
	"github.com/lumen-lms/lumen/internal/courses"
	"github.com/lumen-lms/lumen/internal/meeting"
	"github.com/lumen-lms/lumen/internal/observability"
	"github.com/lumen-lms/lumen/internal/platform/cache"
	"github.com/lumen-lms/lumen/internal/platform/db"
	"github.com/lumen-lms/lumen/internal/rbac"
	"github.com/lumen-lms/lumen/internal/shared"
	"github.com/lumen-lms/lumen/internal/users"
	"github.com/lumen-lms/lumen/jobs"
)

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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(ctx, cfg, logger, os.Args[2:]))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, 0)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	rbacMiddleware := rbac.Middleware{Logger: logger, Observer: metrics}
	rbacService := rbac.NewService(dbpool)

	coursesRepo := courses.NewRepository(dbpool)
	coursesService := courses.NewService(coursesRepo, auditLogger, logger)
	coursesHandler := courses.NewHandler(logger, coursesService, rbacMiddleware)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, coursesService, auditLogger, logger)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	var signer *auth.Signer
	if cfg.SessionSignedFallback {
		signer = auth.NewSigner(cfg.SessionSecret)
	}
	sessionStore := auth.NewLayeredStore(auth.NewRedisStore(redisClient), auth.NewPGStore(dbpool), logger)
	authService := auth.NewService(usersRepo, sessionStore, signer, cfg.SessionTTL, logger)
	resolver := auth.NewResolver(sessionStore, usersRepo, rbacService, signer, logger)
	sessionMiddleware := auth.NewMiddleware(resolver, csrfManager, cfg.SessionCookie, logger)
	authHandler := auth.NewHandler(logger, authService, csrfManager, auth.CookieConfig{
		Name:   cfg.SessionCookie,
		Secure: cfg.IsProduction(),
	})

	principalLookup := func(ctx context.Context, id int64) (rbac.Principal, error) {
		u, err := usersService.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacService, principalLookup, auditLogger, rbacMiddleware)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	meetingClient := meeting.NewClient(cfg.MeetingURL, cfg.MeetingAPIKey, nil)
	if !meetingClient.Enabled() {
		logger.Info("meeting companion disabled")
	}

	calendarService := calendar.NewService(
		calendar.NewRepository(dbpool),
		shared.NewRedisLocker(redisClient, cfg.EventLockTTL),
		logger,
	)
	calendarService.SetMeetingService(meetingClient, cfg.MeetingTimeout)
	calendarService.SetCourseLookup(coursesService)
	calendarService.SetIdempotencyGuard(shared.NewIdempotencyStore(dbpool))
	calendarService.SetAuditRecorder(auditLogger)
	calendarService.SetCleanupEnqueuer(jobClient)
	calendarService.SetObserver(metrics)
	calendarHandler := calendar.NewHandler(logger, calendarService, rbacMiddleware)
	calendarHandler.SetNameResolver(func(ctx context.Context, id int64) (string, string, error) {
		u, err := usersService.Lookup(ctx, id)
		if err != nil {
			return "", "", err
		}
		return u.Name, u.Email, nil
	})

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, auditService, audit.NewExporter())

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Session:            sessionMiddleware,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		UsersHandler:       usersHandler,
		PermissionsHandler: permissionsHandler,
		CoursesHandler:     coursesHandler,
		CalendarHandler:    calendarHandler,
		AuditHandler:       auditHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
