// Точка входа cobranzas — backend сопровождения взыскания долгов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и (необязательно) Redis, собирает сервисы обещаний, аудитов, журнала
// активности и справочников, запускает HTTP-сервер с JWT middleware.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/cobranzas/internal/api/handlers"
	"github.com/bigkaa/cobranzas/internal/api/middleware"
	"github.com/bigkaa/cobranzas/internal/config"
	"github.com/bigkaa/cobranzas/internal/database"
	"github.com/bigkaa/cobranzas/internal/domain/lifecycle"
	"github.com/bigkaa/cobranzas/internal/repository"
	"github.com/bigkaa/cobranzas/internal/server"
	"github.com/bigkaa/cobranzas/internal/service"
)

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("cobranzas запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("timezone", cfg.Location.String()),
	)

	// 3. Миграции
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. PostgreSQL
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.EnsureActiveKeyGuard(ctx, pool); err != nil {
		logger.Error("Схема БД не готова", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Адаптер pgxpool → *sql.DB для topologymetrics.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Redis — распределённая блокировка ключа обещания
	var (
		locker       service.KeyLocker = service.NoopLocker{}
		redisChecker handlers.ReadinessChecker
	)
	if cfg.RedisEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		locker = service.NewRedisKeyLocker(rdb, cfg.PromiseLockTTL, logger)
		redisChecker = handlers.NewRedisReadinessChecker(rdb, cfg.JWKSClientTimeout)
		logger.Info("Redis-блокировка ключа обещания включена", slog.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("CB_REDIS_ADDR не задан, блокировка ключа только в транзакции PostgreSQL")
	}

	// 6. Repositories
	promiseRepo := repository.NewPromiseRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	noteRepo := repository.NewNoteRepository(pool)
	gestionRepo := repository.NewGestionRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 7. Services
	cal := lifecycle.NewCalendar(cfg.Location, nil)
	summaryCache, err := service.NewSummaryCache(cfg.SummaryCacheSize, cfg.SummaryCacheTTL, nil)
	if err != nil {
		logger.Error("Ошибка создания кэша сводки", slog.String("error", err.Error()))
		os.Exit(1)
	}

	promiseSvc := service.NewPromiseService(promiseRepo, txRunner, catalogRepo, locker, cal, logger)
	auditSvc := service.NewAuditService(auditRepo, catalogRepo, cal, cfg.PhoneRegion, logger)
	gestionSvc := service.NewGestionService(gestionRepo, summaryCache, cfg.QueryTimeout, logger)
	catalogSvc := service.NewCatalogService(catalogRepo, logger)
	noteSvc := service.NewNoteService(noteRepo, logger)

	// 8. Handlers
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout),
		redisChecker,
	)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		promiseSvc,
		auditSvc,
		gestionSvc,
		catalogSvc,
		noteSvc,
		logger,
	)

	// 9. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthOptions{
		JWKSURL:             cfg.JWTJWKSURL,
		Issuer:              cfg.JWTIssuer,
		JWKSClientTimeout:   cfg.JWKSClientTimeout,
		JWKSRefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:              cfg.JWTLeeway,
		IngestScopes:        cfg.IngestScopes,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 10. topologymetrics — мониторинг PostgreSQL и JWKS
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "cobranzas",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgURL:         cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("cobranzas остановлен")
}
