// Точка входа портала сотрудников.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и каталогу (LDAP или фикстура), собирает сервисный слой и API handlers,
// запускает фоновую синхронизацию с каталогом, topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/zerocore/portal/internal/api/handlers"
	"github.com/zerocore/portal/internal/api/middleware"
	"github.com/zerocore/portal/internal/auth"
	"github.com/zerocore/portal/internal/config"
	"github.com/zerocore/portal/internal/database"
	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/identity"
	"github.com/zerocore/portal/internal/filestore"
	"github.com/zerocore/portal/internal/repository"
	"github.com/zerocore/portal/internal/server"
	"github.com/zerocore/portal/internal/service"
)

func main() {
	// 0. Локальный .env (опционально, только для разработки)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Не удалось прочитать .env", slog.String("error", err.Error()))
	}

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Портал запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("directory_mode", cfg.DirectoryMode),
	)

	if os.Getenv("PORTAL_DEPHEALTH_GROUP") == "" {
		logger.Warn("PORTAL_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Каталог: LDAP или фикстура в памяти
	var (
		dir      directory.Directory
		groupsOU = cfg.LDAPGroupsOU
	)
	switch cfg.DirectoryMode {
	case config.DirectoryModeMock:
		mem, memErr := directory.LoadMemory(cfg.DirectoryMockFile)
		if memErr != nil {
			logger.Error("Ошибка загрузки фикстуры каталога",
				slog.String("path", cfg.DirectoryMockFile),
				slog.String("error", memErr.Error()),
			)
			os.Exit(1)
		}
		dir = mem
		groupsOU = mem.GroupsOU()
		logger.Warn("Каталог работает в режиме mock", slog.String("path", cfg.DirectoryMockFile))
	default:
		dir = directory.NewClient(directory.Config{
			URL:                cfg.LDAPURL,
			Domain:             cfg.LDAPDomain,
			BaseDN:             cfg.LDAPBaseDN,
			BindUser:           cfg.LDAPBindUser,
			BindPassword:       cfg.LDAPBindPassword,
			Timeout:            cfg.LDAPTimeout,
			InsecureSkipVerify: cfg.LDAPInsecureSkipVerify,
		}, logger)
		if !dir.Configured() {
			logger.Warn("Каталог не настроен, вход в портал недоступен до настройки PORTAL_LDAP_*")
		} else {
			logger.Info("LDAP клиент создан",
				slog.String("url", cfg.LDAPURL),
				slog.String("base_dn", cfg.LDAPBaseDN),
			)
		}
	}

	// 6. Маппинг групп каталога и нормализатор
	mapping := identity.DefaultMapping()
	if cfg.LDAPMappingFile != "" {
		mapping, err = identity.LoadMapping(cfg.LDAPMappingFile)
		if err != nil {
			logger.Error("Ошибка загрузки маппинга групп",
				slog.String("path", cfg.LDAPMappingFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("Маппинг групп загружен", slog.String("path", cfg.LDAPMappingFile))
	}
	normalizer := identity.NewNormalizer(mapping)

	// 7. Repositories
	userRepo := repository.NewUserRepository(pool)
	employeeRepo := repository.NewEmployeeRepository(pool)
	announcementRepo := repository.NewAnnouncementRepository(pool)
	syncStateRepo := repository.NewSyncStateRepository(pool)
	identityStore := repository.NewIdentityStore(repository.NewTxRunner(pool))

	// 8. Кэш списка отделов: Redis, если задан адрес, иначе LRU в процессе
	var (
		deptCache    service.DepartmentCache
		cacheChecker handlers.ReadinessChecker
		dhTargets    = service.DephealthTargets{DB: pgDB, PostgresURL: cfg.DatabaseURL()}
	)
	if cfg.DirectoryMode != config.DirectoryModeMock {
		dhTargets.LDAPURL = cfg.LDAPURL
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		deptCache = service.NewRedisDepartmentCache(rdb, cfg.DepartmentsCacheTTL, logger)
		cacheChecker = service.NewRedisReadinessChecker(rdb)
		dhTargets.Redis, dhTargets.RedisAddr = rdb, cfg.RedisAddr
		logger.Info("Кэш отделов: Redis", slog.String("addr", cfg.RedisAddr))
	} else {
		deptCache = service.NewLRUDepartmentCache(cfg.DepartmentsCacheTTL)
	}

	// 9. Токены
	tokens, err := auth.NewManager(ctx, auth.Config{
		Secret:         cfg.JWTSecret,
		PreviousSecret: cfg.JWTPreviousSecret,
		Issuer:         cfg.JWTIssuer,
		TTL:            cfg.TokenTTL,
	})
	if err != nil {
		logger.Error("Ошибка инициализации токенов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Менеджер токенов инициализирован",
		slog.String("issuer", cfg.JWTIssuer),
		slog.String("kid", auth.KeyID(cfg.JWTSecret)),
		slog.String("ttl", tokens.TTL().String()),
	)

	// 10. Хранилище вложений
	files, err := filestore.New(cfg.UploadDir, cfg.UploadMaxBytes)
	if err != nil {
		logger.Error("Ошибка инициализации каталога вложений",
			slog.String("dir", cfg.UploadDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 11. Services
	reconciler := service.NewReconciler(identityStore, logger)
	groupSync := service.NewGroupSynchronizer(dir, normalizer, groupsOU, logger)
	authSvc := service.NewAuthService(
		dir, normalizer, reconciler, tokens, deptCache,
		userRepo, employeeRepo,
		logger,
	)
	employeesSvc := service.NewEmployeeService(employeeRepo, groupSync, deptCache, normalizer, logger)
	announcementsSvc := service.NewAnnouncementService(announcementRepo, employeeRepo, files, logger)

	// 12. Фоновая синхронизация с каталогом
	dirSyncSvc := service.NewDirectorySyncService(
		dir, normalizer, reconciler, syncStateRepo,
		cfg.DirectorySyncInterval,
		logger,
	)

	// 13. Readiness checkers (PostgreSQL + каталог + Redis)
	pgChecker := database.NewReadinessChecker(pool)
	dirChecker := directory.NewReadinessChecker(dir, cfg.LDAPTimeout)
	healthHandler := handlers.NewHealthHandler(pgChecker, dirChecker, cacheChecker)

	// 14. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		authSvc,
		employeesSvc,
		announcementsSvc,
		dirSyncSvc,
		files,
		handlers.Options{
			CookieName:     cfg.CookieName,
			CookieSecure:   cfg.CookieSecure,
			UploadMaxBytes: cfg.UploadMaxBytes,
		},
		logger,
	)

	// 15. JWT middleware: токен проверяется подписью, роль и отделы
	// перечитываются из БД на каждом запросе
	jwtAuth := middleware.NewJWTAuth(tokens, authSvc, cfg.CookieName, logger)

	// 16. Запуск фоновых задач
	dirSyncSvc.Start(ctx)

	// 16.1 topologymetrics — PostgreSQL, каталог и Redis
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"zerocore-portal",
		cfg.DephealthGroup,
		dhTargets,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 17. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 18. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	dirSyncSvc.Stop()

	logger.Info("Портал остановлен")
}
