// dephealth.go — граф зависимостей портала для topologymetrics.
//
// Вершины графа:
//   - postgresql — пользователи, карточки, объявления (critical, через pgxpool)
//   - directory — LDAP/AD: вход и группы отделов (TCP до контроллера домена)
//   - redis — кэш списка отделов (PING через общий клиент)
//
// Каталог не critical: без него портал отдаёт объявления и карточки,
// не работают только вход и синхронизация групп. Redis заменяется LRU.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/redischeck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/tcpcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// DephealthTargets — зависимости, которые видит портал.
// Пустой LDAPURL (режим mock) и nil Redis исключают вершину из графа.
type DephealthTargets struct {
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PostgresURL — только для лейблов метрик
	PostgresURL string
	// LDAPURL — ldap:// или ldaps:// контроллера домена
	LDAPURL string
	// Redis — клиент кэша отделов
	Redis     redis.Cmdable
	RedisAddr string
}

// DephealthService — мониторинг зависимостей портала.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт мониторинг с метриками в глобальном registry.
func NewDephealthService(
	serviceID, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer — то же с отдельным registry (для тестов).
func NewDephealthServiceWithRegisterer(
	serviceID, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID, group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// pgcheck напрямую, без contrib/sqldb и его зависимости на MySQL
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)),
			dephealth.FromURL(targets.PostgresURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
	}
	names := []string{"postgresql"}

	if targets.LDAPURL != "" {
		host, port, err := ldapEndpoint(targets.LDAPURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dephealth.AddDependency("directory", dephealth.TypeTCP,
			tcpcheck.New(),
			dephealth.FromParams(host, port),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		))
		names = append(names, "directory")
	}

	if targets.Redis != nil {
		opts = append(opts, dephealth.AddDependency("redis", dephealth.TypeRedis,
			redischeck.New(redischeck.WithClient(targets.Redis)),
			dephealth.FromURL("redis://"+targets.RedisAddr),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		))
		names = append(names, "redis")
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// ldapEndpoint выделяет хост и порт контроллера домена.
// Без порта: 389 для ldap://, 636 для ldaps://.
func ldapEndpoint(rawURL string) (host, port string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("некорректный адрес каталога %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ldap":
		port = "389"
	case "ldaps":
		port = "636"
	default:
		return "", "", fmt.Errorf("адрес каталога %q: ожидается схема ldap:// или ldaps://", rawURL)
	}
	host = u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("адрес каталога %q: не указан хост", rawURL)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	return host, port, nil
}

// Dependencies возвращает имена вершин графа в порядке регистрации.
func (ds *DephealthService) Dependencies() []string {
	return ds.names
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.String("dependencies", strings.Join(ds.names, ",")),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — состояние по имени зависимости (true — доступна).
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
