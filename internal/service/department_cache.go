// department_cache.go — кэш списка отделов каталога.
//
// По умолчанию — in-memory LRU с TTL (на экземпляр). При заданном
// PORTAL_REDIS_ADDR — общий кэш в Redis для нескольких экземпляров.
// Ошибки Redis считаются промахом: список будет прочитан из каталога.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus-метрики кэша отделов.
var (
	deptCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_departments_cache_hits_total",
		Help: "Попадания в кэш списка отделов.",
	})
	deptCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_departments_cache_misses_total",
		Help: "Промахи кэша списка отделов.",
	})
)

// departmentsKey — ключ записи списка отделов.
const departmentsKey = "portal:departments"

// DepartmentCache — кэш списка отделов.
type DepartmentCache interface {
	// Get возвращает список и true при попадании.
	Get(ctx context.Context) ([]string, bool)
	// Set сохраняет список.
	Set(ctx context.Context, depts []string)
	// Invalidate сбрасывает список (после создания новой группы отдела).
	Invalidate(ctx context.Context)
}

// LRUDepartmentCache — in-memory кэш с TTL.
type LRUDepartmentCache struct {
	cache *expirable.LRU[string, []string]
}

// NewLRUDepartmentCache создаёт in-memory кэш отделов.
func NewLRUDepartmentCache(ttl time.Duration) *LRUDepartmentCache {
	return &LRUDepartmentCache{cache: expirable.NewLRU[string, []string](1, nil, ttl)}
}

// Get реализует DepartmentCache.
func (c *LRUDepartmentCache) Get(context.Context) ([]string, bool) {
	val, ok := c.cache.Get(departmentsKey)
	if ok {
		deptCacheHitsTotal.Inc()
		return append([]string(nil), val...), true
	}
	deptCacheMissesTotal.Inc()
	return nil, false
}

// Set реализует DepartmentCache.
func (c *LRUDepartmentCache) Set(_ context.Context, depts []string) {
	c.cache.Add(departmentsKey, append([]string(nil), depts...))
}

// Invalidate реализует DepartmentCache.
func (c *LRUDepartmentCache) Invalidate(context.Context) {
	c.cache.Remove(departmentsKey)
}

// RedisDepartmentCache — общий кэш в Redis.
type RedisDepartmentCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisDepartmentCache создаёт кэш отделов поверх Redis.
func NewRedisDepartmentCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDepartmentCache {
	return &RedisDepartmentCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "departments_cache")),
	}
}

// Get реализует DepartmentCache.
func (c *RedisDepartmentCache) Get(ctx context.Context) ([]string, bool) {
	data, err := c.rdb.Get(ctx, departmentsKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Ошибка чтения кэша отделов из Redis",
				slog.String("error", err.Error()),
			)
		}
		deptCacheMissesTotal.Inc()
		return nil, false
	}

	var depts []string
	if err := json.Unmarshal(data, &depts); err != nil {
		c.logger.Warn("Повреждённая запись кэша отделов",
			slog.String("error", err.Error()),
		)
		deptCacheMissesTotal.Inc()
		return nil, false
	}
	deptCacheHitsTotal.Inc()
	return depts, true
}

// Set реализует DepartmentCache.
func (c *RedisDepartmentCache) Set(ctx context.Context, depts []string) {
	data, err := json.Marshal(depts)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, departmentsKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Ошибка записи кэша отделов в Redis",
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate реализует DepartmentCache.
func (c *RedisDepartmentCache) Invalidate(ctx context.Context) {
	if err := c.rdb.Del(ctx, departmentsKey).Err(); err != nil {
		c.logger.Warn("Ошибка сброса кэша отделов в Redis",
			slog.String("error", err.Error()),
		)
	}
}

// RedisReadinessChecker — проверка готовности Redis для health endpoint.
type RedisReadinessChecker struct {
	rdb *redis.Client
}

// NewRedisReadinessChecker создаёт проверку готовности Redis.
func NewRedisReadinessChecker(rdb *redis.Client) *RedisReadinessChecker {
	return &RedisReadinessChecker{rdb: rdb}
}

// CheckReady проверяет Redis командой PING. Кэш не критичен: при сбое
// статус "degraded".
func (c *RedisReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return "degraded", "Redis недоступен: " + err.Error()
	}
	return "ok", "подключение активно"
}
