package directory

import (
	"context"
	"fmt"
	"time"
)

// ReadinessChecker — проверка доступности каталога для health endpoint.
// Недоступный каталог — degraded: выданные токены продолжают работать,
// не работают вход и синхронизация.
type ReadinessChecker struct {
	dir     Directory
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности каталога.
func NewReadinessChecker(dir Directory, timeout time.Duration) *ReadinessChecker {
	return &ReadinessChecker{dir: dir, timeout: timeout}
}

// CheckReady выполняет Ping каталога.
func (c *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.dir.Ping(ctx); err != nil {
		return "degraded", fmt.Sprintf("каталог недоступен: %v", err)
	}
	if !c.dir.Configured() {
		return "degraded", "служебная учётная запись не задана, синхронизация отключена"
	}
	return "ok", "каталог доступен"
}
