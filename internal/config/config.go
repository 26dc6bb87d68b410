// Пакет config — загрузка и валидация конфигурации портала
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы работы каталога.
const (
	DirectoryModeLDAP = "ldap"
	DirectoryModeMock = "mock"
)

// Config содержит все параметры конфигурации портала.
// Строится один раз при старте и дальше только читается.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимум подключений в пуле
	DBMaxConns int

	// --- Каталог (LDAP / Active Directory) ---

	// Режим каталога: ldap или mock
	DirectoryMode string
	// Путь к YAML-фикстуре каталога для режима mock
	DirectoryMockFile string
	// URL сервера каталога (ldap:// или ldaps://)
	LDAPURL string
	// Суффикс UPN для bind пользователя (username@domain)
	LDAPDomain string
	// Базовый DN для поиска
	LDAPBaseDN string
	// Служебная учётная запись (опционально)
	LDAPBindUser string
	// Пароль служебной учётной записи (опционально)
	LDAPBindPassword string
	// Контейнер для групп отделов
	LDAPGroupsOU string
	// Таймаут подключения и запросов к каталогу
	LDAPTimeout time.Duration
	// Отключить проверку сертификата LDAPS (самоподписанные DC)
	LDAPInsecureSkipVerify bool
	// Путь к YAML-файлу маппинга групп каталога (опционально)
	LDAPMappingFile string

	// --- Синхронизация ---

	// Интервал периодической синхронизации с каталогом (0 — выключено)
	DirectorySyncInterval time.Duration
	// TTL кэша списка отделов
	DepartmentsCacheTTL time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Группа сервиса для topologymetrics
	DephealthGroup string

	// --- Redis (опционально, общий кэш отделов) ---

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// --- Токены и сессии ---

	// Секрет подписи HS256
	JWTSecret string
	// Предыдущий секрет, принимаемый при ротации (опционально)
	JWTPreviousSecret string
	// Issuer токенов
	JWTIssuer string
	// Время жизни токена (смена сотрудника)
	TokenTTL time.Duration
	// Имя cookie с токеном
	CookieName string
	// Флаг Secure для cookie
	CookieSecure bool

	// --- Вложения ---

	// Каталог для загруженных файлов
	UploadDir string
	// Максимальный размер загружаемого файла в байтах
	UploadMaxBytes int64

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PORTAL_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("PORTAL_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORTAL_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PORTAL_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PORTAL_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PORTAL_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PORTAL_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("PORTAL_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PORTAL_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("PORTAL_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("PORTAL_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("PORTAL_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("PORTAL_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("PORTAL_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("PORTAL_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("PORTAL_DB_MAX_CONNS: должно быть не меньше 1, получено %d", cfg.DBMaxConns)
	}

	// --- Каталог ---

	cfg.DirectoryMode = getEnvDefault("PORTAL_DIRECTORY_MODE", DirectoryModeLDAP)
	switch cfg.DirectoryMode {
	case DirectoryModeLDAP:
		cfg.LDAPURL = getEnvDefault("PORTAL_LDAP_URL", "ldap://localhost:389")
		if !strings.HasPrefix(cfg.LDAPURL, "ldap://") && !strings.HasPrefix(cfg.LDAPURL, "ldaps://") {
			return nil, fmt.Errorf("PORTAL_LDAP_URL: ожидается схема ldap:// или ldaps://, получено %q", cfg.LDAPURL)
		}
		if cfg.LDAPBaseDN, err = getEnvRequired("PORTAL_LDAP_BASE_DN"); err != nil {
			return nil, err
		}
	case DirectoryModeMock:
		if cfg.DirectoryMockFile, err = getEnvRequired("PORTAL_DIRECTORY_MOCK_FILE"); err != nil {
			return nil, err
		}
		cfg.LDAPBaseDN = getEnvDefault("PORTAL_LDAP_BASE_DN", "DC=zerocore,DC=local")
	default:
		return nil, fmt.Errorf("PORTAL_DIRECTORY_MODE: недопустимое значение %q, допустимые: ldap, mock", cfg.DirectoryMode)
	}

	cfg.LDAPDomain = getEnvDefault("PORTAL_LDAP_DOMAIN", "")
	cfg.LDAPBindUser = getEnvDefault("PORTAL_LDAP_BIND_USER", "")
	cfg.LDAPBindPassword = getEnvDefault("PORTAL_LDAP_BIND_PASSWORD", "")
	if (cfg.LDAPBindUser == "") != (cfg.LDAPBindPassword == "") {
		return nil, fmt.Errorf("PORTAL_LDAP_BIND_USER и PORTAL_LDAP_BIND_PASSWORD задаются только вместе")
	}
	cfg.LDAPGroupsOU = getEnvDefault("PORTAL_LDAP_GROUPS_OU",
		"OU=Seguranca,OU=98_Grupos,OU=MDR,"+cfg.LDAPBaseDN)

	cfg.LDAPTimeout, err = getEnvDuration("PORTAL_LDAP_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_LDAP_TIMEOUT: %w", err)
	}
	if cfg.LDAPTimeout <= 0 || cfg.LDAPTimeout > time.Minute {
		return nil, fmt.Errorf("PORTAL_LDAP_TIMEOUT: значение %s вне допустимого диапазона (0, 1m]", cfg.LDAPTimeout)
	}

	cfg.LDAPInsecureSkipVerify, err = getEnvBool("PORTAL_LDAP_INSECURE_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_LDAP_INSECURE_SKIP_VERIFY: %w", err)
	}
	cfg.LDAPMappingFile = getEnvDefault("PORTAL_LDAP_MAPPING_FILE", "")

	// --- Синхронизация ---

	cfg.DirectorySyncInterval, err = getEnvDuration("PORTAL_DIRECTORY_SYNC_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_DIRECTORY_SYNC_INTERVAL: %w", err)
	}
	if cfg.DirectorySyncInterval < 0 {
		return nil, fmt.Errorf("PORTAL_DIRECTORY_SYNC_INTERVAL: отрицательное значение %s", cfg.DirectorySyncInterval)
	}

	cfg.DepartmentsCacheTTL, err = getEnvDuration("PORTAL_DEPARTMENTS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_DEPARTMENTS_CACHE_TTL: %w", err)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("PORTAL_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("PORTAL_DEPHEALTH_GROUP", "zerocore")

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("PORTAL_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("PORTAL_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("PORTAL_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_REDIS_DB: %w", err)
	}

	// --- Токены ---

	if cfg.JWTSecret, err = getEnvRequired("PORTAL_JWT_SECRET"); err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("PORTAL_JWT_SECRET: секрет короче 32 байт")
	}
	cfg.JWTPreviousSecret = getEnvDefault("PORTAL_JWT_PREVIOUS_SECRET", "")
	cfg.JWTIssuer = getEnvDefault("PORTAL_JWT_ISSUER", "zerocore-portal")

	cfg.TokenTTL, err = getEnvDuration("PORTAL_TOKEN_TTL", 10*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_TOKEN_TTL: %w", err)
	}
	if cfg.TokenTTL < time.Minute {
		return nil, fmt.Errorf("PORTAL_TOKEN_TTL: значение %s меньше минуты", cfg.TokenTTL)
	}

	cfg.CookieName = getEnvDefault("PORTAL_COOKIE_NAME", "zc_token")
	cfg.CookieSecure, err = getEnvBool("PORTAL_COOKIE_SECURE", true)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_COOKIE_SECURE: %w", err)
	}

	// --- Вложения ---

	cfg.UploadDir = getEnvDefault("PORTAL_UPLOAD_DIR", "uploads")
	maxBytes, err := getEnvInt("PORTAL_UPLOAD_MAX_BYTES", 20<<20)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_UPLOAD_MAX_BYTES: %w", err)
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("PORTAL_UPLOAD_MAX_BYTES: значение %d должно быть положительным", maxBytes)
	}
	cfg.UploadMaxBytes = int64(maxBytes)

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("PORTAL_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PORTAL_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных
// (для лейблов метрик topologymetrics).
func (c *Config) DatabaseURL() string {
	return "postgres://" + net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)) + "/" + c.DBName
}

// DirectoryConfigured сообщает, заданы ли учётные данные служебной записи каталога.
func (c *Config) DirectoryConfigured() bool {
	return c.LDAPBindUser != "" && c.LDAPBindPassword != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
