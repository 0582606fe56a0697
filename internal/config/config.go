// Пакет config — загрузка и валидация конфигурации сервиса cobranzas
// из переменных окружения (префикс CB_) и необязательного .env-файла.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Мягкий бюджет времени одного запроса к БД
	QueryTimeout time.Duration

	// --- JWT ---

	// URL JWKS endpoint
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Scope сервисных аккаунтов, разрешающие загрузку gestiones
	IngestScopes []string

	// --- Домен ---

	// Часовой пояс календарных сравнений дат обещаний
	Location *time.Location
	// Регион по умолчанию для разбора телефонов (ISO 3166-1 alpha-2)
	PhoneRegion string
	// TTL и размер кэша сводки gestiones
	SummaryCacheTTL  time.Duration
	SummaryCacheSize int

	// --- Redis (необязательно) ---

	// Адрес Redis; пусто — распределённая блокировка ключа обещания выключена
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL блокировки ключа обещания
	PromiseLockTTL time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает .env (CB_ENV_FILE, по умолчанию .env; отсутствие файла
// не ошибка), затем читает переменные окружения и валидирует их.
// Уже заданные переменные окружения .env не перекрывает.
func Load() (*Config, error) {
	envFile := getEnvDefault("CB_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("CB_ENV_FILE: %w", err)
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CB_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("CB_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("CB_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CB_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CB_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CB_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CB_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CB_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("CB_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CB_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("CB_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("CB_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("CB_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("CB_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CB_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("CB_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("CB_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("CB_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("CB_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CB_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CB_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CB_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// CB_QUERY_TIMEOUT — мягкий бюджет запроса (по умолчанию 10s)
	if cfg.QueryTimeout, err = getEnvPositiveDuration("CB_QUERY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("CB_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("CB_JWT_ISSUER", "")
	if cfg.JWTLeeway, err = getEnvDuration("CB_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CB_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("CB_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("CB_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.IngestScopes = parseCSV(getEnvDefault("CB_INGEST_SCOPES", "gestiones:write"))

	// --- Домен ---

	tz := getEnvDefault("CB_TIMEZONE", "America/Argentina/Buenos_Aires")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("CB_TIMEZONE: неизвестный часовой пояс %q", tz)
	}

	cfg.PhoneRegion = strings.ToUpper(getEnvDefault("CB_PHONE_REGION", "AR"))
	if len(cfg.PhoneRegion) != 2 {
		return nil, fmt.Errorf("CB_PHONE_REGION: ожидается двухбуквенный код страны, получено %q", cfg.PhoneRegion)
	}

	if cfg.SummaryCacheTTL, err = getEnvPositiveDuration("CB_SUMMARY_CACHE_TTL", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.SummaryCacheSize, err = getEnvInt("CB_SUMMARY_CACHE_SIZE", 256); err != nil {
		return nil, fmt.Errorf("CB_SUMMARY_CACHE_SIZE: %w", err)
	}
	if cfg.SummaryCacheSize < 1 {
		return nil, fmt.Errorf("CB_SUMMARY_CACHE_SIZE: значение %d должно быть > 0", cfg.SummaryCacheSize)
	}

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("CB_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("CB_REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt("CB_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("CB_REDIS_DB: %w", err)
	}
	if cfg.PromiseLockTTL, err = getEnvPositiveDuration("CB_PROMISE_LOCK_TTL", 5*time.Second); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CB_DEPHEALTH_GROUP", "cobranzas")
	if cfg.DephealthCheckInterval, err = getEnvDuration("CB_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("CB_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("CB_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CB_SHUTDOWN_TIMEOUT: %w", err)
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

// DatabaseURL — URL PostgreSQL (postgres://) для лейблов topologymetrics.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// RedisEnabled — задан ли адрес Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
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

	logger := slog.New(handler).With(slog.String("version", Version))
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

// getEnvPositiveDuration — getEnvDuration с проверкой > 0.
// Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: длительность должна быть > 0, получено %s", key, d)
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

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
