// Пакет database — хранилище обещаний и аудитов в PostgreSQL:
// пул pgxpool, встроенные миграции golang-migrate и проверки схемы.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/cobranzas/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ActiveKeyIndex — частичный уникальный индекс «одно активное обещание на ключ».
const ActiveKeyIndex = "promises_active_key_uniq"

// applicationName виден в pg_stat_activity.
const applicationName = "cobranzas"

// Connect открывает пул к базе обещаний. Часовой пояс сессии совпадает
// с календарём обещаний (CB_TIMEZONE).
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("некорректный DSN базы cobranzas: %w", err)
	}
	params := poolCfg.ConnConfig.RuntimeParams
	params["application_name"] = applicationName
	if cfg.Location != nil {
		params["timezone"] = cfg.Location.String()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул базы cobranzas: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база cobranzas недоступна: %w", err)
	}

	logger.Info("База обещаний подключена",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.String("timezone", params["timezone"]),
	)
	return pool, nil
}

// EnsureActiveKeyGuard проверяет, что индекс ActiveKeyIndex есть в схеме.
// Без него гонка двух Create на один ключ не даёт CONFLICT.
func EnsureActiveKeyGuard(ctx context.Context, pool *pgxpool.Pool) error {
	var def string
	err := pool.QueryRow(ctx,
		`SELECT indexdef FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1`,
		ActiveKeyIndex,
	).Scan(&def)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("индекс %s отсутствует: уникальность активных обещаний не гарантируется", ActiveKeyIndex)
	}
	if err != nil {
		return fmt.Errorf("ошибка проверки индекса %s: %w", ActiveKeyIndex, err)
	}
	return nil
}

// MigrationURL — URL для golang-migrate (pgx5://), пароль экранируется.
func MigrationURL(cfg *config.Config) string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     net.JoinHostPort(cfg.DBHost, strconv.Itoa(cfg.DBPort)),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.DBSSLMode),
	}
	return u.String()
}

// Migrate приводит схему обещаний, аудитов и gestiones к последней версии.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка чтения встроенных миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, MigrationURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	from, _, _ := m.Version()
	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", upErr)
	}

	version, dirty, _ := m.Version()
	if errors.Is(upErr, migrate.ErrNoChange) {
		logger.Info("Схема cobranzas актуальна", slog.Uint64("version", uint64(version)))
		return nil
	}
	logger.Info("Схема cobranzas обновлена",
		slog.Uint64("from", uint64(from)),
		slog.Uint64("to", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// ReadinessChecker — готовность базы обещаний для /health/ready.
type ReadinessChecker struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности с таймаутом 3s.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool, timeout: 3 * time.Second}
}

// CheckReady пингует PostgreSQL. Возвращает ("ok"|"fail", сообщение).
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("база обещаний недоступна: %v", err)
	}
	return "ok", "база обещаний доступна"
}
