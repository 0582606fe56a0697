// locker.go — блокировка естественного ключа обещания между экземплярами.
// Основная защита — транзакция с SELECT ... FOR UPDATE и частичный
// уникальный индекс; Redis-блокировка сериализует конкурирующих
// создателей до обращения к БД.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// KeyLocker — блокировка по строковому ключу.
type KeyLocker interface {
	// Lock захватывает ключ; возвращённую функцию нужно вызвать для освобождения.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker — блокировка без эффекта (Redis не настроен).
type NoopLocker struct{}

// Lock ничего не блокирует.
func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// lockRetryBackoff — пауза между попытками захвата.
const lockRetryBackoff = 50 * time.Millisecond

// RedisKeyLocker — распределённая блокировка через bsm/redislock.
type RedisKeyLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisKeyLocker создаёт блокировку поверх клиента Redis.
// ttl — время жизни блокировки; ожидание захвата ограничено тем же ttl.
func NewRedisKeyLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisKeyLocker {
	return &RedisKeyLocker{
		locker: redislock.New(client),
		ttl:    ttl,
		prefix: "cobranzas:promise:",
		logger: logger.With(slog.String("component", "promise_locker")),
	}
}

// Lock захватывает ключ с линейными повторами.
// Если ключ не освободился за ttl — ErrConflict.
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	retries := int(l.ttl / lockRetryBackoff)
	lock, err := l.locker.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(lockRetryBackoff), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: ключ %s обрабатывается другим запросом", ErrConflict, key)
	}
	if err != nil {
		if ctxErr := checkAborted(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ошибка захвата блокировки %s: %w", key, err)
	}

	return func() {
		// Освобождаем даже если контекст запроса уже отменён.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("Не удалось освободить блокировку",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}
