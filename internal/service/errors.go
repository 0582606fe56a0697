// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/cobranzas/internal/repository"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrEmptyOrOversized — в аудите 0 или больше 5 элементов.
	ErrEmptyOrOversized = fmt.Errorf("%w: недопустимое количество элементов", ErrValidation)
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrForbiddenClosed — изменение закрытого обещания.
	ErrForbiddenClosed = errors.New("обещание закрыто, изменения запрещены")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrDuplicate — повторный платёж (тот же день и сумма).
	ErrDuplicate = fmt.Errorf("%w: повторный платёж", ErrConflict)
	// ErrClientAborted — клиент отключился, дальнейшая работа прекращена.
	ErrClientAborted = errors.New("запрос прерван клиентом")
)

// checkAborted возвращает ErrClientAborted, если контекст запроса отменён.
// Вызывается между шагами обращения к хранилищу.
func checkAborted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrClientAborted, err) //nolint:errorlint // намеренный двойной wrap
	}
	return nil
}

// validationf создаёт ошибку валидации с сообщением.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapCommonErr переводит ошибки репозитория и отмену контекста
// в ошибки сервиса. what — что искали, для текста ошибки.
func mapCommonErr(err error, what string) error {
	switch {
	case errors.Is(err, ErrClientAborted):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrClientAborted, err) //nolint:errorlint // намеренный двойной wrap
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, what)
	}
	return err
}
