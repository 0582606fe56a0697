// Пакет lifecycle — правила жизненного цикла обещания оплаты.
//
// Состояния:
//   - Pendiente → Promesa activa / Promesa caída — по дате обещания
//   - Pagado parcial / Pagado — по сумме сообщённых платежей
//   - Cerrada cumplida / Cerrada pago parcial / Cerrada incumplida — конечные,
//     выставляются только при закрытии
//
// Конечное обещание (IsActive=false или состояние Cerrada*) не изменяется.
// Все сравнения дат — по календарным дням в часовом поясе Calendar.
package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/cobranzas/internal/domain/model"
)

const closedPrefix = "Cerrada"

// ErrClosed — попытка изменить закрытое обещание.
var ErrClosed = errors.New("promise is closed")

// Calendar определяет «сегодня» в заданном часовом поясе.
type Calendar struct {
	Loc *time.Location
	Now func() time.Time
}

// NewCalendar создаёт календарь; nil now означает time.Now.
func NewCalendar(loc *time.Location, now func() time.Time) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Calendar{Loc: loc, Now: now}
}

// Today — начало текущего дня в поясе календаря.
func (c Calendar) Today() time.Time {
	return c.Day(c.Now())
}

// Day усекает момент времени до календарного дня.
func (c Calendar) Day(t time.Time) time.Time {
	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// FromDate переносит календарную дату t (год, месяц, день в собственном
// поясе t) в пояс календаря. Нужна для значений колонок DATE, которые
// драйвер возвращает полночью UTC.
func (c Calendar) FromDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	loc := c.Loc
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay — два момента приходятся на один календарный день.
func (c Calendar) SameDay(a, b time.Time) bool {
	return c.Day(a).Equal(c.Day(b))
}

// IsClosedState — состояние начинается с «Cerrada».
func IsClosedState(s model.PromiseState) bool {
	return strings.HasPrefix(string(s), closedPrefix)
}

// IsTerminal — обещание закрыто и любые изменения запрещены.
func IsTerminal(p *model.Promise) bool {
	return !p.IsActive || IsClosedState(p.State)
}

// CheckMutable возвращает ErrClosed для конечного обещания.
func CheckMutable(p *model.Promise) error {
	if IsTerminal(p) {
		return ErrClosed
	}
	return nil
}

// LogicalKey — естественный ключ debtor|entity|subcession.
func LogicalKey(debtorID, entityID, subCessionID string) string {
	return strings.TrimSpace(debtorID) + "|" + entityID + "|" + subCessionID
}

// PaidAmount — сумма платежей без помеченных ошибочными.
func PaidAmount(payments []model.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Erroneous {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total
}

// ClassifyByDate — состояние «для отображения» без записи в БД.
// Дата не раньше сегодняшней → Promesa activa, раньше → Promesa caída,
// нет даты → Pendiente.
func (c Calendar) ClassifyByDate(promised time.Time) model.PromiseState {
	if promised.IsZero() {
		return model.StatePending
	}
	if c.Day(promised).Before(c.Today()) {
		return model.StateFallen
	}
	return model.StateActive
}

// DisplayState — состояние для списков: конечные и оплаченные
// обещания показываются как есть, остальные — по дате.
func (c Calendar) DisplayState(p *model.Promise) model.PromiseState {
	if IsTerminal(p) || p.PaidAmount.IsPositive() {
		return p.State
	}
	return c.ClassifyByDate(p.PromisedDate)
}

// Recompute вычисляет сохраняемое состояние по платежам и дате.
// Второй результат — отличается ли оно от текущего.
// Для конечных обещаний всегда возвращает текущее состояние.
func (c Calendar) Recompute(p *model.Promise) (model.PromiseState, bool) {
	if IsTerminal(p) {
		return p.State, false
	}

	next := p.State
	paid := p.PaidAmount
	switch {
	case paid.GreaterThanOrEqual(p.Amount):
		next = model.StatePaid
	case paid.IsPositive():
		next = model.StatePartiallyPaid
	case paid.IsZero() && !p.PromisedDate.IsZero():
		promised := c.Day(p.PromisedDate)
		today := c.Today()
		switch {
		case promised.Before(today):
			next = model.StateFallen
		case promised.Equal(today):
			next = model.StatePending
		default:
			next = model.StateActive
		}
	}
	return next, next != p.State
}

// CloseState — конечное состояние при закрытии обещания.
func CloseState(p *model.Promise) model.PromiseState {
	paid := PaidAmount(p.Payments)
	switch {
	case p.Amount.IsPositive() && paid.GreaterThanOrEqual(p.Amount):
		return model.StateClosedFulfilled
	case paid.IsPositive() && paid.LessThan(p.Amount):
		return model.StateClosedPartial
	default:
		return model.StateClosedUnfulfilled
	}
}

// IsDuplicatePayment — среди неошибочных платежей уже есть платёж
// с тем же календарным днём и той же суммой.
func (c Calendar) IsDuplicatePayment(payments []model.Payment, date time.Time, amount decimal.Decimal) bool {
	for _, p := range payments {
		if p.Erroneous {
			continue
		}
		if c.SameDay(p.Date, date) && p.Amount.Equal(amount) {
			return true
		}
	}
	return false
}
