package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromiseState — состояние жизненного цикла обещания оплаты.
type PromiseState string

const (
	StatePending           PromiseState = "Pendiente"
	StateActive            PromiseState = "Promesa activa"
	StateFallen            PromiseState = "Promesa caída"
	StatePartiallyPaid     PromiseState = "Pagado parcial"
	StatePaid              PromiseState = "Pagado"
	StateClosedFulfilled   PromiseState = "Cerrada cumplida"
	StateClosedPartial     PromiseState = "Cerrada pago parcial"
	StateClosedUnfulfilled PromiseState = "Cerrada incumplida"
)

// ValidPromiseState проверяет, что строка — известное состояние.
func ValidPromiseState(s string) bool {
	switch PromiseState(s) {
	case StatePending, StateActive, StateFallen, StatePartiallyPaid, StatePaid,
		StateClosedFulfilled, StateClosedPartial, StateClosedUnfulfilled:
		return true
	default:
		return false
	}
}

// Promise — обещание оплаты должника («proyección»).
// Хранится в таблице promises, платежи — в promise_payments.
type Promise struct {
	// ID — UUID записи
	ID string
	// DebtorID — DNI должника
	DebtorID string
	// DebtorName — имя должника
	DebtorName string
	// EntityID — кредитор
	EntityID string
	// SubCessionID — сегмент портфеля кредитора
	SubCessionID string
	// Amount — обещанная сумма
	Amount decimal.Decimal
	// PromisedDate — дата обещанного платежа
	PromisedDate time.Time
	// NextFollowUp — дата следующего контакта
	NextFollowUp time.Time
	// PromisedMonth, PromisedYear — производные от PromisedDate для отчётов
	PromisedMonth int
	PromisedYear  int
	// Concept — категория платежа (cuota, cancelación, ...)
	Concept string
	// Observation — свободный комментарий оператора
	Observation string
	// Payments — сообщённые платежи
	Payments []Payment
	// PaidAmount — сумма неошибочных платежей
	PaidAmount decimal.Decimal
	// State — сохранённое состояние
	State PromiseState
	// OwnerID — username сотрудника, создавшего обещание
	OwnerID string
	// IsActive — false после закрытия
	IsActive bool
	// LogicalKey — debtor|entity|subcession
	LogicalKey string
	// ClosedAt — время закрытия (nil для активных)
	ClosedAt *time.Time
	// ClosedBy — кто закрыл
	ClosedBy *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment — платёж, о котором сообщил оператор.
type Payment struct {
	ID         string
	PromiseID  string
	Date       time.Time
	Amount     decimal.Decimal
	RecordedBy string
	// Erroneous — платёж помечен как ошибочный и не учитывается в сумме
	Erroneous       bool
	ErroneousReason *string
	MarkedBy        *string
	MarkedAt        *time.Time
	CreatedAt       time.Time
}
