// promises.go — сервис обещаний оплаты (proyecciones).
// Жизненный цикл: создание с закрытием предыдущего активного обещания
// по тому же ключу, регистрация платежей, пересчёт состояния, закрытие.
// Изменения выполняются в транзакции с блокировкой строки обещания.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/cobranzas/internal/domain/lifecycle"
	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/rbac"
	"github.com/bigkaa/cobranzas/internal/repository"
)

// Prometheus-метрики жизненного цикла обещаний.
var (
	promisesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cb_promises_created_total",
		Help: "Количество созданных обещаний оплаты.",
	})
	promisesClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cb_promises_closed_total",
		Help: "Количество закрытых обещаний по конечному состоянию.",
	}, []string{"state"})
	promisePaymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cb_promise_payments_recorded_total",
		Help: "Количество зарегистрированных платежей.",
	})
	promiseConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cb_promise_conflicts_total",
		Help: "Количество отклонённых конфликтов активного ключа.",
	})
)

// Actor — идентичность вызывающего сотрудника.
type Actor struct {
	UserID string
	Role   string
}

// Elevated — admin или super-admin.
func (a Actor) Elevated() bool {
	return rbac.IsElevated(a.Role)
}

// PromiseTxRunner выполняет fn в транзакции с транзакционным репозиторием.
type PromiseTxRunner interface {
	InPromiseTx(ctx context.Context, fn func(repo repository.PromiseRepository) error) error
}

// CatalogReader — справочники, нужные для проверки ссылок.
type CatalogReader interface {
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	GetSubCession(ctx context.Context, id string) (*model.SubCession, error)
	GetEmployee(ctx context.Context, username string) (*model.Employee, error)
}

// PromiseInput — поля создания обещания. Даты — YYYY-MM-DD или RFC 3339.
type PromiseInput struct {
	DebtorID     string
	DebtorName   string
	EntityID     string
	SubCessionID string
	Amount       decimal.Decimal
	State        string
	Concept      string
	PromisedDate string
	NextFollowUp string
	Observation  string
}

// PromisePatch — частичное изменение обещания; nil — поле не меняется.
type PromisePatch struct {
	DebtorID     *string
	DebtorName   *string
	EntityID     *string
	SubCessionID *string
	Amount       *decimal.Decimal
	State        *string
	Concept      *string
	PromisedDate *string
	NextFollowUp *string
	Observation  *string
}

// PromiseView — обещание с вычисленным «живым» состоянием для отображения.
type PromiseView struct {
	*model.Promise
	DisplayState model.PromiseState
}

// ClosedPromise — сведения о предыдущем обещании, закрытом при создании.
type ClosedPromise struct {
	ID    string
	State model.PromiseState
}

// CreatePromiseResult — результат создания обещания.
type CreatePromiseResult struct {
	Promise PromiseView
	Closed  *ClosedPromise
}

// PromiseListParams — параметры списка обещаний.
type PromiseListParams struct {
	Filters repository.PromiseListFilters
	// Mine — только свои, даже для повышенных ролей
	Mine   bool
	Limit  int
	Offset int
}

// PromiseListResult — страница списка.
type PromiseListResult struct {
	Items []PromiseView
	Total int
}

// PromiseService — сервис обещаний оплаты.
type PromiseService struct {
	repo    repository.PromiseRepository
	tx      PromiseTxRunner
	catalog CatalogReader
	locker  KeyLocker
	cal     lifecycle.Calendar
	logger  *slog.Logger
}

// NewPromiseService создаёт сервис обещаний.
// locker может быть nil — тогда используется NoopLocker.
func NewPromiseService(
	repo repository.PromiseRepository,
	tx PromiseTxRunner,
	catalog CatalogReader,
	locker KeyLocker,
	cal lifecycle.Calendar,
	logger *slog.Logger,
) *PromiseService {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &PromiseService{
		repo:    repo,
		tx:      tx,
		catalog: catalog,
		locker:  locker,
		cal:     cal,
		logger:  logger.With(slog.String("component", "promise_service")),
	}
}

// Create создаёт обещание. Активное обещание с тем же ключом
// закрывается в той же транзакции (CloseState) до вставки нового.
func (s *PromiseService) Create(ctx context.Context, actor Actor, in PromiseInput) (*CreatePromiseResult, error) {
	p, err := s.buildPromise(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, p.EntityID, p.SubCessionID); err != nil {
		return nil, err
	}
	if err := checkAborted(ctx); err != nil {
		return nil, err
	}

	p.ID = uuid.New().String()
	p.OwnerID = actor.UserID
	p.IsActive = true
	p.PaidAmount = decimal.Zero
	// Пересчёт «на горячую» до сохранения
	p.State, _ = s.cal.Recompute(p)

	unlock, err := s.locker.Lock(ctx, p.LogicalKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var closed *ClosedPromise
	err = s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		prev, err := repo.FindActiveByKey(ctx, p.DebtorID, p.EntityID, p.SubCessionID, true)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		default:
			state := lifecycle.CloseState(prev)
			if err := repo.Close(ctx, prev.ID, state, actor.UserID, time.Now().UTC()); err != nil {
				return err
			}
			closed = &ClosedPromise{ID: prev.ID, State: state}
		}

		if err := checkAborted(ctx); err != nil {
			return err
		}
		return repo.Create(ctx, p)
	})
	if err != nil {
		return nil, s.mapErr(err, "обещание")
	}

	promisesCreatedTotal.Inc()
	if closed != nil {
		promisesClosedTotal.WithLabelValues(string(closed.State)).Inc()
		s.logger.Info("Предыдущее обещание закрыто",
			slog.String("promise_id", closed.ID),
			slog.String("state", string(closed.State)),
			slog.String("logical_key", p.LogicalKey),
		)
	}
	s.logger.Info("Обещание создано",
		slog.String("promise_id", p.ID),
		slog.String("owner", p.OwnerID),
		slog.String("state", string(p.State)),
	)

	return &CreatePromiseResult{Promise: s.view(p), Closed: closed}, nil
}

// Update применяет частичное изменение к незакрытому обещанию.
// Смена ключа на занятый другим активным обещанием — ErrConflict.
func (s *PromiseService) Update(ctx context.Context, actor Actor, id string, patch PromisePatch) (*PromiseView, error) {
	// Блокировка по итоговому логическому ключу, как в Create.
	cur, err := s.repo.GetByID(ctx, id, false)
	if err != nil {
		return nil, s.mapErr(err, "обещание")
	}
	unlock, err := s.locker.Lock(ctx, patchedKey(cur, patch))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *model.Promise
	err = s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		p, err := s.loadMutable(ctx, repo, actor, id, true)
		if err != nil {
			return err
		}

		oldKey := p.LogicalKey
		if err := s.applyPatch(p, patch); err != nil {
			return err
		}

		if p.LogicalKey != oldKey {
			if err := s.checkRefs(ctx, p.EntityID, p.SubCessionID); err != nil {
				return err
			}
			other, err := repo.FindActiveByKey(ctx, p.DebtorID, p.EntityID, p.SubCessionID, true)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return err
			case other.ID != p.ID:
				return fmt.Errorf("%w: активное обещание для ключа %s уже существует", ErrConflict, p.LogicalKey)
			}
		}

		if err := checkAborted(ctx); err != nil {
			return err
		}
		if err := repo.Update(ctx, p); err != nil {
			return err
		}
		if err := s.persistRecompute(ctx, repo, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err, "обещание")
	}

	v := s.view(result)
	return &v, nil
}

// patchedKey — логический ключ обещания после применения patch.
func patchedKey(p *model.Promise, patch PromisePatch) string {
	pick := func(cur string, v *string) string {
		if v != nil {
			return strings.TrimSpace(*v)
		}
		return cur
	}
	return lifecycle.LogicalKey(
		pick(p.DebtorID, patch.DebtorID),
		pick(p.EntityID, patch.EntityID),
		pick(p.SubCessionID, patch.SubCessionID),
	)
}

// ClearObservation очищает комментарий незакрытого обещания.
func (s *PromiseService) ClearObservation(ctx context.Context, actor Actor, id string) (*PromiseView, error) {
	empty := ""
	return s.Update(ctx, actor, id, PromisePatch{Observation: &empty})
}

// Get возвращает обещание. Рядовые роли видят только свои обещания.
func (s *PromiseService) Get(ctx context.Context, actor Actor, id string) (*PromiseView, error) {
	p, err := s.repo.GetByID(ctx, id, false)
	if err != nil {
		return nil, s.mapErr(err, "обещание")
	}
	if !actor.Elevated() && p.OwnerID != actor.UserID {
		return nil, fmt.Errorf("%w: обещание принадлежит другому сотруднику", ErrForbidden)
	}
	s.localize(p)
	v := s.view(p)
	return &v, nil
}

// List возвращает обещания с «живым» состоянием для отображения.
// Хранимое состояние при этом не меняется.
func (s *PromiseService) List(ctx context.Context, actor Actor, params PromiseListParams) (*PromiseListResult, error) {
	filters := params.Filters
	if params.Mine || !actor.Elevated() {
		owner := actor.UserID
		filters.OwnerID = &owner
	}

	items, err := s.repo.List(ctx, filters, params.Limit, params.Offset)
	if err != nil {
		return nil, s.mapErr(err, "обещания")
	}
	if err := checkAborted(ctx); err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, s.mapErr(err, "обещания")
	}

	result := &PromiseListResult{Items: make([]PromiseView, 0, len(items)), Total: total}
	for _, p := range items {
		s.localize(p)
		result.Items = append(result.Items, s.view(p))
	}
	return result, nil
}

// RecordPayment регистрирует платёж. Платёж с тем же календарным днём
// и суммой, что и неошибочный существующий, отклоняется (ErrDuplicate).
func (s *PromiseService) RecordPayment(ctx context.Context, actor Actor, id, date string, amount decimal.Decimal) (*PromiseView, error) {
	payDate, err := s.parseDate("fecha", date)
	if err != nil {
		return nil, err
	}
	amount, err = validAmount("monto", amount)
	if err != nil {
		return nil, err
	}

	var result *model.Promise
	err = s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		p, err := s.loadMutable(ctx, repo, actor, id, true)
		if err != nil {
			return err
		}
		if s.cal.IsDuplicatePayment(p.Payments, payDate, amount) {
			return fmt.Errorf("%w: платёж %s на %s уже зарегистрирован", ErrDuplicate,
				amount.StringFixed(2), payDate.Format(time.DateOnly))
		}

		pay := model.Payment{
			ID:         uuid.New().String(),
			PromiseID:  p.ID,
			Date:       payDate,
			Amount:     amount,
			RecordedBy: actor.UserID,
		}
		if err := repo.AddPayment(ctx, &pay); err != nil {
			return err
		}
		p.Payments = append(p.Payments, pay)

		if err := s.persistPaid(ctx, repo, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err, "обещание")
	}

	promisePaymentsTotal.Inc()
	v := s.view(result)
	return &v, nil
}

// MarkPaymentErroneous помечает (или снимает пометку) платёж как ошибочный.
// При снятии пометки причина очищается.
func (s *PromiseService) MarkPaymentErroneous(ctx context.Context, actor Actor, id, paymentID string, erroneous bool, reason string) (*PromiseView, error) {
	var result *model.Promise
	err := s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		p, err := s.loadMutable(ctx, repo, actor, id, true)
		if err != nil {
			return err
		}

		idx := -1
		for i := range p.Payments {
			if p.Payments[i].ID == paymentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: платёж %s", ErrNotFound, paymentID)
		}

		now := time.Now().UTC()
		by := actor.UserID
		pay := &p.Payments[idx]
		pay.Erroneous = erroneous
		pay.ErroneousReason = nil
		if erroneous {
			r := strings.TrimSpace(reason)
			pay.ErroneousReason = &r
		}
		pay.MarkedBy = &by
		pay.MarkedAt = &now

		if err := repo.UpdatePayment(ctx, pay); err != nil {
			return err
		}
		if err := s.persistPaid(ctx, repo, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err, "платёж")
	}

	v := s.view(result)
	return &v, nil
}

// ClearPayments удаляет платежи обещания. Менять обещание может только
// владелец или повышенная роль; владелец-оператор удаляет лишь внесённые
// им платежи, повышенные роли — все. Возвращает число удалённых.
func (s *PromiseService) ClearPayments(ctx context.Context, actor Actor, id string) (*PromiseView, int, error) {
	var result *model.Promise
	var removed int
	err := s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		p, err := s.loadMutable(ctx, repo, actor, id, true)
		if err != nil {
			return err
		}

		var recordedBy *string
		if !actor.Elevated() {
			recordedBy = &actor.UserID
		}
		if removed, err = repo.DeletePayments(ctx, p.ID, recordedBy); err != nil {
			return err
		}

		kept := p.Payments[:0]
		for _, pay := range p.Payments {
			if recordedBy != nil && pay.RecordedBy != *recordedBy {
				kept = append(kept, pay)
			}
		}
		p.Payments = kept

		if err := s.persistPaid(ctx, repo, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, 0, s.mapErr(err, "обещание")
	}

	s.logger.Info("Платежи удалены",
		slog.String("promise_id", id),
		slog.String("actor", actor.UserID),
		slog.Int("removed", removed),
	)
	v := s.view(result)
	return &v, removed, nil
}

// Recompute пересчитывает и сохраняет состояние. Для закрытых обещаний
// и при неизменном состоянии запись не выполняется.
func (s *PromiseService) Recompute(ctx context.Context, id string) (*PromiseView, bool, error) {
	var result *model.Promise
	var changed bool
	err := s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		p, err := repo.GetByID(ctx, id, true)
		if err != nil {
			return err
		}
		s.localize(p)
		before := p.State
		if err := s.persistRecompute(ctx, repo, p); err != nil {
			return err
		}
		changed = p.State != before
		result = p
		return nil
	})
	if err != nil {
		return nil, false, s.mapErr(err, "обещание")
	}

	v := s.view(result)
	return &v, changed, nil
}

// Close явно закрывает обещание (cuenta cerrada) с состоянием CloseState.
func (s *PromiseService) Close(ctx context.Context, actor Actor, id string) (*PromiseView, error) {
	var result *model.Promise
	err := s.tx.InPromiseTx(ctx, func(repo repository.PromiseRepository) error {
		p, err := s.loadMutable(ctx, repo, actor, id, true)
		if err != nil {
			return err
		}
		state := lifecycle.CloseState(p)
		now := time.Now().UTC()
		if err := repo.Close(ctx, p.ID, state, actor.UserID, now); err != nil {
			return err
		}
		by := actor.UserID
		p.State = state
		p.IsActive = false
		p.ClosedAt = &now
		p.ClosedBy = &by
		result = p
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err, "обещание")
	}

	promisesClosedTotal.WithLabelValues(string(result.State)).Inc()
	v := s.view(result)
	return &v, nil
}

// --- Внутренние шаги ---

// loadMutable загружает обещание под блокировкой и проверяет, что оно
// не закрыто и actor вправе его менять.
func (s *PromiseService) loadMutable(ctx context.Context, repo repository.PromiseRepository, actor Actor, id string, forUpdate bool) (*model.Promise, error) {
	p, err := repo.GetByID(ctx, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(p) {
		return nil, ErrForbiddenClosed
	}
	if !rbac.CanMutate(actor.UserID, actor.Role, p.OwnerID) {
		return nil, fmt.Errorf("%w: обещание принадлежит другому сотруднику", ErrForbidden)
	}
	s.localize(p)
	return p, nil
}

// persistPaid пересчитывает сумму оплаты, сохраняет её и состояние.
func (s *PromiseService) persistPaid(ctx context.Context, repo repository.PromiseRepository, p *model.Promise) error {
	p.PaidAmount = lifecycle.PaidAmount(p.Payments)
	if err := repo.UpdatePaid(ctx, p); err != nil {
		return err
	}
	return s.persistRecompute(ctx, repo, p)
}

// persistRecompute сохраняет новое состояние, только если оно изменилось.
func (s *PromiseService) persistRecompute(ctx context.Context, repo repository.PromiseRepository, p *model.Promise) error {
	next, changed := s.cal.Recompute(p)
	if !changed {
		return nil
	}
	updatedAt, err := repo.UpdateState(ctx, p.ID, next)
	if err != nil {
		return err
	}
	p.State = next
	p.UpdatedAt = updatedAt
	return nil
}

// buildPromise валидирует вход создания.
func (s *PromiseService) buildPromise(in PromiseInput) (*model.Promise, error) {
	p := &model.Promise{
		DebtorID:     strings.TrimSpace(in.DebtorID),
		DebtorName:   strings.TrimSpace(in.DebtorName),
		EntityID:     strings.TrimSpace(in.EntityID),
		SubCessionID: strings.TrimSpace(in.SubCessionID),
		Amount:       in.Amount,
		State:        model.PromiseState(strings.TrimSpace(in.State)),
		Concept:      strings.TrimSpace(in.Concept),
		Observation:  strings.TrimSpace(in.Observation),
	}
	var err error
	if p.PromisedDate, err = s.parseDate("fechaPromesa", in.PromisedDate); err != nil {
		return nil, err
	}
	if p.NextFollowUp, err = s.parseDate("proximoSeguimiento", in.NextFollowUp); err != nil {
		return nil, err
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// applyPatch применяет изменения и валидирует получившееся обещание.
func (s *PromiseService) applyPatch(p *model.Promise, patch PromisePatch) error {
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setStr(&p.DebtorID, patch.DebtorID)
	setStr(&p.DebtorName, patch.DebtorName)
	setStr(&p.EntityID, patch.EntityID)
	setStr(&p.SubCessionID, patch.SubCessionID)
	setStr(&p.Concept, patch.Concept)
	setStr(&p.Observation, patch.Observation)
	if patch.State != nil {
		p.State = model.PromiseState(strings.TrimSpace(*patch.State))
	}
	if patch.Amount != nil {
		p.Amount = *patch.Amount
	}

	var err error
	if patch.PromisedDate != nil {
		if p.PromisedDate, err = s.parseDate("fechaPromesa", *patch.PromisedDate); err != nil {
			return err
		}
	}
	if patch.NextFollowUp != nil {
		if p.NextFollowUp, err = s.parseDate("proximoSeguimiento", *patch.NextFollowUp); err != nil {
			return err
		}
	}
	return s.validate(p)
}

// validate проверяет обязательные поля и вычисляет производные.
func (s *PromiseService) validate(p *model.Promise) error {
	required := []struct {
		field string
		value string
	}{
		{"dni", p.DebtorID},
		{"nombre", p.DebtorName},
		{"entidad", p.EntityID},
		{"subCesion", p.SubCessionID},
		{"estado", string(p.State)},
		{"concepto", p.Concept},
	}
	for _, r := range required {
		if r.value == "" {
			return validationf("поле %s обязательно", r.field)
		}
	}
	if !model.ValidPromiseState(string(p.State)) || lifecycle.IsClosedState(p.State) {
		return validationf("недопустимое состояние %q", p.State)
	}

	amount, err := validAmount("monto", p.Amount)
	if err != nil {
		return err
	}
	p.Amount = amount

	p.PromisedMonth = int(p.PromisedDate.Month())
	p.PromisedYear = p.PromisedDate.Year()
	p.LogicalKey = lifecycle.LogicalKey(p.DebtorID, p.EntityID, p.SubCessionID)
	return nil
}

// checkRefs проверяет, что кредитор и сегмент существуют и связаны.
func (s *PromiseService) checkRefs(ctx context.Context, entityID, subCessionID string) error {
	if _, err := s.catalog.GetEntity(ctx, entityID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: entidad %s", ErrNotFound, entityID)
		}
		return err
	}
	sub, err := s.catalog.GetSubCession(ctx, subCessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: subcesión %s", ErrNotFound, subCessionID)
		}
		return err
	}
	if sub.EntityID != entityID {
		return fmt.Errorf("%w: subcesión %s не принадлежит entidad %s", ErrNotFound, subCessionID, entityID)
	}
	return nil
}

// parseDate разбирает дату (YYYY-MM-DD или RFC 3339) в календарный день.
func (s *PromiseService) parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, validationf("поле %s обязательно", field)
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, s.cal.Loc); err == nil {
		return s.cal.Day(t), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return s.cal.Day(t), nil
	}
	return time.Time{}, validationf("поле %s: некорректная дата %q", field, value)
}

// validAmount проверяет, что сумма > 0 после округления до сотых.
func validAmount(field string, amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.Round(2)
	if !rounded.IsPositive() {
		return decimal.Zero, validationf("поле %s должно быть > 0", field)
	}
	return rounded, nil
}

// localize переносит колонки DATE в часовой пояс календаря.
func (s *PromiseService) localize(p *model.Promise) {
	p.PromisedDate = s.cal.FromDate(p.PromisedDate)
	p.NextFollowUp = s.cal.FromDate(p.NextFollowUp)
	for i := range p.Payments {
		p.Payments[i].Date = s.cal.FromDate(p.Payments[i].Date)
	}
}

func (s *PromiseService) view(p *model.Promise) PromiseView {
	return PromiseView{Promise: p, DisplayState: s.cal.DisplayState(p)}
}

// mapErr переводит ошибки репозитория и контекста в ошибки сервиса.
func (s *PromiseService) mapErr(err error, what string) error {
	switch {
	case errors.Is(err, repository.ErrConflict), errors.Is(err, ErrConflict):
		promiseConflictsTotal.Inc()
	}
	return mapCommonErr(err, what)
}
