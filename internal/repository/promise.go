package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cobranzas/internal/domain/model"
)

// PromiseRepository — доступ к таблицам promises и promise_payments.
type PromiseRepository interface {
	// Create вставляет обещание. Второе активное обещание на тот же
	// ключ (debtor, entity, subcession) отклоняется индексом → ErrConflict.
	Create(ctx context.Context, p *model.Promise) error
	// GetByID возвращает обещание с платежами.
	// forUpdate — блокировка строки до конца транзакции.
	GetByID(ctx context.Context, id string, forUpdate bool) (*model.Promise, error)
	// FindActiveByKey ищет активное обещание по естественному ключу.
	FindActiveByKey(ctx context.Context, debtorID, entityID, subCessionID string, forUpdate bool) (*model.Promise, error)
	// Update сохраняет редактируемые поля и состояние активного обещания.
	Update(ctx context.Context, p *model.Promise) error
	// UpdateState сохраняет состояние активного обещания.
	UpdateState(ctx context.Context, id string, state model.PromiseState) (time.Time, error)
	// UpdatePaid сохраняет сумму оплаты активного обещания.
	UpdatePaid(ctx context.Context, p *model.Promise) error
	// Close переводит обещание в конечное состояние и снимает флаг активности.
	Close(ctx context.Context, id string, state model.PromiseState, closedBy string, closedAt time.Time) error
	// List возвращает обещания без платежей.
	List(ctx context.Context, filters PromiseListFilters, limit, offset int) ([]*model.Promise, error)
	// Count возвращает количество обещаний по фильтрам.
	Count(ctx context.Context, filters PromiseListFilters) (int, error)

	// AddPayment добавляет платёж.
	AddPayment(ctx context.Context, pay *model.Payment) error
	// UpdatePayment сохраняет флаг ошибочности платежа.
	UpdatePayment(ctx context.Context, pay *model.Payment) error
	// DeletePayments удаляет платежи обещания; recordedBy != nil —
	// только внесённые этим сотрудником.
	DeletePayments(ctx context.Context, promiseID string, recordedBy *string) (int, error)
}

// PromiseListFilters — фильтры списка обещаний.
type PromiseListFilters struct {
	OwnerID      *string
	DebtorID     *string
	EntityID     *string
	SubCessionID *string
	State        *string
	Active       *bool
	PromisedFrom *time.Time
	PromisedTo   *time.Time
}

// promiseRepo — реализация PromiseRepository.
type promiseRepo struct {
	db DBTX
}

// NewPromiseRepository создаёт репозиторий обещаний.
func NewPromiseRepository(db DBTX) PromiseRepository {
	return &promiseRepo{db: db}
}

const promiseColumns = `id, debtor_id, debtor_name, entity_id, subcession_id,
	amount::text, promised_date, next_follow_up, promised_month, promised_year,
	concept, observation, paid_amount::text, state, owner_id, is_active,
	logical_key, closed_at, closed_by, created_at, updated_at`

// scanPromise сканирует строку результата в модель Promise.
func scanPromise(row pgx.Row) (*model.Promise, error) {
	p := &model.Promise{}
	var amount, paid, state string
	err := row.Scan(
		&p.ID, &p.DebtorID, &p.DebtorName, &p.EntityID, &p.SubCessionID,
		&amount, &p.PromisedDate, &p.NextFollowUp, &p.PromisedMonth, &p.PromisedYear,
		&p.Concept, &p.Observation, &paid, &state, &p.OwnerID, &p.IsActive,
		&p.LogicalKey, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if p.PaidAmount, err = parseDecimal(paid); err != nil {
		return nil, err
	}
	p.State = model.PromiseState(state)
	return p, nil
}

func (r *promiseRepo) Create(ctx context.Context, p *model.Promise) error {
	query := `
		INSERT INTO promises (id, debtor_id, debtor_name, entity_id, subcession_id,
			amount, promised_date, next_follow_up, promised_month, promised_year,
			concept, observation, paid_amount, state, owner_id, is_active, logical_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.DebtorID, p.DebtorName, p.EntityID, p.SubCessionID,
		p.Amount.String(), p.PromisedDate, p.NextFollowUp, p.PromisedMonth, p.PromisedYear,
		p.Concept, p.Observation, p.PaidAmount.String(), string(p.State), p.OwnerID,
		p.IsActive, p.LogicalKey,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активное обещание для ключа %s уже существует", ErrConflict, p.LogicalKey)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: кредитор или сегмент", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания обещания: %w", err)
	}
	return nil
}

func (r *promiseRepo) GetByID(ctx context.Context, id string, forUpdate bool) (*model.Promise, error) {
	query := fmt.Sprintf(`SELECT %s FROM promises WHERE id = $1`, promiseColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}
	p, err := scanPromise(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения обещания: %w", err)
	}
	if p.Payments, err = r.listPayments(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *promiseRepo) FindActiveByKey(ctx context.Context, debtorID, entityID, subCessionID string, forUpdate bool) (*model.Promise, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM promises
		WHERE debtor_id = $1 AND entity_id = $2 AND subcession_id = $3 AND is_active`,
		promiseColumns)
	if forUpdate {
		query += " FOR UPDATE"
	}
	p, err := scanPromise(r.db.QueryRow(ctx, query, debtorID, entityID, subCessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска активного обещания: %w", err)
	}
	if p.Payments, err = r.listPayments(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *promiseRepo) Update(ctx context.Context, p *model.Promise) error {
	query := `
		UPDATE promises
		SET debtor_id = $2, debtor_name = $3, entity_id = $4, subcession_id = $5,
			amount = $6, promised_date = $7, next_follow_up = $8,
			promised_month = $9, promised_year = $10, concept = $11,
			observation = $12, logical_key = $13, state = $14, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.DebtorID, p.DebtorName, p.EntityID, p.SubCessionID,
		p.Amount.String(), p.PromisedDate, p.NextFollowUp,
		p.PromisedMonth, p.PromisedYear, p.Concept,
		p.Observation, p.LogicalKey, string(p.State),
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активное обещание для ключа %s уже существует", ErrConflict, p.LogicalKey)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: кредитор или сегмент", ErrNotFound)
		}
		return fmt.Errorf("ошибка обновления обещания: %w", err)
	}
	return nil
}

func (r *promiseRepo) UpdateState(ctx context.Context, id string, state model.PromiseState) (time.Time, error) {
	query := `
		UPDATE promises SET state = $2, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING updated_at`

	var updatedAt time.Time
	if err := r.db.QueryRow(ctx, query, id, string(state)).Scan(&updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("ошибка обновления состояния обещания: %w", err)
	}
	return updatedAt, nil
}

func (r *promiseRepo) UpdatePaid(ctx context.Context, p *model.Promise) error {
	query := `
		UPDATE promises SET paid_amount = $2, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING updated_at`

	if err := r.db.QueryRow(ctx, query, p.ID, p.PaidAmount.String()).Scan(&p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления суммы оплаты: %w", err)
	}
	return nil
}

func (r *promiseRepo) Close(ctx context.Context, id string, state model.PromiseState, closedBy string, closedAt time.Time) error {
	query := `
		UPDATE promises
		SET is_active = FALSE, state = $2, closed_by = $3, closed_at = $4, updated_at = NOW()
		WHERE id = $1 AND is_active`

	tag, err := r.db.Exec(ctx, query, id, string(state), closedBy, closedAt)
	if err != nil {
		return fmt.Errorf("ошибка закрытия обещания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildPromiseWhere строит WHERE-условие и аргументы для фильтрации обещаний.
func buildPromiseWhere(filters PromiseListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if filters.OwnerID != nil {
		add("owner_id = $%d", *filters.OwnerID)
	}
	if filters.DebtorID != nil {
		add("debtor_id = $%d", *filters.DebtorID)
	}
	if filters.EntityID != nil {
		add("entity_id = $%d", *filters.EntityID)
	}
	if filters.SubCessionID != nil {
		add("subcession_id = $%d", *filters.SubCessionID)
	}
	if filters.State != nil {
		add("state = $%d", *filters.State)
	}
	if filters.Active != nil {
		add("is_active = $%d", *filters.Active)
	}
	if filters.PromisedFrom != nil {
		add("promised_date >= $%d", *filters.PromisedFrom)
	}
	if filters.PromisedTo != nil {
		add("promised_date <= $%d", *filters.PromisedTo)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *promiseRepo) List(ctx context.Context, filters PromiseListFilters, limit, offset int) ([]*model.Promise, error) {
	where, args := buildPromiseWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM promises
		%s
		ORDER BY promised_date ASC, created_at DESC
		LIMIT $%d OFFSET $%d`, promiseColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка обещаний: %w", err)
	}
	defer rows.Close()

	var result []*model.Promise
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования обещания: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *promiseRepo) Count(ctx context.Context, filters PromiseListFilters) (int, error) {
	where, args := buildPromiseWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM promises %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта обещаний: %w", err)
	}
	return count, nil
}

// --- Платежи ---

const paymentColumns = `id, promise_id, paid_on, amount::text, recorded_by,
	erroneous, erroneous_reason, marked_by, marked_at, created_at`

func (r *promiseRepo) listPayments(ctx context.Context, promiseID string) ([]model.Payment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM promise_payments
		WHERE promise_id = $1
		ORDER BY paid_on ASC, created_at ASC`, paymentColumns)

	rows, err := r.db.Query(ctx, query, promiseID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения платежей: %w", err)
	}
	defer rows.Close()

	var result []model.Payment
	for rows.Next() {
		var pay model.Payment
		var amount string
		if err := rows.Scan(
			&pay.ID, &pay.PromiseID, &pay.Date, &amount, &pay.RecordedBy,
			&pay.Erroneous, &pay.ErroneousReason, &pay.MarkedBy, &pay.MarkedAt, &pay.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования платежа: %w", err)
		}
		if pay.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		result = append(result, pay)
	}
	return result, rows.Err()
}

func (r *promiseRepo) AddPayment(ctx context.Context, pay *model.Payment) error {
	query := `
		INSERT INTO promise_payments (id, promise_id, paid_on, amount, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		pay.ID, pay.PromiseID, pay.Date, pay.Amount.String(), pay.RecordedBy,
	).Scan(&pay.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка добавления платежа: %w", err)
	}
	return nil
}

func (r *promiseRepo) UpdatePayment(ctx context.Context, pay *model.Payment) error {
	query := `
		UPDATE promise_payments
		SET erroneous = $3, erroneous_reason = $4, marked_by = $5, marked_at = $6
		WHERE id = $1 AND promise_id = $2`

	tag, err := r.db.Exec(ctx, query,
		pay.ID, pay.PromiseID, pay.Erroneous, pay.ErroneousReason, pay.MarkedBy, pay.MarkedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления платежа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *promiseRepo) DeletePayments(ctx context.Context, promiseID string, recordedBy *string) (int, error) {
	query := `DELETE FROM promise_payments WHERE promise_id = $1`
	args := []any{promiseID}
	if recordedBy != nil {
		query += ` AND recorded_by = $2`
		args = append(args, *recordedBy)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления платежей: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
