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

// AuditRepository — интерфейс CRUD для таблицы audits.
// Удалённые (deleted = true) записи не возвращаются.
type AuditRepository interface {
	Create(ctx context.Context, a *model.Audit) error
	GetByID(ctx context.Context, id string) (*model.Audit, error)
	// Update заменяет элементы, заметки и пересчитанные оценки.
	Update(ctx context.Context, a *model.Audit) error
	// SoftDelete помечает аудит удалённым.
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, filters AuditListFilters, limit, offset int) ([]*model.Audit, error)
	Count(ctx context.Context, filters AuditListFilters) (int, error)
}

// AuditListFilters — фильтры списка аудитов.
type AuditListFilters struct {
	OperatorID     *string
	AuditorID      *string
	Classification *string
	From           *time.Time
	To             *time.Time
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий аудитов.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

const auditColumns = `id, operator_id, auditor_id, audit_date, items,
	positives, negatives, notes, score, category_scores, classification,
	deleted, created_at, updated_at`

func scanAudit(row pgx.Row) (*model.Audit, error) {
	a := &model.Audit{}
	err := row.Scan(
		&a.ID, &a.OperatorID, &a.AuditorID, &a.AuditDate, &a.Items,
		&a.Positives, &a.Negatives, &a.Notes, &a.Score, &a.CategoryScores,
		&a.Classification, &a.Deleted, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

func (r *auditRepo) Create(ctx context.Context, a *model.Audit) error {
	query := `
		INSERT INTO audits (id, operator_id, auditor_id, audit_date, items,
			positives, negatives, notes, score, category_scores, classification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.OperatorID, a.AuditorID, a.AuditDate, a.Items,
		a.Positives, a.Negatives, a.Notes, a.Score, a.CategoryScores, a.Classification,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: оператор %s", ErrNotFound, a.OperatorID)
		}
		return fmt.Errorf("ошибка создания аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) GetByID(ctx context.Context, id string) (*model.Audit, error) {
	query := fmt.Sprintf(`SELECT %s FROM audits WHERE id = $1 AND NOT deleted`, auditColumns)
	a, err := scanAudit(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения аудита: %w", err)
	}
	return a, nil
}

func (r *auditRepo) Update(ctx context.Context, a *model.Audit) error {
	query := `
		UPDATE audits
		SET operator_id = $2, audit_date = $3, items = $4, positives = $5,
			negatives = $6, notes = $7, score = $8, category_scores = $9,
			classification = $10, updated_at = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.OperatorID, a.AuditDate, a.Items, a.Positives,
		a.Negatives, a.Notes, a.Score, a.CategoryScores, a.Classification,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: оператор %s", ErrNotFound, a.OperatorID)
		}
		return fmt.Errorf("ошибка обновления аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE audits SET deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления аудита: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildAuditWhere строит WHERE-условие; удалённые аудиты исключаются всегда.
func buildAuditWhere(filters AuditListFilters, startArg int) (string, []any) {
	conditions := []string{"NOT deleted"}
	var args []any
	argNum := startArg

	if filters.OperatorID != nil {
		conditions = append(conditions, fmt.Sprintf("operator_id = $%d", argNum))
		args = append(args, *filters.OperatorID)
		argNum++
	}
	if filters.AuditorID != nil {
		conditions = append(conditions, fmt.Sprintf("auditor_id = $%d", argNum))
		args = append(args, *filters.AuditorID)
		argNum++
	}
	if filters.Classification != nil {
		conditions = append(conditions, fmt.Sprintf("classification = $%d", argNum))
		args = append(args, *filters.Classification)
		argNum++
	}
	if filters.From != nil {
		conditions = append(conditions, fmt.Sprintf("audit_date >= $%d", argNum))
		args = append(args, *filters.From)
		argNum++
	}
	if filters.To != nil {
		conditions = append(conditions, fmt.Sprintf("audit_date <= $%d", argNum))
		args = append(args, *filters.To)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *auditRepo) List(ctx context.Context, filters AuditListFilters, limit, offset int) ([]*model.Audit, error) {
	where, args := buildAuditWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM audits
		%s
		ORDER BY audit_date DESC, created_at DESC
		LIMIT $%d OFFSET $%d`, auditColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка аудитов: %w", err)
	}
	defer rows.Close()

	var result []*model.Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования аудита: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *auditRepo) Count(ctx context.Context, filters AuditListFilters) (int, error) {
	where, args := buildAuditWhere(filters, 1)
	var count int
	if err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM audits %s`, where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта аудитов: %w", err)
	}
	return count, nil
}
