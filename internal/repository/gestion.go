package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cobranzas/internal/domain/model"
)

// GestionRepository — журнал активности колл-центра.
type GestionRepository interface {
	// BulkInsert загружает строки через COPY; возвращает число вставленных.
	BulkInsert(ctx context.Context, rows []*model.Gestion) (int64, error)
	// Summary агрегирует журнал по фильтрам.
	Summary(ctx context.Context, filters GestionFilters) (*model.GestionSummary, error)
}

// GestionFilters — фильтры сводки. From включительно, To — исключительно.
type GestionFilters struct {
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Operator   *string    `json:"operator,omitempty"`
	EntityCode *string    `json:"entity,omitempty"`
	Channel    *string    `json:"channel,omitempty"`
}

type gestionRepo struct {
	db DBTX
}

// NewGestionRepository создаёт репозиторий журнала активности.
func NewGestionRepository(db DBTX) GestionRepository {
	return &gestionRepo{db: db}
}

var gestionCopyColumns = []string{
	"id", "occurred_at", "operator", "debtor_id", "entity_code", "channel", "result", "contacted",
}

func (r *gestionRepo) BulkInsert(ctx context.Context, rows []*model.Gestion) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := r.db.CopyFrom(ctx, pgx.Identifier{"gestiones"}, gestionCopyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			g := rows[i]
			return []any{g.ID, g.OccurredAt, g.Operator, g.DebtorID, g.EntityCode, g.Channel, g.Result, g.Contacted}, nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: повторный id в пакете gestiones", ErrConflict)
		}
		return 0, fmt.Errorf("ошибка загрузки gestiones: %w", err)
	}
	return n, nil
}

// buildGestionWhere строит WHERE-условие для сводки.
// Операторы и кредиторы сравниваются без учёта регистра.
func buildGestionWhere(filters GestionFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.From != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", argNum))
		args = append(args, *filters.From)
		argNum++
	}
	if filters.To != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at < $%d", argNum))
		args = append(args, *filters.To)
		argNum++
	}
	if filters.Operator != nil {
		conditions = append(conditions, fmt.Sprintf("lower(operator) = lower($%d)", argNum))
		args = append(args, *filters.Operator)
		argNum++
	}
	if filters.EntityCode != nil {
		conditions = append(conditions, fmt.Sprintf("lower(entity_code) = lower($%d)", argNum))
		args = append(args, *filters.EntityCode)
		argNum++
	}
	if filters.Channel != nil {
		conditions = append(conditions, fmt.Sprintf("lower(channel) = lower($%d)", argNum))
		args = append(args, *filters.Channel)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *gestionRepo) Summary(ctx context.Context, filters GestionFilters) (*model.GestionSummary, error) {
	where, args := buildGestionWhere(filters, 1)
	summary := &model.GestionSummary{ByResult: map[string]int{}}

	// По результату
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT result, COUNT(*), COUNT(*) FILTER (WHERE contacted)
		FROM gestiones %s
		GROUP BY result`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации gestiones по результату: %w", err)
	}
	for rows.Next() {
		var result string
		var total, contacted int
		if err := rows.Scan(&result, &total, &contacted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		summary.ByResult[result] = total
		summary.Total += total
		summary.Contacted += contacted
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// По оператору
	rows, err = r.db.Query(ctx, fmt.Sprintf(`
		SELECT operator, COUNT(*), COUNT(*) FILTER (WHERE contacted)
		FROM gestiones %s
		GROUP BY operator
		ORDER BY COUNT(*) DESC, operator`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации gestiones по оператору: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.OperatorActivity
		if err := rows.Scan(&a.Operator, &a.Total, &a.Contacted); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		summary.ByOperator = append(summary.ByOperator, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if summary.Total > 0 {
		summary.ContactRate = float64(summary.Contacted) / float64(summary.Total)
	}
	return summary, nil
}
