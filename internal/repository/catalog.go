package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cobranzas/internal/domain/model"
)

// CatalogRepository — справочники: кредиторы, сегменты, сотрудники.
type CatalogRepository interface {
	CreateEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListEntities(ctx context.Context) ([]*model.Entity, error)

	CreateSubCession(ctx context.Context, s *model.SubCession) error
	// GetSubCession возвращает сегмент по id.
	GetSubCession(ctx context.Context, id string) (*model.SubCession, error)
	ListSubCessions(ctx context.Context, entityID string) ([]*model.SubCession, error)

	// UpsertEmployee создаёт сотрудника или обновляет имя, роль и активность.
	UpsertEmployee(ctx context.Context, e *model.Employee) error
	GetEmployee(ctx context.Context, username string) (*model.Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool) ([]*model.Employee, error)
}

type catalogRepo struct {
	db DBTX
}

// NewCatalogRepository создаёт репозиторий справочников.
func NewCatalogRepository(db DBTX) CatalogRepository {
	return &catalogRepo{db: db}
}

// --- Кредиторы ---

func (r *catalogRepo) CreateEntity(ctx context.Context, e *model.Entity) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO entities (id, code, name) VALUES ($1, $2, $3) RETURNING created_at`,
		e.ID, e.Code, e.Name,
	).Scan(&e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: кредитор с кодом %s уже существует", ErrConflict, e.Code)
		}
		return fmt.Errorf("ошибка создания кредитора: %w", err)
	}
	return nil
}

func (r *catalogRepo) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	e := &model.Entity{}
	err := r.db.QueryRow(ctx,
		`SELECT id, code, name, created_at FROM entities WHERE id = $1`, id,
	).Scan(&e.ID, &e.Code, &e.Name, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения кредитора: %w", err)
	}
	return e, nil
}

func (r *catalogRepo) ListEntities(ctx context.Context) ([]*model.Entity, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, created_at FROM entities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения кредиторов: %w", err)
	}
	defer rows.Close()

	var result []*model.Entity
	for rows.Next() {
		e := &model.Entity{}
		if err := rows.Scan(&e.ID, &e.Code, &e.Name, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования кредитора: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// --- Сегменты ---

func (r *catalogRepo) CreateSubCession(ctx context.Context, s *model.SubCession) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO subcessions (id, entity_id, name) VALUES ($1, $2, $3) RETURNING created_at`,
		s.ID, s.EntityID, s.Name,
	).Scan(&s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: сегмент %s уже существует", ErrConflict, s.Name)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: кредитор %s", ErrNotFound, s.EntityID)
		}
		return fmt.Errorf("ошибка создания сегмента: %w", err)
	}
	return nil
}

func (r *catalogRepo) GetSubCession(ctx context.Context, id string) (*model.SubCession, error) {
	s := &model.SubCession{}
	err := r.db.QueryRow(ctx,
		`SELECT id, entity_id, name, created_at FROM subcessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.EntityID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сегмента: %w", err)
	}
	return s, nil
}

func (r *catalogRepo) ListSubCessions(ctx context.Context, entityID string) ([]*model.SubCession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, entity_id, name, created_at FROM subcessions WHERE entity_id = $1 ORDER BY name`,
		entityID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сегментов: %w", err)
	}
	defer rows.Close()

	var result []*model.SubCession
	for rows.Next() {
		s := &model.SubCession{}
		if err := rows.Scan(&s.ID, &s.EntityID, &s.Name, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сегмента: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// --- Сотрудники ---

func (r *catalogRepo) UpsertEmployee(ctx context.Context, e *model.Employee) error {
	query := `
		INSERT INTO employees (username, full_name, role, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			role = EXCLUDED.role,
			active = EXCLUDED.active
		RETURNING created_at`

	if err := r.db.QueryRow(ctx, query, e.Username, e.FullName, e.Role, e.Active).Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("ошибка сохранения сотрудника: %w", err)
	}
	return nil
}

func (r *catalogRepo) GetEmployee(ctx context.Context, username string) (*model.Employee, error) {
	e := &model.Employee{}
	err := r.db.QueryRow(ctx,
		`SELECT username, full_name, role, active, created_at FROM employees WHERE username = $1`,
		username,
	).Scan(&e.Username, &e.FullName, &e.Role, &e.Active, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сотрудника: %w", err)
	}
	return e, nil
}

func (r *catalogRepo) ListEmployees(ctx context.Context, activeOnly bool) ([]*model.Employee, error) {
	query := `SELECT username, full_name, role, active, created_at FROM employees`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY username`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сотрудников: %w", err)
	}
	defer rows.Close()

	var result []*model.Employee
	for rows.Next() {
		e := &model.Employee{}
		if err := rows.Scan(&e.Username, &e.FullName, &e.Role, &e.Active, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сотрудника: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
