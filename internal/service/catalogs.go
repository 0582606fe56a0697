// catalogs.go — справочники: кредиторы, сегменты портфеля, сотрудники.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/rbac"
	"github.com/bigkaa/cobranzas/internal/repository"
)

// CatalogService — ведение справочников. Запись — только admin и выше.
type CatalogService struct {
	repo   repository.CatalogRepository
	logger *slog.Logger
}

// NewCatalogService создаёт сервис справочников.
func NewCatalogService(repo repository.CatalogRepository, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		repo:   repo,
		logger: logger.With(slog.String("component", "catalog_service")),
	}
}

// CreateEntity создаёт кредитора. Код приводится к верхнему регистру.
func (s *CatalogService) CreateEntity(ctx context.Context, actor Actor, code, name string) (*model.Entity, error) {
	if !actor.Elevated() {
		return nil, ErrForbidden
	}
	e := &model.Entity{
		ID:   uuid.New().String(),
		Code: strings.ToUpper(strings.TrimSpace(code)),
		Name: strings.TrimSpace(name),
	}
	if e.Code == "" || e.Name == "" {
		return nil, validationf("código y nombre son obligatorios")
	}
	if err := s.repo.CreateEntity(ctx, e); err != nil {
		return nil, mapCommonErr(err, "entidad "+e.Code)
	}
	s.logger.Info("Кредитор создан", slog.String("entity_id", e.ID), slog.String("code", e.Code))
	return e, nil
}

// GetEntity возвращает кредитора.
func (s *CatalogService) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	e, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return nil, mapCommonErr(err, "entidad")
	}
	return e, nil
}

// ListEntities возвращает всех кредиторов.
func (s *CatalogService) ListEntities(ctx context.Context) ([]*model.Entity, error) {
	items, err := s.repo.ListEntities(ctx)
	if err != nil {
		return nil, mapCommonErr(err, "entidades")
	}
	return items, nil
}

// CreateSubCession создаёт сегмент портфеля кредитора.
func (s *CatalogService) CreateSubCession(ctx context.Context, actor Actor, entityID, name string) (*model.SubCession, error) {
	if !actor.Elevated() {
		return nil, ErrForbidden
	}
	sub := &model.SubCession{
		ID:       uuid.New().String(),
		EntityID: entityID,
		Name:     strings.TrimSpace(name),
	}
	if sub.Name == "" {
		return nil, validationf("nombre es obligatorio")
	}
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	if err := s.repo.CreateSubCession(ctx, sub); err != nil {
		return nil, mapCommonErr(err, "subcesión "+sub.Name)
	}
	return sub, nil
}

// ListSubCessions возвращает сегменты кредитора.
func (s *CatalogService) ListSubCessions(ctx context.Context, entityID string) ([]*model.SubCession, error) {
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListSubCessions(ctx, entityID)
	if err != nil {
		return nil, mapCommonErr(err, "subcesiones")
	}
	return items, nil
}

// UpsertEmployee создаёт или обновляет сотрудника.
// Назначить роль выше собственной нельзя.
func (s *CatalogService) UpsertEmployee(ctx context.Context, actor Actor, e model.Employee) (*model.Employee, error) {
	if !actor.Elevated() {
		return nil, ErrForbidden
	}
	e.Username = strings.TrimSpace(e.Username)
	e.FullName = strings.TrimSpace(e.FullName)
	if e.Username == "" || e.FullName == "" {
		return nil, validationf("usuario y nombre son obligatorios")
	}
	if !rbac.IsValidRole(e.Role) {
		return nil, validationf("rol desconocido %q", e.Role)
	}
	if !rbac.AtLeast(actor.Role, e.Role) {
		return nil, fmt.Errorf("%w: роль %s выше роли %s", ErrForbidden, e.Role, actor.Role)
	}
	if err := s.repo.UpsertEmployee(ctx, &e); err != nil {
		return nil, mapCommonErr(err, "empleado")
	}
	s.logger.Info("Сотрудник сохранён",
		slog.String("username", e.Username),
		slog.String("role", e.Role),
		slog.Bool("active", e.Active),
		slog.String("actor", actor.UserID),
	)
	return &e, nil
}

// GetEmployee возвращает сотрудника.
func (s *CatalogService) GetEmployee(ctx context.Context, username string) (*model.Employee, error) {
	e, err := s.repo.GetEmployee(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: empleado %s", ErrNotFound, username)
		}
		return nil, mapCommonErr(err, "empleado")
	}
	return e, nil
}

// ListEmployees возвращает сотрудников; activeOnly — только активных.
func (s *CatalogService) ListEmployees(ctx context.Context, activeOnly bool) ([]*model.Employee, error) {
	items, err := s.repo.ListEmployees(ctx, activeOnly)
	if err != nil {
		return nil, mapCommonErr(err, "empleados")
	}
	return items, nil
}
