// audits.go — сервис аудитов качества звонков.
// Оценки считаются движком scoring при каждом создании и изменении,
// в хранилище попадают уже вычисленные значения.
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
	"github.com/ttacon/libphonenumber"

	"github.com/bigkaa/cobranzas/internal/domain/lifecycle"
	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/rbac"
	"github.com/bigkaa/cobranzas/internal/domain/scoring"
	"github.com/bigkaa/cobranzas/internal/repository"
)

var auditsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cb_audits_created_total",
	Help: "Количество созданных аудитов по классификации.",
}, []string{"classification"})

// AuditInput — данные аудита от аудитора.
type AuditInput struct {
	OperatorID string
	// AuditDate — YYYY-MM-DD или RFC 3339; пусто — сегодня
	AuditDate string
	Items     []scoring.ItemInput
	Positives string
	Negatives string
	Notes     string
}

// AuditListParams — параметры списка аудитов.
type AuditListParams struct {
	Filters repository.AuditListFilters
	Limit   int
	Offset  int
}

// AuditListResult — страница списка аудитов.
type AuditListResult struct {
	Items []*model.Audit
	Total int
}

// AuditService — сервис аудитов.
type AuditService struct {
	repo        repository.AuditRepository
	catalog     CatalogReader
	cal         lifecycle.Calendar
	phoneRegion string
	logger      *slog.Logger
}

// NewAuditService создаёт сервис аудитов.
// phoneRegion — регион по умолчанию для разбора телефонов (ISO 3166-1, например "AR").
func NewAuditService(
	repo repository.AuditRepository,
	catalog CatalogReader,
	cal lifecycle.Calendar,
	phoneRegion string,
	logger *slog.Logger,
) *AuditService {
	return &AuditService{
		repo:        repo,
		catalog:     catalog,
		cal:         cal,
		phoneRegion: phoneRegion,
		logger:      logger.With(slog.String("component", "audit_service")),
	}
}

// Criteria возвращает справочник критериев для формы аудита.
func (s *AuditService) Criteria() []scoring.Criterion {
	return scoring.Catalog()
}

// Create оценивает и сохраняет аудит. Аудитор — вызывающий сотрудник.
func (s *AuditService) Create(ctx context.Context, actor Actor, in AuditInput) (*model.Audit, error) {
	if !rbac.CanAudit(actor.Role) {
		return nil, fmt.Errorf("%w: роль %s не может проводить аудит", ErrForbidden, actor.Role)
	}

	a := &model.Audit{
		ID:        uuid.New().String(),
		AuditorID: actor.UserID,
	}
	if err := s.fill(ctx, a, in); err != nil {
		return nil, err
	}
	if err := checkAborted(ctx); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, mapCommonErr(err, "аудит")
	}
	s.localize(a)

	auditsCreatedTotal.WithLabelValues(a.Classification).Inc()
	s.logger.Info("Аудит создан",
		slog.String("audit_id", a.ID),
		slog.String("operator", a.OperatorID),
		slog.String("auditor", a.AuditorID),
		slog.Float64("score", a.Score),
		slog.String("classification", a.Classification),
	)
	return a, nil
}

// Update заменяет элементы и заметки аудита с пересчётом оценок.
func (s *AuditService) Update(ctx context.Context, actor Actor, id string, in AuditInput) (*model.Audit, error) {
	a, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.fill(ctx, a, in); err != nil {
		return nil, err
	}
	if err := checkAborted(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, mapCommonErr(err, "аудит")
	}
	s.localize(a)
	return a, nil
}

// Get возвращает аудит.
func (s *AuditService) Get(ctx context.Context, actor Actor, id string) (*model.Audit, error) {
	if !rbac.CanAudit(actor.Role) {
		return nil, ErrForbidden
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapCommonErr(err, "аудит")
	}
	s.localize(a)
	return a, nil
}

// List возвращает страницу аудитов.
func (s *AuditService) List(ctx context.Context, actor Actor, params AuditListParams) (*AuditListResult, error) {
	if !rbac.CanAudit(actor.Role) {
		return nil, ErrForbidden
	}
	items, err := s.repo.List(ctx, params.Filters, params.Limit, params.Offset)
	if err != nil {
		return nil, mapCommonErr(err, "аудиты")
	}
	if err := checkAborted(ctx); err != nil {
		return nil, err
	}
	total, err := s.repo.Count(ctx, params.Filters)
	if err != nil {
		return nil, mapCommonErr(err, "аудиты")
	}
	for _, a := range items {
		s.localize(a)
	}
	return &AuditListResult{Items: items, Total: total}, nil
}

// Delete мягко удаляет аудит.
func (s *AuditService) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return mapCommonErr(err, "аудит")
	}
	s.logger.Info("Аудит удалён",
		slog.String("audit_id", id),
		slog.String("actor", actor.UserID),
	)
	return nil
}

// loadOwned загружает аудит, который actor вправе менять.
func (s *AuditService) loadOwned(ctx context.Context, actor Actor, id string) (*model.Audit, error) {
	if !rbac.CanAudit(actor.Role) {
		return nil, ErrForbidden
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapCommonErr(err, "аудит")
	}
	if !rbac.CanMutate(actor.UserID, actor.Role, a.AuditorID) {
		return nil, fmt.Errorf("%w: аудит создан другим аудитором", ErrForbidden)
	}
	return a, nil
}

// fill валидирует вход, оценивает элементы и заполняет аудит.
func (s *AuditService) fill(ctx context.Context, a *model.Audit, in AuditInput) error {
	operator := strings.TrimSpace(in.OperatorID)
	if operator == "" {
		return validationf("поле operador обязательно")
	}

	date := s.cal.Today()
	if v := strings.TrimSpace(in.AuditDate); v != "" {
		d, err := s.parseDate(v)
		if err != nil {
			return err
		}
		date = d
	}

	items := make([]scoring.ItemInput, len(in.Items))
	for i, it := range in.Items {
		if it.InteractionType != "" && !it.InteractionType.Valid() {
			return validationf("item %d: tipo de interacción %q desconocido", i+1, it.InteractionType)
		}
		it.Phone = s.normalizePhone(it.Phone)
		items[i] = it
	}

	res, err := scoring.ScoreItems(items)
	if err != nil {
		var sizeErr *scoring.SizeError
		if errors.As(err, &sizeErr) {
			return fmt.Errorf("%w: %s", ErrEmptyOrOversized, sizeErr.Error())
		}
		return validationf("%s", err.Error())
	}

	if _, err := s.catalog.GetEmployee(ctx, operator); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return validationf("operador %s no existe", operator)
		}
		return mapCommonErr(err, "сотрудник")
	}

	a.OperatorID = operator
	a.AuditDate = date
	a.Positives = strings.TrimSpace(in.Positives)
	a.Negatives = strings.TrimSpace(in.Negatives)
	a.Notes = strings.TrimSpace(in.Notes)
	a.Score = res.Total
	a.Classification = res.Classification
	a.CategoryScores = categoryMap(res.Categories)
	a.Items = make([]model.AuditItem, 0, len(res.Items))
	for _, it := range res.Items {
		a.Items = append(a.Items, model.AuditItem{
			Phone:           it.Phone,
			DebtorID:        strings.TrimSpace(it.DebtorID),
			Portfolio:       strings.TrimSpace(it.Portfolio),
			InteractionType: string(it.InteractionType),
			DurationSeconds: it.DurationSeconds,
			Reference:       strings.TrimSpace(it.Reference),
			FailedIDs:       it.FailedIDs,
			CategoryScores:  categoryMap(it.Scores.Categories),
			Score:           it.Scores.Total,
		})
	}
	return nil
}

// normalizePhone приводит номер к E.164, если он разбирается и валиден
// для региона по умолчанию. Иначе возвращается исходная строка без пробелов по краям.
func (s *AuditService) normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || s.phoneRegion == "" {
		return raw
	}
	num, err := libphonenumber.Parse(raw, s.phoneRegion)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

func (s *AuditService) parseDate(v string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, v, s.cal.Loc); err == nil {
		return s.cal.Day(t), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return s.cal.Day(t), nil
	}
	return time.Time{}, validationf("fecha: некорректная дата %q", v)
}

func (s *AuditService) localize(a *model.Audit) {
	a.AuditDate = s.cal.FromDate(a.AuditDate)
}

func categoryMap(in map[scoring.Category]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
