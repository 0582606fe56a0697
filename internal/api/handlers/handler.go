// handler.go — основной обработчик API /api/v1.
// Разбирает запрос, вызывает сервисный слой и сериализует ответ.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	apierrors "github.com/bigkaa/cobranzas/internal/api/errors"
	"github.com/bigkaa/cobranzas/internal/api/middleware"
	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/scoring"
	"github.com/bigkaa/cobranzas/internal/repository"
	"github.com/bigkaa/cobranzas/internal/service"
)

// maxBodyBytes — предел тела запроса; для пакетов журнала — maxIngestBodyBytes.
const (
	maxBodyBytes       = 1 << 20
	maxIngestBodyBytes = 16 << 20
)

// PromiseService — операции над обещаниями оплаты.
type PromiseService interface {
	Create(ctx context.Context, actor service.Actor, in service.PromiseInput) (*service.CreatePromiseResult, error)
	Update(ctx context.Context, actor service.Actor, id string, patch service.PromisePatch) (*service.PromiseView, error)
	ClearObservation(ctx context.Context, actor service.Actor, id string) (*service.PromiseView, error)
	Get(ctx context.Context, actor service.Actor, id string) (*service.PromiseView, error)
	List(ctx context.Context, actor service.Actor, params service.PromiseListParams) (*service.PromiseListResult, error)
	RecordPayment(ctx context.Context, actor service.Actor, id, date string, amount decimal.Decimal) (*service.PromiseView, error)
	MarkPaymentErroneous(ctx context.Context, actor service.Actor, id, paymentID string, erroneous bool, reason string) (*service.PromiseView, error)
	ClearPayments(ctx context.Context, actor service.Actor, id string) (*service.PromiseView, int, error)
	Recompute(ctx context.Context, id string) (*service.PromiseView, bool, error)
	Close(ctx context.Context, actor service.Actor, id string) (*service.PromiseView, error)
}

// AuditService — аудиты качества звонков.
type AuditService interface {
	Criteria() []scoring.Criterion
	Create(ctx context.Context, actor service.Actor, in service.AuditInput) (*model.Audit, error)
	Update(ctx context.Context, actor service.Actor, id string, in service.AuditInput) (*model.Audit, error)
	Get(ctx context.Context, actor service.Actor, id string) (*model.Audit, error)
	List(ctx context.Context, actor service.Actor, params service.AuditListParams) (*service.AuditListResult, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
}

// GestionService — журнал активности колл-центра.
type GestionService interface {
	Ingest(ctx context.Context, actor service.Actor, ingest bool, rows []service.GestionInput) (int64, error)
	Summary(ctx context.Context, actor service.Actor, filters repository.GestionFilters) (*model.GestionSummary, error)
}

// CatalogService — справочники.
type CatalogService interface {
	CreateEntity(ctx context.Context, actor service.Actor, code, name string) (*model.Entity, error)
	ListEntities(ctx context.Context) ([]*model.Entity, error)
	CreateSubCession(ctx context.Context, actor service.Actor, entityID, name string) (*model.SubCession, error)
	ListSubCessions(ctx context.Context, entityID string) ([]*model.SubCession, error)
	UpsertEmployee(ctx context.Context, actor service.Actor, e model.Employee) (*model.Employee, error)
	GetEmployee(ctx context.Context, username string) (*model.Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool) ([]*model.Employee, error)
}

// NoteService — заметки сотрудника.
type NoteService interface {
	Create(ctx context.Context, actor service.Actor, text, color string) (*model.Note, error)
	ListMine(ctx context.Context, actor service.Actor) ([]*model.Note, error)
	Update(ctx context.Context, actor service.Actor, id, text, color string) (*model.Note, error)
	Delete(ctx context.Context, actor service.Actor, id string) error
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	health   *HealthHandler
	promises PromiseService
	audits   AuditService
	gestions GestionService
	catalogs CatalogService
	notes    NoteService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	promises PromiseService,
	audits AuditService,
	gestions GestionService,
	catalogs CatalogService,
	notes NoteService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		promises: promises,
		audits:   audits,
		gestions: gestions,
		catalogs: catalogs,
		notes:    notes,
		validate: newValidator(),
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// newValidator создаёт валидатор, сообщающий имена полей по json-тегам.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса не длиннее limit байт и проверяет
// struct-теги validate. false — ответ с ошибкой уже записан.
func (h *APIHandler) decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			apierrors.EmptyOrOversized(w, fmt.Sprintf("Тело запроса больше %d байт", maxErr.Limit))
		case errors.Is(err, io.EOF):
			apierrors.ValidationError(w, "Пустое тело запроса")
		default:
			apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		}
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, validationMessage(err))
		return false
	}
	return true
}

// validationMessage собирает сообщение из ошибок validator.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return "Ошибка валидации: " + strings.Join(parts, "; ")
}

// handleServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Порядок важен: ErrDuplicate оборачивает ErrConflict,
// ErrEmptyOrOversized — ErrValidation.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, service.ErrClientAborted), errors.Is(err, context.Canceled):
		apierrors.ClientAborted(w, "Запрос отменён клиентом")
	case errors.Is(err, service.ErrDuplicate):
		apierrors.Duplicate(w, err.Error())
	case errors.Is(err, service.ErrForbiddenClosed):
		apierrors.ForbiddenClosed(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrEmptyOrOversized):
		apierrors.EmptyOrOversized(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Ошибка обработки запроса",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка: "+op)
	}
}

// actorFromRequest строит Actor из claims. false — ответ 401 уже записан.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (service.Actor, *middleware.AuthClaims, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims")
		return service.Actor{}, nil, false
	}
	return service.Actor{UserID: claims.UserID(), Role: claims.Role}, claims, true
}

// paginationDefaults нормализует параметры пагинации.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// --- Разбор query-параметров ---

// queryParams — накопитель ошибок разбора query-строки.
type queryParams struct {
	r   *http.Request
	err error
}

func (q *queryParams) Text(name string) *string {
	v := strings.TrimSpace(q.r.URL.Query().Get(name))
	if v == "" {
		return nil
	}
	return &v
}

func (q *queryParams) Int(name string) *int {
	v := q.Text(name)
	if v == nil {
		return nil
	}
	n, err := strconv.Atoi(*v)
	if err != nil {
		q.fail(name, *v)
		return nil
	}
	return &n
}

func (q *queryParams) Bool(name string) *bool {
	v := q.Text(name)
	if v == nil {
		return nil
	}
	b, err := strconv.ParseBool(*v)
	if err != nil {
		q.fail(name, *v)
		return nil
	}
	return &b
}

// Date принимает YYYY-MM-DD (полночь UTC, как DATE в БД) или RFC 3339.
func (q *queryParams) Date(name string) *time.Time {
	v := q.Text(name)
	if v == nil {
		return nil
	}
	if t, err := time.Parse(time.DateOnly, *v); err == nil {
		return &t
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		q.fail(name, *v)
		return nil
	}
	return &t
}

func (q *queryParams) fail(name, value string) {
	if q.err == nil {
		q.err = fmt.Errorf("некорректный параметр %s=%q", name, value)
	}
}
