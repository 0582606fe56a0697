// audits.go — обработчики /api/v1/audits.
// Оценки рассчитываются сервисом; клиент присылает только чек-листы.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	apierrors "github.com/bigkaa/cobranzas/internal/api/errors"
	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/scoring"
	"github.com/bigkaa/cobranzas/internal/repository"
	"github.com/bigkaa/cobranzas/internal/service"
)

// auditItemRequest — элемент аудита. Результат чек-листа передаётся
// в том же объекте одним из ключей failedIds, okIds или checks.
type auditItemRequest struct {
	Phone           string  `json:"telefono" validate:"max=32"`
	DebtorID        string  `json:"dni" validate:"max=32"`
	Portfolio       string  `json:"cartera" validate:"max=64"`
	InteractionType string  `json:"tipoInteraccion"`
	DurationSeconds float64 `json:"duracionSegundos"`
	Reference       string  `json:"referencia" validate:"max=500"`

	checklist scoring.Checklist
}

// UnmarshalJSON разбирает поля элемента и его чек-лист.
func (it *auditItemRequest) UnmarshalJSON(data []byte) error {
	type plain auditItemRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	cl, err := scoring.DecodeChecklist(data)
	if err != nil {
		return err
	}
	*it = auditItemRequest(p)
	it.checklist = cl
	return nil
}

type auditRequest struct {
	OperatorID string             `json:"operador" validate:"required,max=128"`
	AuditDate  string             `json:"fecha"`
	Items      []auditItemRequest `json:"items" validate:"dive"`
	Positives  string             `json:"positivos" validate:"max=4000"`
	Negatives  string             `json:"negativos" validate:"max=4000"`
	Notes      string             `json:"notas" validate:"max=4000"`
}

type auditResponse struct {
	ID             string             `json:"id"`
	OperatorID     string             `json:"operador"`
	AuditorID      string             `json:"auditor"`
	AuditDate      string             `json:"fecha"`
	Items          []model.AuditItem  `json:"items"`
	Positives      string             `json:"positivos"`
	Negatives      string             `json:"negativos"`
	Notes          string             `json:"notas"`
	Score          float64            `json:"puntaje"`
	CategoryScores map[string]float64 `json:"puntajesCategoria"`
	Classification string             `json:"clasificacion"`
	CreatedAt      string             `json:"creado"`
	UpdatedAt      string             `json:"actualizado"`
}

type auditListResponse struct {
	Items  []auditResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// GetAuditCriteria — GET /api/v1/audits/criteria. Справочник 24 критериев.
func (h *APIHandler) GetAuditCriteria(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"criterios": h.audits.Criteria(),
	})
}

// CreateAudit — POST /api/v1/audits.
func (h *APIHandler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req auditRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	a, err := h.audits.Create(r.Context(), actor, req.toInput())
	if err != nil {
		h.handleServiceError(w, r, err, "создание аудита")
		return
	}
	writeJSON(w, http.StatusCreated, mapAudit(a))
}

// ListAudits — GET /api/v1/audits.
func (h *APIHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	q := &queryParams{r: r}
	filters := repository.AuditListFilters{
		OperatorID:     q.Text("operador"),
		AuditorID:      q.Text("auditor"),
		Classification: q.Text("clasificacion"),
		From:           q.Date("desde"),
		To:             q.Date("hasta"),
	}
	limit, offset := paginationDefaults(q.Int("limit"), q.Int("offset"))
	if q.err != nil {
		apierrors.ValidationError(w, q.err.Error())
		return
	}

	res, err := h.audits.List(r.Context(), actor, service.AuditListParams{
		Filters: filters,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "список аудитов")
		return
	}
	items := make([]auditResponse, 0, len(res.Items))
	for _, a := range res.Items {
		items = append(items, mapAudit(a))
	}
	writeJSON(w, http.StatusOK, auditListResponse{Items: items, Total: res.Total, Limit: limit, Offset: offset})
}

// GetAudit — GET /api/v1/audits/{id}.
func (h *APIHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	a, err := h.audits.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "получение аудита")
		return
	}
	writeJSON(w, http.StatusOK, mapAudit(a))
}

// UpdateAudit — PUT /api/v1/audits/{id}. Полная замена элементов.
func (h *APIHandler) UpdateAudit(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req auditRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	a, err := h.audits.Update(r.Context(), actor, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.handleServiceError(w, r, err, "изменение аудита")
		return
	}
	writeJSON(w, http.StatusOK, mapAudit(a))
}

// DeleteAudit — DELETE /api/v1/audits/{id}. Мягкое удаление.
func (h *APIHandler) DeleteAudit(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.audits.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err, "удаление аудита")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req *auditRequest) toInput() service.AuditInput {
	items := make([]scoring.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, scoring.ItemInput{
			Phone:           it.Phone,
			DebtorID:        it.DebtorID,
			Portfolio:       it.Portfolio,
			InteractionType: scoring.InteractionType(it.InteractionType),
			DurationSeconds: it.DurationSeconds,
			Reference:       it.Reference,
			Checklist:       it.checklist,
		})
	}
	return service.AuditInput{
		OperatorID: req.OperatorID,
		AuditDate:  req.AuditDate,
		Items:      items,
		Positives:  req.Positives,
		Negatives:  req.Negatives,
		Notes:      req.Notes,
	}
}

func mapAudit(a *model.Audit) auditResponse {
	items := a.Items
	if items == nil {
		items = []model.AuditItem{}
	}
	return auditResponse{
		ID:             a.ID,
		OperatorID:     a.OperatorID,
		AuditorID:      a.AuditorID,
		AuditDate:      a.AuditDate.Format(time.DateOnly),
		Items:          items,
		Positives:      a.Positives,
		Negatives:      a.Negatives,
		Notes:          a.Notes,
		Score:          a.Score,
		CategoryScores: a.CategoryScores,
		Classification: a.Classification,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
