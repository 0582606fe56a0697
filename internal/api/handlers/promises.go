// promises.go — обработчики /api/v1/promises.
// Обещания оплаты: создание с закрытием предыдущего, платежи, пересчёт, закрытие.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apierrors "github.com/bigkaa/cobranzas/internal/api/errors"
	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/repository"
	"github.com/bigkaa/cobranzas/internal/service"
)

type promiseCreateRequest struct {
	DebtorID     string          `json:"dni" validate:"required,max=32"`
	DebtorName   string          `json:"nombre" validate:"required,max=200"`
	EntityID     string          `json:"entidadId" validate:"required,uuid"`
	SubCessionID string          `json:"subCesionId" validate:"required,uuid"`
	Amount       decimal.Decimal `json:"monto"`
	State        string          `json:"estado" validate:"required"`
	Concept      string          `json:"concepto" validate:"required,max=100"`
	PromisedDate string          `json:"fechaPromesa" validate:"required"`
	NextFollowUp string          `json:"proximoSeguimiento" validate:"required"`
	Observation  string          `json:"observacion" validate:"max=2000"`
}

type promiseUpdateRequest struct {
	DebtorID     *string          `json:"dni" validate:"omitempty,max=32"`
	DebtorName   *string          `json:"nombre" validate:"omitempty,max=200"`
	EntityID     *string          `json:"entidadId" validate:"omitempty,uuid"`
	SubCessionID *string          `json:"subCesionId" validate:"omitempty,uuid"`
	Amount       *decimal.Decimal `json:"monto"`
	State        *string          `json:"estado"`
	Concept      *string          `json:"concepto" validate:"omitempty,max=100"`
	PromisedDate *string          `json:"fechaPromesa"`
	NextFollowUp *string          `json:"proximoSeguimiento"`
	Observation  *string          `json:"observacion" validate:"omitempty,max=2000"`
}

type paymentRequest struct {
	Date   string          `json:"fecha" validate:"required"`
	Amount decimal.Decimal `json:"monto"`
}

type paymentFlagRequest struct {
	Erroneous bool   `json:"erroneo"`
	Reason    string `json:"motivo" validate:"max=500"`
}

type paymentResponse struct {
	ID              string  `json:"id"`
	Date            string  `json:"fecha"`
	Amount          string  `json:"monto"`
	RecordedBy      string  `json:"registradoPor"`
	Erroneous       bool    `json:"erroneo"`
	ErroneousReason *string `json:"motivoErroneo,omitempty"`
	MarkedBy        *string `json:"marcadoPor,omitempty"`
	MarkedAt        *string `json:"marcadoEn,omitempty"`
	CreatedAt       string  `json:"creado"`
}

type promiseResponse struct {
	ID            string            `json:"id"`
	DebtorID      string            `json:"dni"`
	DebtorName    string            `json:"nombre"`
	EntityID      string            `json:"entidadId"`
	SubCessionID  string            `json:"subCesionId"`
	Amount        string            `json:"monto"`
	PromisedDate  string            `json:"fechaPromesa"`
	NextFollowUp  string            `json:"proximoSeguimiento"`
	PromisedMonth int               `json:"mesPromesa"`
	PromisedYear  int               `json:"anioPromesa"`
	Concept       string            `json:"concepto"`
	Observation   string            `json:"observacion"`
	Payments      []paymentResponse `json:"pagos"`
	PaidAmount    string            `json:"montoPagado"`
	State         string            `json:"estado"`
	DisplayState  string            `json:"estadoVisual"`
	OwnerID       string            `json:"propietario"`
	IsActive      bool              `json:"activa"`
	LogicalKey    string            `json:"claveLogica"`
	ClosedAt      *string           `json:"cerradaEn,omitempty"`
	ClosedBy      *string           `json:"cerradaPor,omitempty"`
	CreatedAt     string            `json:"creado"`
	UpdatedAt     string            `json:"actualizado"`
}

type closedPromiseResponse struct {
	ID    string `json:"id"`
	State string `json:"estado"`
}

type promiseCreateResponse struct {
	Promise promiseResponse        `json:"promesa"`
	Closed  *closedPromiseResponse `json:"cerrada,omitempty"`
}

type promiseListResponse struct {
	Items  []promiseResponse `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// CreatePromise — POST /api/v1/promises.
// Активное обещание с тем же ключом закрывается до создания нового.
func (h *APIHandler) CreatePromise(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req promiseCreateRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}

	res, err := h.promises.Create(r.Context(), actor, service.PromiseInput{
		DebtorID:     req.DebtorID,
		DebtorName:   req.DebtorName,
		EntityID:     req.EntityID,
		SubCessionID: req.SubCessionID,
		Amount:       req.Amount,
		State:        req.State,
		Concept:      req.Concept,
		PromisedDate: req.PromisedDate,
		NextFollowUp: req.NextFollowUp,
		Observation:  req.Observation,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "создание обещания")
		return
	}

	resp := promiseCreateResponse{Promise: mapPromise(res.Promise)}
	if res.Closed != nil {
		resp.Closed = &closedPromiseResponse{ID: res.Closed.ID, State: string(res.Closed.State)}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListPromises — GET /api/v1/promises.
// Рядовые роли и запросы с mine=true видят только свои обещания.
func (h *APIHandler) ListPromises(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	q := &queryParams{r: r}
	filters := repository.PromiseListFilters{
		OwnerID:      q.Text("propietario"),
		DebtorID:     q.Text("dni"),
		EntityID:     q.Text("entidadId"),
		SubCessionID: q.Text("subCesionId"),
		State:        q.Text("estado"),
		Active:       q.Bool("activa"),
		PromisedFrom: q.Date("desde"),
		PromisedTo:   q.Date("hasta"),
	}
	mine := q.Bool("mine")
	limit, offset := paginationDefaults(q.Int("limit"), q.Int("offset"))
	if q.err != nil {
		apierrors.ValidationError(w, q.err.Error())
		return
	}

	res, err := h.promises.List(r.Context(), actor, service.PromiseListParams{
		Filters: filters,
		Mine:    mine != nil && *mine,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "список обещаний")
		return
	}

	items := make([]promiseResponse, 0, len(res.Items))
	for _, v := range res.Items {
		items = append(items, mapPromise(v))
	}
	writeJSON(w, http.StatusOK, promiseListResponse{
		Items:  items,
		Total:  res.Total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetPromise — GET /api/v1/promises/{id}.
func (h *APIHandler) GetPromise(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	v, err := h.promises.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "получение обещания")
		return
	}
	writeJSON(w, http.StatusOK, mapPromise(*v))
}

// UpdatePromise — PUT /api/v1/promises/{id}. Частичное изменение полей.
func (h *APIHandler) UpdatePromise(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req promiseUpdateRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}

	v, err := h.promises.Update(r.Context(), actor, chi.URLParam(r, "id"), service.PromisePatch{
		DebtorID:     req.DebtorID,
		DebtorName:   req.DebtorName,
		EntityID:     req.EntityID,
		SubCessionID: req.SubCessionID,
		Amount:       req.Amount,
		State:        req.State,
		Concept:      req.Concept,
		PromisedDate: req.PromisedDate,
		NextFollowUp: req.NextFollowUp,
		Observation:  req.Observation,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "изменение обещания")
		return
	}
	writeJSON(w, http.StatusOK, mapPromise(*v))
}

// ClearPromiseObservation — DELETE /api/v1/promises/{id}/observation.
func (h *APIHandler) ClearPromiseObservation(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	v, err := h.promises.ClearObservation(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "очистка комментария")
		return
	}
	writeJSON(w, http.StatusOK, mapPromise(*v))
}

// RecordPayment — POST /api/v1/promises/{id}/payments.
func (h *APIHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	v, err := h.promises.RecordPayment(r.Context(), actor, chi.URLParam(r, "id"), req.Date, req.Amount)
	if err != nil {
		h.handleServiceError(w, r, err, "регистрация платежа")
		return
	}
	writeJSON(w, http.StatusCreated, mapPromise(*v))
}

// MarkPayment — PATCH /api/v1/promises/{id}/payments/{paymentId}.
// Устанавливает или снимает флаг ошибочного платежа.
func (h *APIHandler) MarkPayment(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req paymentFlagRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	v, err := h.promises.MarkPaymentErroneous(r.Context(), actor,
		chi.URLParam(r, "id"), chi.URLParam(r, "paymentId"), req.Erroneous, req.Reason)
	if err != nil {
		h.handleServiceError(w, r, err, "отметка платежа")
		return
	}
	writeJSON(w, http.StatusOK, mapPromise(*v))
}

// ClearPayments — DELETE /api/v1/promises/{id}/payments.
func (h *APIHandler) ClearPayments(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	v, removed, err := h.promises.ClearPayments(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "удаление платежей")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"promesa":    mapPromise(*v),
		"eliminados": removed,
	})
}

// RecomputePromise — POST /api/v1/promises/{id}/recompute.
func (h *APIHandler) RecomputePromise(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	// Видимость проверяется так же, как для чтения.
	if _, err := h.promises.Get(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err, "пересчёт обещания")
		return
	}
	v, changed, err := h.promises.Recompute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "пересчёт обещания")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"promesa":  mapPromise(*v),
		"cambiado": changed,
	})
}

// ClosePromise — POST /api/v1/promises/{id}/close.
func (h *APIHandler) ClosePromise(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	v, err := h.promises.Close(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "закрытие обещания")
		return
	}
	writeJSON(w, http.StatusOK, mapPromise(*v))
}

// mapPromise конвертирует представление обещания в API-ответ.
func mapPromise(v service.PromiseView) promiseResponse {
	p := v.Promise
	resp := promiseResponse{
		ID:            p.ID,
		DebtorID:      p.DebtorID,
		DebtorName:    p.DebtorName,
		EntityID:      p.EntityID,
		SubCessionID:  p.SubCessionID,
		Amount:        p.Amount.StringFixed(2),
		PromisedDate:  p.PromisedDate.Format(time.DateOnly),
		NextFollowUp:  p.NextFollowUp.Format(time.DateOnly),
		PromisedMonth: p.PromisedMonth,
		PromisedYear:  p.PromisedYear,
		Concept:       p.Concept,
		Observation:   p.Observation,
		Payments:      make([]paymentResponse, 0, len(p.Payments)),
		PaidAmount:    p.PaidAmount.StringFixed(2),
		State:         string(p.State),
		DisplayState:  string(v.DisplayState),
		OwnerID:       p.OwnerID,
		IsActive:      p.IsActive,
		LogicalKey:    p.LogicalKey,
		ClosedAt:      formatTimePtr(p.ClosedAt),
		ClosedBy:      p.ClosedBy,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for i := range p.Payments {
		resp.Payments = append(resp.Payments, mapPayment(&p.Payments[i]))
	}
	return resp
}

func mapPayment(pay *model.Payment) paymentResponse {
	return paymentResponse{
		ID:              pay.ID,
		Date:            pay.Date.Format(time.DateOnly),
		Amount:          pay.Amount.StringFixed(2),
		RecordedBy:      pay.RecordedBy,
		Erroneous:       pay.Erroneous,
		ErroneousReason: pay.ErroneousReason,
		MarkedBy:        pay.MarkedBy,
		MarkedAt:        formatTimePtr(pay.MarkedAt),
		CreatedAt:       pay.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
