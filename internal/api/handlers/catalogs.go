// catalogs.go — справочники: кредиторы, сегменты портфеля, сотрудники.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cobranzas/internal/api/errors"
	"github.com/bigkaa/cobranzas/internal/domain/model"
)

type entityRequest struct {
	Code string `json:"codigo" validate:"required,max=64"`
	Name string `json:"nombre" validate:"required,max=255"`
}

type subCessionRequest struct {
	Name string `json:"nombre" validate:"required,max=255"`
}

type employeeRequest struct {
	Username string `json:"usuario" validate:"required,max=128"`
	FullName string `json:"nombre" validate:"required,max=255"`
	Role     string `json:"rol" validate:"required"`
	// Active — nil считается true
	Active *bool `json:"activo"`
}

type entityResponse struct {
	ID        string `json:"id"`
	Code      string `json:"codigo"`
	Name      string `json:"nombre"`
	CreatedAt string `json:"creado"`
}

type subCessionResponse struct {
	ID        string `json:"id"`
	EntityID  string `json:"entidadId"`
	Name      string `json:"nombre"`
	CreatedAt string `json:"creado"`
}

type employeeResponse struct {
	Username string `json:"usuario"`
	FullName string `json:"nombre"`
	Role     string `json:"rol"`
	Active   bool   `json:"activo"`
}

// CreateEntity — POST /api/v1/entities. Только admin и выше.
func (h *APIHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req entityRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	e, err := h.catalogs.CreateEntity(r.Context(), actor, req.Code, req.Name)
	if err != nil {
		h.handleServiceError(w, r, err, "создание кредитора")
		return
	}
	writeJSON(w, http.StatusCreated, mapEntity(e))
}

// ListEntities — GET /api/v1/entities.
func (h *APIHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalogs.ListEntities(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err, "список кредиторов")
		return
	}
	resp := make([]entityResponse, 0, len(items))
	for _, e := range items {
		resp = append(resp, mapEntity(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// CreateSubCession — POST /api/v1/entities/{id}/subcessions.
func (h *APIHandler) CreateSubCession(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req subCessionRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	s, err := h.catalogs.CreateSubCession(r.Context(), actor, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.handleServiceError(w, r, err, "создание сегмента")
		return
	}
	writeJSON(w, http.StatusCreated, mapSubCession(s))
}

// ListSubCessions — GET /api/v1/entities/{id}/subcessions.
func (h *APIHandler) ListSubCessions(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalogs.ListSubCessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err, "список сегментов")
		return
	}
	resp := make([]subCessionResponse, 0, len(items))
	for _, s := range items {
		resp = append(resp, mapSubCession(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// UpsertEmployee — POST /api/v1/employees. Создаёт или обновляет сотрудника.
func (h *APIHandler) UpsertEmployee(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req employeeRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	active := req.Active == nil || *req.Active
	e, err := h.catalogs.UpsertEmployee(r.Context(), actor, model.Employee{
		Username: req.Username,
		FullName: req.FullName,
		Role:     req.Role,
		Active:   active,
	})
	if err != nil {
		h.handleServiceError(w, r, err, "сохранение сотрудника")
		return
	}
	writeJSON(w, http.StatusOK, mapEmployee(e))
}

// ListEmployees — GET /api/v1/employees?activos=true.
func (h *APIHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	q := &queryParams{r: r}
	activeOnly := q.Bool("activos")
	if q.err != nil {
		apierrors.ValidationError(w, q.err.Error())
		return
	}
	items, err := h.catalogs.ListEmployees(r.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		h.handleServiceError(w, r, err, "список сотрудников")
		return
	}
	resp := make([]employeeResponse, 0, len(items))
	for _, e := range items {
		resp = append(resp, mapEmployee(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// GetEmployee — GET /api/v1/employees/{username}.
func (h *APIHandler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.catalogs.GetEmployee(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.handleServiceError(w, r, err, "получение сотрудника")
		return
	}
	writeJSON(w, http.StatusOK, mapEmployee(e))
}

func mapEntity(e *model.Entity) entityResponse {
	return entityResponse{ID: e.ID, Code: e.Code, Name: e.Name, CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339)}
}

func mapSubCession(s *model.SubCession) subCessionResponse {
	return subCessionResponse{ID: s.ID, EntityID: s.EntityID, Name: s.Name, CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339)}
}

func mapEmployee(e *model.Employee) employeeResponse {
	return employeeResponse{Username: e.Username, FullName: e.FullName, Role: e.Role, Active: e.Active}
}
