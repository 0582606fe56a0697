// notes.go — заметки сотрудника /api/v1/notes. Видны только владельцу.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/cobranzas/internal/domain/model"
)

type noteRequest struct {
	Text  string `json:"texto" validate:"required"`
	Color string `json:"color"`
}

type noteResponse struct {
	ID        string `json:"id"`
	Text      string `json:"texto"`
	Color     string `json:"color"`
	CreatedAt string `json:"creado"`
	UpdatedAt string `json:"actualizado"`
}

// CreateNote — POST /api/v1/notes.
func (h *APIHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	n, err := h.notes.Create(r.Context(), actor, req.Text, req.Color)
	if err != nil {
		h.handleServiceError(w, r, err, "создание заметки")
		return
	}
	writeJSON(w, http.StatusCreated, mapNote(n))
}

// ListNotes — GET /api/v1/notes.
func (h *APIHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	items, err := h.notes.ListMine(r.Context(), actor)
	if err != nil {
		h.handleServiceError(w, r, err, "список заметок")
		return
	}
	resp := make([]noteResponse, 0, len(items))
	for _, n := range items {
		resp = append(resp, mapNote(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": resp})
}

// UpdateNote — PUT /api/v1/notes/{id}.
func (h *APIHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !h.decodeJSON(w, r, maxBodyBytes, &req) {
		return
	}
	n, err := h.notes.Update(r.Context(), actor, chi.URLParam(r, "id"), req.Text, req.Color)
	if err != nil {
		h.handleServiceError(w, r, err, "изменение заметки")
		return
	}
	writeJSON(w, http.StatusOK, mapNote(n))
}

// DeleteNote — DELETE /api/v1/notes/{id}.
func (h *APIHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	if err := h.notes.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err, "удаление заметки")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapNote(n *model.Note) noteResponse {
	return noteResponse{
		ID:        n.ID,
		Text:      n.Text,
		Color:     n.Color,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: n.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
