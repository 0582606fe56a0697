// gestiones.go — обработчики /api/v1/gestiones: пакетная загрузка
// журнала активности и сводка по нему.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/bigkaa/cobranzas/internal/api/errors"
	"github.com/bigkaa/cobranzas/internal/repository"
	"github.com/bigkaa/cobranzas/internal/service"
)

type gestionRow struct {
	OccurredAt time.Time `json:"fecha"`
	Operator   string    `json:"operador" validate:"max=128"`
	DebtorID   string    `json:"dni" validate:"max=32"`
	EntityCode string    `json:"entidad" validate:"max=64"`
	Channel    string    `json:"canal" validate:"max=32"`
	Result     string    `json:"resultado" validate:"max=64"`
	Contacted  bool      `json:"contactado"`
}

type gestionIngestRequest struct {
	Rows []gestionRow `json:"gestiones" validate:"dive"`
}

// IngestGestiones — POST /api/v1/gestiones.
// Доступ: роли с аналитикой или сервисный аккаунт со scope загрузки.
func (h *APIHandler) IngestGestiones(w http.ResponseWriter, r *http.Request) {
	actor, claims, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var req gestionIngestRequest
	if !h.decodeJSON(w, r, maxIngestBodyBytes, &req) {
		return
	}

	rows := make([]service.GestionInput, 0, len(req.Rows))
	for _, g := range req.Rows {
		rows = append(rows, service.GestionInput{
			OccurredAt: g.OccurredAt,
			Operator:   g.Operator,
			DebtorID:   g.DebtorID,
			EntityCode: g.EntityCode,
			Channel:    g.Channel,
			Result:     g.Result,
			Contacted:  g.Contacted,
		})
	}

	n, err := h.gestions.Ingest(r.Context(), actor, claims.CanIngest, rows)
	if err != nil {
		h.handleServiceError(w, r, err, "загрузка журнала")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"insertados": n})
}

// GestionesSummary — GET /api/v1/gestiones/summary.
func (h *APIHandler) GestionesSummary(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	q := &queryParams{r: r}
	filters := repository.GestionFilters{
		From:       q.Date("desde"),
		To:         q.Date("hasta"),
		Operator:   q.Text("operador"),
		EntityCode: q.Text("entidad"),
		Channel:    q.Text("canal"),
	}
	if q.err != nil {
		apierrors.ValidationError(w, q.err.Error())
		return
	}

	summary, err := h.gestions.Summary(r.Context(), actor, filters)
	if err != nil {
		h.handleServiceError(w, r, err, "сводка журнала")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
