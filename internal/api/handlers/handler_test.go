package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/cobranzas/internal/api/middleware"
	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/scoring"
	"github.com/bigkaa/cobranzas/internal/repository"
	"github.com/bigkaa/cobranzas/internal/service"
)

var errNotImplemented = errors.New("не реализовано в тесте")

// --- Моки сервисов ---

type mockPromises struct {
	createFn  func(ctx context.Context, actor service.Actor, in service.PromiseInput) (*service.CreatePromiseResult, error)
	getFn     func(ctx context.Context, actor service.Actor, id string) (*service.PromiseView, error)
	listFn    func(ctx context.Context, actor service.Actor, params service.PromiseListParams) (*service.PromiseListResult, error)
	paymentFn func(ctx context.Context, actor service.Actor, id, date string, amount decimal.Decimal) (*service.PromiseView, error)
	recompFn  func(ctx context.Context, id string) (*service.PromiseView, bool, error)
}

func (m *mockPromises) Create(ctx context.Context, actor service.Actor, in service.PromiseInput) (*service.CreatePromiseResult, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return nil, errNotImplemented
}

func (m *mockPromises) Update(context.Context, service.Actor, string, service.PromisePatch) (*service.PromiseView, error) {
	return nil, errNotImplemented
}

func (m *mockPromises) ClearObservation(context.Context, service.Actor, string) (*service.PromiseView, error) {
	return nil, errNotImplemented
}

func (m *mockPromises) Get(ctx context.Context, actor service.Actor, id string) (*service.PromiseView, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actor, id)
	}
	return nil, errNotImplemented
}

func (m *mockPromises) List(ctx context.Context, actor service.Actor, params service.PromiseListParams) (*service.PromiseListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, params)
	}
	return nil, errNotImplemented
}

func (m *mockPromises) RecordPayment(ctx context.Context, actor service.Actor, id, date string, amount decimal.Decimal) (*service.PromiseView, error) {
	if m.paymentFn != nil {
		return m.paymentFn(ctx, actor, id, date, amount)
	}
	return nil, errNotImplemented
}

func (m *mockPromises) MarkPaymentErroneous(context.Context, service.Actor, string, string, bool, string) (*service.PromiseView, error) {
	return nil, errNotImplemented
}

func (m *mockPromises) ClearPayments(context.Context, service.Actor, string) (*service.PromiseView, int, error) {
	return nil, 0, errNotImplemented
}

func (m *mockPromises) Recompute(ctx context.Context, id string) (*service.PromiseView, bool, error) {
	if m.recompFn != nil {
		return m.recompFn(ctx, id)
	}
	return nil, false, errNotImplemented
}

func (m *mockPromises) Close(context.Context, service.Actor, string) (*service.PromiseView, error) {
	return nil, errNotImplemented
}

type mockAudits struct {
	createFn func(ctx context.Context, actor service.Actor, in service.AuditInput) (*model.Audit, error)
}

func (m *mockAudits) Criteria() []scoring.Criterion { return scoring.Catalog() }

func (m *mockAudits) Create(ctx context.Context, actor service.Actor, in service.AuditInput) (*model.Audit, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return nil, errNotImplemented
}

func (m *mockAudits) Update(context.Context, service.Actor, string, service.AuditInput) (*model.Audit, error) {
	return nil, errNotImplemented
}

func (m *mockAudits) Get(context.Context, service.Actor, string) (*model.Audit, error) {
	return nil, errNotImplemented
}

func (m *mockAudits) List(context.Context, service.Actor, service.AuditListParams) (*service.AuditListResult, error) {
	return nil, errNotImplemented
}

func (m *mockAudits) Delete(context.Context, service.Actor, string) error { return errNotImplemented }

type mockGestiones struct {
	ingestFn  func(ctx context.Context, actor service.Actor, ingest bool, rows []service.GestionInput) (int64, error)
	summaryFn func(ctx context.Context, actor service.Actor, filters repository.GestionFilters) (*model.GestionSummary, error)
}

func (m *mockGestiones) Ingest(ctx context.Context, actor service.Actor, ingest bool, rows []service.GestionInput) (int64, error) {
	if m.ingestFn != nil {
		return m.ingestFn(ctx, actor, ingest, rows)
	}
	return 0, errNotImplemented
}

func (m *mockGestiones) Summary(ctx context.Context, actor service.Actor, filters repository.GestionFilters) (*model.GestionSummary, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx, actor, filters)
	}
	return nil, errNotImplemented
}

// --- Хелперы ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(p PromiseService, a AuditService, g GestionService) *APIHandler {
	return NewAPIHandler(NewHealthHandler(nil, nil, nil), p, a, g, nil, nil, testLogger())
}

var operadorClaims = &middleware.AuthClaims{
	Subject:           "uuid-op1",
	SubjectType:       middleware.SubjectTypeUser,
	PreferredUsername: "op1",
	Role:              "operador",
}

// doRequest вызывает handler с claims в контексте и chi URL-параметрами.
func doRequest(h http.HandlerFunc, method, target, body string, claims *middleware.AuthClaims, params map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader = http.NoBody
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if claims != nil {
		ctx = middleware.WithClaims(ctx, claims)
	}

	rec := httptest.NewRecorder()
	h(rec, req.WithContext(ctx))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}

func samplePromise() *model.Promise {
	return &model.Promise{
		ID:           "3f2b8c9e-1d4a-4b6e-9f0a-2c3d4e5f6a7b",
		DebtorID:     "30111222",
		DebtorName:   "Juan Pérez",
		Amount:       decimal.RequireFromString("1500.5"),
		PaidAmount:   decimal.Zero,
		PromisedDate: time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
		NextFollowUp: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		State:        model.StateActive,
		OwnerID:      "op1",
		IsActive:     true,
	}
}

// --- Тесты ---

func TestHandleServiceError(t *testing.T) {
	h := newTestHandler(nil, nil, nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", fmt.Errorf("%w: x", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty", fmt.Errorf("%w: x", service.ErrEmptyOrOversized), http.StatusBadRequest, "EMPTY_OR_OVERSIZED"},
		{"not found", fmt.Errorf("%w: x", service.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"closed", service.ErrForbiddenClosed, http.StatusConflict, "FORBIDDEN_CLOSED"},
		{"conflict", service.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"duplicate", fmt.Errorf("%w: x", service.ErrDuplicate), http.StatusConflict, "DUPLICATE"},
		{"aborted", service.ErrClientAborted, 499, "CLIENT_ABORTED"},
		{"context canceled", context.Canceled, 499, "CLIENT_ABORTED"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/promises", http.NoBody)
			h.handleServiceError(rec, req, tt.err, "тест")

			if rec.Code != tt.wantStatus {
				t.Errorf("хотели статус %d, получили %d", tt.wantStatus, rec.Code)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("хотели код %s, получили %s", tt.wantCode, code)
			}
		})
	}
}

func TestCreatePromise(t *testing.T) {
	var got service.PromiseInput
	mock := &mockPromises{
		createFn: func(_ context.Context, actor service.Actor, in service.PromiseInput) (*service.CreatePromiseResult, error) {
			if actor.UserID != "op1" || actor.Role != "operador" {
				t.Errorf("неожиданный actor %+v", actor)
			}
			got = in
			return &service.CreatePromiseResult{
				Promise: service.PromiseView{Promise: samplePromise(), DisplayState: model.StateActive},
				Closed:  &service.ClosedPromise{ID: "prev", State: model.StateClosedUnfulfilled},
			}, nil
		},
	}
	h := newTestHandler(mock, nil, nil)

	body := `{"dni":"30111222","nombre":"Juan Pérez",
		"entidadId":"0b1c2d3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e","subCesionId":"1b1c2d3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e",
		"monto":1500.5,"estado":"Promesa activa","concepto":"cuota",
		"fechaPromesa":"2024-01-20","proximoSeguimiento":"2024-01-15"}`
	rec := doRequest(h.CreatePromise, http.MethodPost, "/api/v1/promises", body, operadorClaims, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался 201, получен %d: %s", rec.Code, rec.Body.String())
	}
	if !got.Amount.Equal(decimal.RequireFromString("1500.5")) {
		t.Errorf("хотели монто 1500.5, получили %s", got.Amount)
	}
	if got.PromisedDate != "2024-01-20" {
		t.Errorf("хотели fechaPromesa 2024-01-20, получили %s", got.PromisedDate)
	}

	var resp promiseCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Closed == nil || resp.Closed.State != string(model.StateClosedUnfulfilled) {
		t.Errorf("ожидались сведения о закрытом обещании, получено %+v", resp.Closed)
	}
	if resp.Promise.Amount != "1500.50" {
		t.Errorf("хотели монто 1500.50, получили %s", resp.Promise.Amount)
	}
	if resp.Promise.PromisedDate != "2024-01-20" {
		t.Errorf("хотели fechaPromesa 2024-01-20, получили %s", resp.Promise.PromisedDate)
	}
}

func TestCreatePromise_RequestValidation(t *testing.T) {
	h := newTestHandler(&mockPromises{}, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"пустое тело", ""},
		{"не JSON", "{"},
		{"нет полей", `{}`},
		{"entidadId не uuid", `{"dni":"1","nombre":"x","entidadId":"abc","subCesionId":"1b1c2d3e-4f5a-4b6c-8d7e-9f0a1b2c3d4e",
			"monto":1,"estado":"Pendiente","concepto":"c","fechaPromesa":"2024-01-20","proximoSeguimiento":"2024-01-15"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h.CreatePromise, http.MethodPost, "/api/v1/promises", tt.body, operadorClaims, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("ожидался 400, получен %d", rec.Code)
			}
			if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
				t.Errorf("хотели VALIDATION_ERROR, получили %s", code)
			}
		})
	}
}

func TestCreatePromise_NoClaims(t *testing.T) {
	h := newTestHandler(&mockPromises{}, nil, nil)
	rec := doRequest(h.CreatePromise, http.MethodPost, "/api/v1/promises", `{}`, nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался 401, получен %d", rec.Code)
	}
}

func TestListPromises_Params(t *testing.T) {
	var got service.PromiseListParams
	mock := &mockPromises{
		listFn: func(_ context.Context, _ service.Actor, params service.PromiseListParams) (*service.PromiseListResult, error) {
			got = params
			return &service.PromiseListResult{
				Items: []service.PromiseView{{Promise: samplePromise(), DisplayState: model.StateFallen}},
				Total: 1,
			}, nil
		},
	}
	h := newTestHandler(mock, nil, nil)

	rec := doRequest(h.ListPromises, http.MethodGet,
		"/api/v1/promises?mine=true&dni=30111222&activa=true&desde=2024-01-01&limit=5000&offset=-3", "", operadorClaims, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if !got.Mine {
		t.Error("ожидался mine=true")
	}
	if got.Filters.DebtorID == nil || *got.Filters.DebtorID != "30111222" {
		t.Errorf("неожиданный фильтр dni: %v", got.Filters.DebtorID)
	}
	if got.Filters.Active == nil || !*got.Filters.Active {
		t.Error("ожидался фильтр activa=true")
	}
	if got.Filters.PromisedFrom == nil || !got.Filters.PromisedFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("неожиданный фильтр desde: %v", got.Filters.PromisedFrom)
	}
	if got.Limit != 1000 || got.Offset != 0 {
		t.Errorf("хотели limit=1000 offset=0, получили %d/%d", got.Limit, got.Offset)
	}

	var resp promiseListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 1 || resp.Items[0].DisplayState != string(model.StateFallen) {
		t.Errorf("ожидалось estadoVisual %q, получено %+v", model.StateFallen, resp.Items)
	}
	if resp.Items[0].State != string(model.StateActive) {
		t.Errorf("хранимое estado должно остаться %q", model.StateActive)
	}
}

func TestListPromises_BadQuery(t *testing.T) {
	h := newTestHandler(&mockPromises{}, nil, nil)
	for _, q := range []string{"activa=quizas", "desde=ayer", "limit=diez"} {
		rec := doRequest(h.ListPromises, http.MethodGet, "/api/v1/promises?"+q, "", operadorClaims, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: ожидался 400, получен %d", q, rec.Code)
		}
	}
}

func TestRecordPayment_Duplicate(t *testing.T) {
	mock := &mockPromises{
		paymentFn: func(_ context.Context, _ service.Actor, id, date string, amount decimal.Decimal) (*service.PromiseView, error) {
			if id != "p1" || date != "2024-01-10" || !amount.Equal(decimal.NewFromInt(100)) {
				t.Errorf("неожиданные аргументы %s %s %s", id, date, amount)
			}
			return nil, fmt.Errorf("%w: платёж уже зарегистрирован", service.ErrDuplicate)
		},
	}
	h := newTestHandler(mock, nil, nil)

	rec := doRequest(h.RecordPayment, http.MethodPost, "/api/v1/promises/p1/payments",
		`{"fecha":"2024-01-10","monto":"100"}`, operadorClaims, map[string]string{"id": "p1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("ожидался 409, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "DUPLICATE" {
		t.Errorf("хотели DUPLICATE, получили %s", code)
	}
}

func TestRecomputePromise_ChecksVisibility(t *testing.T) {
	recomputed := false
	mock := &mockPromises{
		getFn: func(context.Context, service.Actor, string) (*service.PromiseView, error) {
			return nil, service.ErrForbidden
		},
		recompFn: func(context.Context, string) (*service.PromiseView, bool, error) {
			recomputed = true
			return nil, false, nil
		},
	}
	h := newTestHandler(mock, nil, nil)

	rec := doRequest(h.RecomputePromise, http.MethodPost, "/api/v1/promises/p1/recompute", "", operadorClaims, map[string]string{"id": "p1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("ожидался 403, получен %d", rec.Code)
	}
	if recomputed {
		t.Error("пересчёт не должен выполняться для чужого обещания")
	}
}

func TestCreateAudit_ChecklistShapes(t *testing.T) {
	var got service.AuditInput
	mock := &mockAudits{
		createFn: func(_ context.Context, _ service.Actor, in service.AuditInput) (*model.Audit, error) {
			got = in
			return &model.Audit{ID: "a1", OperatorID: in.OperatorID, Classification: "medio"}, nil
		},
	}
	h := newTestHandler(nil, mock, nil)
	vip := &middleware.AuthClaims{PreferredUsername: "aud1", SubjectType: middleware.SubjectTypeUser, Role: "operador-vip"}

	body := `{"operador":"op1","items":[
		{"telefono":"1","tipoInteraccion":"LLAMADA_SALIENTE","duracionSegundos":60,"failedIds":[3,1]},
		{"telefono":"2","tipoInteraccion":"EMAIL_SALIENTE","okIds":[1,2,3]},
		{"telefono":"3","tipoInteraccion":"MENSAJE_SALIENTE","checks":{"1":true,"2":false}},
		{"telefono":"4","tipoInteraccion":"MENSAJE_ENTRANTE"}
	]}`
	rec := doRequest(h.CreateAudit, http.MethodPost, "/api/v1/audits", body, vip, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался 201, получен %d: %s", rec.Code, rec.Body.String())
	}
	if len(got.Items) != 4 {
		t.Fatalf("ожидалось 4 элемента, получено %d", len(got.Items))
	}

	wantKinds := []scoring.ChecklistKind{scoring.KindFailedIDs, scoring.KindPassedIDs, scoring.KindBoolMap, scoring.KindFailSafe}
	for i, want := range wantKinds {
		if got.Items[i].Checklist.Kind != want {
			t.Errorf("item %d: хотели %v, получили %v", i+1, want, got.Items[i].Checklist.Kind)
		}
	}
	if got.Items[0].InteractionType != scoring.LlamadaSaliente || got.Items[0].DurationSeconds != 60 {
		t.Errorf("поля элемента потеряны: %+v", got.Items[0])
	}
}

func TestGetAuditCriteria(t *testing.T) {
	h := newTestHandler(nil, &mockAudits{}, nil)
	rec := doRequest(h.GetAuditCriteria, http.MethodGet, "/api/v1/audits/criteria", "", nil, nil)

	var resp struct {
		Criteria []scoring.Criterion `json:"criterios"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Criteria) != 24 {
		t.Errorf("ожидалось 24 критерия, получено %d", len(resp.Criteria))
	}
}

func TestIngestGestiones_PassesIngestScope(t *testing.T) {
	var gotIngest bool
	var gotRows []service.GestionInput
	mock := &mockGestiones{
		ingestFn: func(_ context.Context, _ service.Actor, ingest bool, rows []service.GestionInput) (int64, error) {
			gotIngest = ingest
			gotRows = rows
			return int64(len(rows)), nil
		},
	}
	h := newTestHandler(nil, nil, mock)
	sa := &middleware.AuthClaims{Subject: "sa", ClientID: "dialer", SubjectType: middleware.SubjectTypeSA, CanIngest: true}

	body := `{"gestiones":[{"fecha":"2024-01-10T12:00:00-03:00","operador":"op1","dni":"1","entidad":"E1","canal":"tel","resultado":"promesa","contactado":true}]}`
	rec := doRequest(h.IngestGestiones, http.MethodPost, "/api/v1/gestiones", body, sa, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался 201, получен %d: %s", rec.Code, rec.Body.String())
	}
	if !gotIngest {
		t.Error("ожидалась передача права загрузки")
	}
	if len(gotRows) != 1 || !gotRows[0].OccurredAt.Equal(time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("неожиданные строки %+v", gotRows)
	}
}

func TestGestionesSummary_Filters(t *testing.T) {
	var got repository.GestionFilters
	mock := &mockGestiones{
		summaryFn: func(_ context.Context, _ service.Actor, f repository.GestionFilters) (*model.GestionSummary, error) {
			got = f
			return &model.GestionSummary{Total: 3, Contacted: 1, ByResult: map[string]int{"promesa": 3}}, nil
		},
	}
	h := newTestHandler(nil, nil, mock)
	vip := &middleware.AuthClaims{PreferredUsername: "v", SubjectType: middleware.SubjectTypeUser, Role: "operador-vip"}

	rec := doRequest(h.GestionesSummary, http.MethodGet, "/api/v1/gestiones/summary?desde=2024-01-01&canal=WhatsApp", "", vip, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if got.From == nil || got.Channel == nil || *got.Channel != "WhatsApp" || got.To != nil {
		t.Errorf("неожиданные фильтры %+v", got)
	}
}

func TestPaginationDefaults(t *testing.T) {
	intPtr := func(v int) *int { return &v }
	tests := []struct {
		name              string
		limit, offset     *int
		wantLim, wantOffs int
	}{
		{"по умолчанию", nil, nil, 100, 0},
		{"ниже минимума", intPtr(0), intPtr(-1), 1, 0},
		{"выше максимума", intPtr(5000), intPtr(10), 1000, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, o := paginationDefaults(tt.limit, tt.offset)
			if l != tt.wantLim || o != tt.wantOffs {
				t.Errorf("хотели %d/%d, получили %d/%d", tt.wantLim, tt.wantOffs, l, o)
			}
		})
	}
}
