package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/repository"
)

// mockGestionRepo — мок GestionRepository.
type mockGestionRepo struct {
	bulkInsertFn func(ctx context.Context, rows []*model.Gestion) (int64, error)
	summaryFn    func(ctx context.Context, filters repository.GestionFilters) (*model.GestionSummary, error)
	summaryCalls int
}

func (m *mockGestionRepo) BulkInsert(ctx context.Context, rows []*model.Gestion) (int64, error) {
	if m.bulkInsertFn != nil {
		return m.bulkInsertFn(ctx, rows)
	}
	return int64(len(rows)), nil
}

func (m *mockGestionRepo) Summary(ctx context.Context, filters repository.GestionFilters) (*model.GestionSummary, error) {
	m.summaryCalls++
	if m.summaryFn != nil {
		return m.summaryFn(ctx, filters)
	}
	return &model.GestionSummary{Total: 10, Contacted: 4, ContactRate: 0.4}, nil
}

// fakeClock — управляемые часы для кэша.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestSummaryCache(t *testing.T, clock *fakeClock) *SummaryCache {
	t.Helper()
	cache, err := NewSummaryCache(16, 45*time.Second, clock.Now)
	if err != nil {
		t.Fatalf("NewSummaryCache: %v", err)
	}
	return cache
}

func strPtr(s string) *string { return &s }

// TestSummaryCache_TTL — запись живёт ttl и вытесняется при чтении после истечения.
func TestSummaryCache_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)}
	cache := newTestSummaryCache(t, clock)

	cache.Set("k", &model.GestionSummary{Total: 1})

	clock.now = clock.now.Add(44 * time.Second)
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("запись должна быть в кэше до истечения TTL")
	}

	clock.now = clock.now.Add(2 * time.Second)
	if _, ok := cache.Get("k"); ok {
		t.Error("запись не должна возвращаться после истечения TTL")
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, просроченная запись должна удаляться при чтении", cache.Len())
	}
}

// TestSummaryCache_KeyCaseInsensitive — ключ не зависит от регистра значений фильтра.
func TestSummaryCache_KeyCaseInsensitive(t *testing.T) {
	cache := newTestSummaryCache(t, &fakeClock{now: time.Now()})
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	k1, err := cache.Key(repository.GestionFilters{From: &from, Operator: strPtr("JPerez")})
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	k2, _ := cache.Key(repository.GestionFilters{From: &from, Operator: strPtr("jperez")})
	k3, _ := cache.Key(repository.GestionFilters{From: &from, Operator: strPtr("mgomez")})
	k4, _ := cache.Key(repository.GestionFilters{From: &from, Channel: strPtr("jperez")})

	if k1 != k2 {
		t.Errorf("ключи различаются только регистром: %q != %q", k1, k2)
	}
	if k1 == k3 || k1 == k4 {
		t.Error("разные фильтры дали одинаковый ключ")
	}
}

// TestGestionService_Summary_Cached — повторный запрос обслуживается из кэша.
func TestGestionService_Summary_Cached(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)}
	repo := &mockGestionRepo{}
	svc := NewGestionService(repo, newTestSummaryCache(t, clock), time.Second, slog.Default())
	ctx := context.Background()

	f := repository.GestionFilters{EntityCode: strPtr("BANCO")}
	for i := 0; i < 3; i++ {
		s, err := svc.Summary(ctx, auditor, f)
		if err != nil {
			t.Fatalf("Summary ошибка: %v", err)
		}
		if s.Total != 10 {
			t.Errorf("Total = %d, хотели 10", s.Total)
		}
	}
	if repo.summaryCalls != 1 {
		t.Errorf("обращений к БД = %d, хотели 1", repo.summaryCalls)
	}

	if _, err := svc.Summary(ctx, auditor, repository.GestionFilters{EntityCode: strPtr("banco")}); err != nil {
		t.Fatalf("Summary ошибка: %v", err)
	}
	if repo.summaryCalls != 1 {
		t.Errorf("фильтр в другом регистре: обращений к БД = %d, хотели 1", repo.summaryCalls)
	}

	clock.now = clock.now.Add(time.Minute)
	if _, err := svc.Summary(ctx, auditor, f); err != nil {
		t.Fatalf("Summary ошибка: %v", err)
	}
	if repo.summaryCalls != 2 {
		t.Errorf("после TTL обращений к БД = %d, хотели 2", repo.summaryCalls)
	}
}

// TestGestionService_Summary_Errors — права, диапазон дат и бюджет времени.
func TestGestionService_Summary_Errors(t *testing.T) {
	from := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	repo := &mockGestionRepo{
		summaryFn: func(ctx context.Context, _ repository.GestionFilters) (*model.GestionSummary, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("ожидался контекст с дедлайном")
			}
			return nil, context.Canceled
		},
	}
	svc := NewGestionService(repo, nil, time.Second, slog.Default())
	ctx := context.Background()

	if _, err := svc.Summary(ctx, operador, repository.GestionFilters{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("оператор: ошибка = %v, ожидался ErrForbidden", err)
	}
	if _, err := svc.Summary(ctx, auditor, repository.GestionFilters{From: &from, To: &to}); !errors.Is(err, ErrValidation) {
		t.Errorf("диапазон: ошибка = %v, ожидался ErrValidation", err)
	}
	if _, err := svc.Summary(ctx, auditor, repository.GestionFilters{}); !errors.Is(err, ErrClientAborted) {
		t.Errorf("отмена: ошибка = %v, ожидался ErrClientAborted", err)
	}
}

// TestGestionService_Ingest проверяет валидацию и загрузку пакета.
func TestGestionService_Ingest(t *testing.T) {
	at := time.Date(2024, 1, 9, 10, 30, 0, 0, testLoc)
	valid := GestionInput{OccurredAt: at, Operator: " op1 ", DebtorID: "30111222", EntityCode: "BANCO", Channel: "tel", Result: "PROMESA", Contacted: true}

	tests := []struct {
		name   string
		actor  Actor
		ingest bool
		rows   []GestionInput
		want   error
	}{
		{"аудитор", auditor, false, []GestionInput{valid}, nil},
		{"сервисный аккаунт", Actor{UserID: "svc-dialer"}, true, []GestionInput{valid, valid}, nil},
		{"оператор", operador, false, []GestionInput{valid}, ErrForbidden},
		{"пустой пакет", auditor, false, nil, ErrEmptyOrOversized},
		{"слишком большой пакет", auditor, false, make([]GestionInput, MaxGestionBatch+1), ErrEmptyOrOversized},
		{"без даты", auditor, false, []GestionInput{{Operator: "op1", Result: "X"}}, ErrValidation},
		{"без оператора", auditor, false, []GestionInput{{OccurredAt: at, Result: "X"}}, ErrValidation},
		{"без результата", auditor, false, []GestionInput{{OccurredAt: at, Operator: "op1"}}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inserted []*model.Gestion
			repo := &mockGestionRepo{bulkInsertFn: func(_ context.Context, rows []*model.Gestion) (int64, error) {
				inserted = rows
				return int64(len(rows)), nil
			}}
			svc := NewGestionService(repo, nil, 0, slog.Default())

			n, err := svc.Ingest(context.Background(), tt.actor, tt.ingest, tt.rows)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("ошибка = %v, хотели %v", err, tt.want)
				}
				if inserted != nil {
					t.Error("некорректный пакет не должен загружаться")
				}
				return
			}
			if err != nil {
				t.Fatalf("Ingest ошибка: %v", err)
			}
			if n != int64(len(tt.rows)) {
				t.Errorf("n = %d, хотели %d", n, len(tt.rows))
			}
			g := inserted[0]
			if g.Operator != "op1" || g.ID == "" || g.OccurredAt.Location() != time.UTC {
				t.Errorf("строка = %+v", g)
			}
		})
	}
}

// TestGestionService_Ingest_PurgesCache — после загрузки сводка считается заново.
func TestGestionService_Ingest_PurgesCache(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	repo := &mockGestionRepo{}
	svc := NewGestionService(repo, newTestSummaryCache(t, clock), 0, slog.Default())
	ctx := context.Background()

	if _, err := svc.Summary(ctx, auditor, repository.GestionFilters{}); err != nil {
		t.Fatal(err)
	}
	rows := []GestionInput{{OccurredAt: clock.now, Operator: "op1", Result: "NC"}}
	if _, err := svc.Ingest(ctx, auditor, false, rows); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Summary(ctx, auditor, repository.GestionFilters{}); err != nil {
		t.Fatal(err)
	}
	if repo.summaryCalls != 2 {
		t.Errorf("обращений к БД = %d, хотели 2", repo.summaryCalls)
	}
}
