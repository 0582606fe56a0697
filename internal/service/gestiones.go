// gestiones.go — журнал активности колл-центра и его сводка.
// Строки поступают пакетами от внешней системы и загружаются через COPY.
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

	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/domain/rbac"
	"github.com/bigkaa/cobranzas/internal/repository"
)

// MaxGestionBatch — максимальный размер пакета загрузки.
const MaxGestionBatch = 5000

var gestionesIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cb_gestiones_ingested_total",
	Help: "Количество загруженных строк журнала активности.",
})

// GestionInput — строка журнала во входном пакете.
type GestionInput struct {
	OccurredAt time.Time
	Operator   string
	DebtorID   string
	EntityCode string
	Channel    string
	Result     string
	Contacted  bool
}

// GestionService — загрузка и сводка журнала активности.
type GestionService struct {
	repo         repository.GestionRepository
	cache        *SummaryCache
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewGestionService создаёт сервис. cache может быть nil — сводка не кэшируется.
// queryTimeout — мягкий бюджет времени на запрос сводки (0 — без ограничения).
func NewGestionService(
	repo repository.GestionRepository,
	cache *SummaryCache,
	queryTimeout time.Duration,
	logger *slog.Logger,
) *GestionService {
	return &GestionService{
		repo:         repo,
		cache:        cache,
		queryTimeout: queryTimeout,
		logger:       logger.With(slog.String("component", "gestion_service")),
	}
}

// Ingest валидирует и загружает пакет строк. Загрузка разрешена
// ролям с доступом к аналитике и сервисным аккаунтам (ingest=true).
func (s *GestionService) Ingest(ctx context.Context, actor Actor, ingest bool, rows []GestionInput) (int64, error) {
	if !ingest && !rbac.CanAudit(actor.Role) {
		return 0, ErrForbidden
	}
	if len(rows) == 0 || len(rows) > MaxGestionBatch {
		return 0, fmt.Errorf("%w: пакет должен содержать от 1 до %d строк, получено %d",
			ErrEmptyOrOversized, MaxGestionBatch, len(rows))
	}

	batch := make([]*model.Gestion, 0, len(rows))
	for i, r := range rows {
		g := &model.Gestion{
			ID:         uuid.New().String(),
			OccurredAt: r.OccurredAt.UTC(),
			Operator:   strings.TrimSpace(r.Operator),
			DebtorID:   strings.TrimSpace(r.DebtorID),
			EntityCode: strings.TrimSpace(r.EntityCode),
			Channel:    strings.TrimSpace(r.Channel),
			Result:     strings.TrimSpace(r.Result),
			Contacted:  r.Contacted,
		}
		switch {
		case r.OccurredAt.IsZero():
			return 0, validationf("fila %d: fecha requerida", i+1)
		case g.Operator == "":
			return 0, validationf("fila %d: operador requerido", i+1)
		case g.Result == "":
			return 0, validationf("fila %d: resultado requerido", i+1)
		}
		batch = append(batch, g)
	}

	if err := checkAborted(ctx); err != nil {
		return 0, err
	}
	n, err := s.repo.BulkInsert(ctx, batch)
	if err != nil {
		return 0, mapCommonErr(err, "gestiones")
	}

	gestionesIngestedTotal.Add(float64(n))
	if s.cache != nil {
		s.cache.Purge()
	}
	s.logger.Info("Журнал активности загружен",
		slog.String("actor", actor.UserID),
		slog.Int64("rows", n),
	)
	return n, nil
}

// Summary возвращает сводку по фильтрам, используя кэш.
func (s *GestionService) Summary(ctx context.Context, actor Actor, filters repository.GestionFilters) (*model.GestionSummary, error) {
	if !rbac.CanAudit(actor.Role) {
		return nil, ErrForbidden
	}
	if filters.From != nil && filters.To != nil && !filters.From.Before(*filters.To) {
		return nil, validationf("desde debe ser anterior a hasta")
	}

	var key string
	if s.cache != nil {
		k, err := s.cache.Key(filters)
		if err != nil {
			return nil, fmt.Errorf("ошибка построения ключа кэша: %w", err)
		}
		key = k
		if summary, ok := s.cache.Get(key); ok {
			return summary, nil
		}
	}

	qctx := ctx
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	summary, err := s.repo.Summary(qctx, filters)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.logger.Warn("Сводка gestiones превысила бюджет времени",
				slog.Duration("timeout", s.queryTimeout),
			)
		}
		return nil, mapCommonErr(err, "gestiones")
	}

	if s.cache != nil {
		s.cache.Set(key, summary)
	}
	return summary, nil
}
