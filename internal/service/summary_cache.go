// summary_cache.go — кэш сводки gestiones с TTL.
// Обёртка над hashicorp/golang-lru/v2; срок жизни записи проверяется
// при чтении по внедрённым часам, просроченная запись удаляется там же.
package service

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/text/cases"

	"github.com/bigkaa/cobranzas/internal/domain/model"
	"github.com/bigkaa/cobranzas/internal/repository"
)

// Prometheus-метрики кэша.
var (
	summaryCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cb_summary_cache_hits_total",
		Help: "Общее количество попаданий в кэш сводки gestiones.",
	})
	summaryCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cb_summary_cache_misses_total",
		Help: "Общее количество промахов кэша сводки gestiones.",
	})
)

type summaryEntry struct {
	summary   *model.GestionSummary
	expiresAt time.Time
}

// SummaryCache — LRU-кэш сводок, ключ — фильтр без учёта регистра.
// Каждый экземпляр сервиса имеет собственный in-memory кэш.
type SummaryCache struct {
	cache *lru.Cache[string, summaryEntry]
	ttl   time.Duration
	now   func() time.Time

	// cases.Caser хранит состояние и не безопасен для конкурентного использования
	foldMu sync.Mutex
	fold   cases.Caser
}

// NewSummaryCache создаёт кэш. maxSize — максимум записей, ttl — время жизни,
// now — источник времени (nil — time.Now).
func NewSummaryCache(maxSize int, ttl time.Duration, now func() time.Time) (*SummaryCache, error) {
	cache, err := lru.New[string, summaryEntry](maxSize)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &SummaryCache{cache: cache, ttl: ttl, now: now, fold: cases.Fold()}, nil
}

// Key сериализует фильтр в ключ кэша. Фильтры, отличающиеся только
// регистром строк, дают одинаковый ключ.
func (c *SummaryCache) Key(filters repository.GestionFilters) (string, error) {
	raw, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	c.foldMu.Lock()
	defer c.foldMu.Unlock()
	return c.fold.String(string(raw)), nil
}

// Get возвращает сводку при hit. Просроченная запись удаляется.
func (c *SummaryCache) Get(key string) (*model.GestionSummary, bool) {
	e, ok := c.cache.Get(key)
	if ok && c.now().Before(e.expiresAt) {
		summaryCacheHitsTotal.Inc()
		return e.summary, true
	}
	if ok {
		c.cache.Remove(key)
	}
	summaryCacheMissesTotal.Inc()
	return nil, false
}

// Set сохраняет сводку на ttl.
func (c *SummaryCache) Set(key string, summary *model.GestionSummary) {
	c.cache.Add(key, summaryEntry{summary: summary, expiresAt: c.now().Add(c.ttl)})
}

// Len — количество записей, включая ещё не вытесненные просроченные.
func (c *SummaryCache) Len() int {
	return c.cache.Len()
}

// Purge очищает кэш.
func (c *SummaryCache) Purge() {
	c.cache.Purge()
}
