package scoring

import (
	"fmt"
	"math"
	"strings"
)

// Traffic-light классификация итоговой оценки.
const (
	LevelBajo  = "bajo"
	LevelMedio = "medio"
	LevelAlto  = "alto"
)

// Пороги классификации: [0, 6.5) — bajo, [6.5, 7.5) — medio, [7.5, 10] — alto.
const (
	thresholdMedio = 6.5
	thresholdAlto  = 7.5
)

// Ограничения на элементы аудита.
const (
	// MaxItems — максимальное количество взаимодействий в одном аудите.
	MaxItems = 5
	// MaxDurationSeconds — верхняя граница длительности (8 часов).
	MaxDurationSeconds = 28800
)

// InteractionType — тип проаудированного взаимодействия.
type InteractionType string

const (
	LlamadaEntrante InteractionType = "LLAMADA_ENTRANTE"
	LlamadaSaliente InteractionType = "LLAMADA_SALIENTE"
	MensajeEntrante InteractionType = "MENSAJE_ENTRANTE"
	MensajeSaliente InteractionType = "MENSAJE_SALIENTE"
	EmailEntrante   InteractionType = "EMAIL_ENTRANTE"
	EmailSaliente   InteractionType = "EMAIL_SALIENTE"
)

// IsCall — взаимодействие является звонком (любого направления).
func (t InteractionType) IsCall() bool {
	return strings.HasPrefix(string(t), "LLAMADA")
}

// Valid проверяет, что тип входит в допустимый набор.
func (t InteractionType) Valid() bool {
	switch t {
	case LlamadaEntrante, LlamadaSaliente, MensajeEntrante, MensajeSaliente, EmailEntrante, EmailSaliente:
		return true
	default:
		return false
	}
}

// Scores — оценки по категориям и итоговая оценка.
type Scores struct {
	Categories map[Category]float64 `json:"categorias"`
	Total      float64              `json:"total"`
}

// Round6 округляет до 6 знаков после запятой.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ComputeScores считает оценки по отсортированному списку проваленных id.
// Оценка категории = пройдено / всего * 10, итог = Σ(оценка/10 * вес) * 10.
func ComputeScores(failedIDs []int) Scores {
	failedPerCat := make(map[Category]int, len(Categories))
	for _, id := range failedIDs {
		if c, ok := byID[id]; ok {
			failedPerCat[c.Category]++
		}
	}

	res := Scores{Categories: make(map[Category]float64, len(Categories))}
	var weighted float64
	for _, cat := range Categories {
		total := totals[cat]
		if total == 0 {
			continue
		}
		passes := total - failedPerCat[cat]
		if passes < 0 {
			passes = 0
		}
		score := float64(passes) / float64(total) * 10
		res.Categories[cat] = score
		weighted += score / 10 * Weights[cat]
	}
	res.Total = Round6(weighted * 10)
	return res
}

// Classify относит итоговую оценку к уровню «светофора».
func Classify(score float64) string {
	switch {
	case score < thresholdMedio:
		return LevelBajo
	case score >= thresholdAlto:
		return LevelAlto
	default:
		return LevelMedio
	}
}

// ItemInput — необработанное взаимодействие из запроса.
type ItemInput struct {
	Phone           string
	DebtorID        string
	Portfolio       string
	InteractionType InteractionType
	DurationSeconds float64
	Reference       string
	Checklist       Checklist
}

// ScoredItem — взаимодействие после нормализации и подсчёта оценок.
type ScoredItem struct {
	Phone           string
	DebtorID        string
	Portfolio       string
	InteractionType InteractionType
	DurationSeconds int
	Reference       string
	FailedIDs       []int
	Scores          Scores
}

// Result — итог аудита: элементы и агрегированные оценки.
type Result struct {
	Items          []ScoredItem
	Total          float64
	Categories     map[Category]float64
	Classification string
}

// ItemError — ошибка валидации конкретного элемента (индекс с нуля).
type ItemError struct {
	Index   int
	Message string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index+1, e.Message)
}

// SizeError — пустой или слишком большой набор элементов.
type SizeError struct {
	Count int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("аудит должен содержать от 1 до %d взаимодействий, получено %d", MaxItems, e.Count)
}

// normalizeDuration ограничивает длительность диапазоном [0, 8ч] с округлением.
func normalizeDuration(sec float64) int {
	if math.IsNaN(sec) || sec < 0 {
		return 0
	}
	if sec > MaxDurationSeconds {
		return MaxDurationSeconds
	}
	return int(math.Round(sec))
}

// ScoreItems валидирует и оценивает 1..5 взаимодействий,
// затем усредняет оценки по аудиту.
func ScoreItems(items []ItemInput) (*Result, error) {
	if len(items) == 0 || len(items) > MaxItems {
		return nil, &SizeError{Count: len(items)}
	}

	res := &Result{
		Items:      make([]ScoredItem, 0, len(items)),
		Categories: make(map[Category]float64, len(Categories)),
	}

	var sumTotal float64
	sumCat := make(map[Category]float64, len(Categories))

	for i, in := range items {
		if strings.TrimSpace(in.Phone) == "" {
			return nil, &ItemError{Index: i, Message: "teléfono requerido"}
		}
		duration := normalizeDuration(in.DurationSeconds)
		if in.InteractionType.IsCall() && duration <= 0 {
			return nil, &ItemError{Index: i, Message: "la duración de una llamada debe ser mayor a 0 segundos"}
		}

		failed := NormalizeFailures(in.Checklist)
		scores := ComputeScores(failed)

		res.Items = append(res.Items, ScoredItem{
			Phone:           in.Phone,
			DebtorID:        in.DebtorID,
			Portfolio:       in.Portfolio,
			InteractionType: in.InteractionType,
			DurationSeconds: duration,
			Reference:       in.Reference,
			FailedIDs:       failed,
			Scores:          scores,
		})

		sumTotal += scores.Total
		for _, cat := range Categories {
			sumCat[cat] += scores.Categories[cat]
		}
	}

	n := float64(len(items))
	res.Total = Round6(sumTotal / n)
	for _, cat := range Categories {
		res.Categories[cat] = Round6(sumCat[cat] / n)
	}
	res.Classification = Classify(res.Total)
	return res, nil
}
