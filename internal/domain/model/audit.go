package model

import "time"

// AuditItem — одно проаудированное взаимодействие.
// Хранится в audits.items (jsonb).
type AuditItem struct {
	Phone           string             `json:"telefono"`
	DebtorID        string             `json:"dni"`
	Portfolio       string             `json:"cartera"`
	InteractionType string             `json:"tipoInteraccion"`
	DurationSeconds int                `json:"duracionSegundos"`
	Reference       string             `json:"referencia"`
	FailedIDs       []int              `json:"failedIds"`
	CategoryScores  map[string]float64 `json:"puntajesCategoria"`
	Score           float64            `json:"puntaje"`
}

// Audit — аудит качества звонков одного оператора.
type Audit struct {
	// ID — UUID записи
	ID string
	// OperatorID — username проаудированного оператора
	OperatorID string
	// AuditorID — username аудитора (владелец записи)
	AuditorID string
	// AuditDate — дата аудита
	AuditDate time.Time
	// Items — 1..5 взаимодействий
	Items []AuditItem
	// Positives, Negatives, Notes — свободные заметки аудитора
	Positives string
	Negatives string
	Notes     string
	// Score — среднее итоговых оценок элементов
	Score float64
	// CategoryScores — средние оценки по категориям
	CategoryScores map[string]float64
	// Classification — bajo / medio / alto
	Classification string
	// Deleted — мягкое удаление
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
