package model

import "time"

// Gestion — строка журнала активности колл-центра.
type Gestion struct {
	ID         string
	OccurredAt time.Time
	Operator   string
	DebtorID   string
	EntityCode string
	Channel    string
	Result     string
	Contacted  bool
	CreatedAt  time.Time
}

// GestionSummary — агрегаты журнала активности за период.
type GestionSummary struct {
	Total       int                `json:"total"`
	Contacted   int                `json:"contactados"`
	ContactRate float64            `json:"tasaContacto"`
	ByResult    map[string]int     `json:"porResultado"`
	ByOperator  []OperatorActivity `json:"porOperador"`
}

// OperatorActivity — активность одного оператора.
type OperatorActivity struct {
	Operator  string `json:"operador"`
	Total     int    `json:"total"`
	Contacted int    `json:"contactados"`
}
