// Пакет model — доменные модели сервиса cobranzas.
package model

import "time"

// Entity — кредитор (entidad), чьи долги взыскиваются.
type Entity struct {
	ID        string
	Code      string
	Name      string
	CreatedAt time.Time
}

// SubCession — сегмент портфеля кредитора (sub-cesión).
type SubCession struct {
	ID        string
	EntityID  string
	Name      string
	CreatedAt time.Time
}

// Employee — сотрудник (оператор, аудитор, администратор).
type Employee struct {
	Username  string
	FullName  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// Note — стикер-заметка сотрудника.
type Note struct {
	ID        string
	OwnerID   string
	Text      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
