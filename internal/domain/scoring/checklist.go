package scoring

import (
	"fmt"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// ChecklistKind — форма, в которой клиент прислал результат чек-листа.
type ChecklistKind int

const (
	// KindFailSafe — форма не распознана: все критерии считаются проваленными.
	KindFailSafe ChecklistKind = iota
	// KindFailedIDs — явный список проваленных критериев.
	KindFailedIDs
	// KindPassedIDs — явный список пройденных критериев.
	KindPassedIDs
	// KindBoolMap — карта id → пройден/не пройден.
	KindBoolMap
)

// String возвращает имя формы для логов.
func (k ChecklistKind) String() string {
	switch k {
	case KindFailedIDs:
		return "failed_ids"
	case KindPassedIDs:
		return "passed_ids"
	case KindBoolMap:
		return "bool_map"
	default:
		return "fail_safe"
	}
}

// Checklist — размеченное объединение трёх эквивалентных форм
// результата чек-листа плюс явный вариант fail-safe.
type Checklist struct {
	Kind   ChecklistKind
	Failed []int
	Passed []int
	Checks map[int]bool
}

// FailedIDs создаёт чек-лист из списка проваленных критериев.
func FailedIDs(ids ...int) Checklist {
	return Checklist{Kind: KindFailedIDs, Failed: ids}
}

// PassedIDs создаёт чек-лист из списка пройденных критериев.
func PassedIDs(ids ...int) Checklist {
	return Checklist{Kind: KindPassedIDs, Passed: ids}
}

// BoolMap создаёт чек-лист из карты id → пройден.
func BoolMap(checks map[int]bool) Checklist {
	return Checklist{Kind: KindBoolMap, Checks: checks}
}

// FailSafe — чек-лист, в котором провалены все критерии.
func FailSafe() Checklist {
	return Checklist{Kind: KindFailSafe}
}

// checklistWire — представление чек-листа в JSON.
// null и отсутствие поля равнозначны.
type checklistWire struct {
	FailedIDs json.RawMessage `json:"failedIds"`
	OkIDs     json.RawMessage `json:"okIds"`
	Checks    json.RawMessage `json:"checks"`
}

// present — поле присутствует и не равно null.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// DecodeChecklist выбирает форму по единственному дискриминатору:
// failedIds, затем okIds, затем checks. Если ни одного поля нет — FailSafe.
func DecodeChecklist(data []byte) (Checklist, error) {
	var w checklistWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Checklist{}, err
	}

	switch {
	case present(w.FailedIDs):
		var ids []int
		if err := json.Unmarshal(w.FailedIDs, &ids); err != nil {
			return Checklist{}, fmt.Errorf("failedIds: %w", err)
		}
		return FailedIDs(ids...), nil
	case present(w.OkIDs):
		var ids []int
		if err := json.Unmarshal(w.OkIDs, &ids); err != nil {
			return Checklist{}, fmt.Errorf("okIds: %w", err)
		}
		return PassedIDs(ids...), nil
	case present(w.Checks):
		var raw map[string]bool
		if err := json.Unmarshal(w.Checks, &raw); err != nil {
			return Checklist{}, fmt.Errorf("checks: %w", err)
		}
		checks := make(map[int]bool, len(raw))
		for k, v := range raw {
			id, err := strconv.Atoi(k)
			if err != nil {
				// нечисловой ключ не относится ни к одному критерию
				continue
			}
			checks[id] = v
		}
		return BoolMap(checks), nil
	default:
		return FailSafe(), nil
	}
}

// UnmarshalJSON реализует json.Unmarshaler.
func (c *Checklist) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeChecklist(data)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// NormalizeFailures приводит чек-лист к отсортированному списку
// уникальных id проваленных критериев. Неизвестные id отбрасываются.
func NormalizeFailures(c Checklist) []int {
	failed := make(map[int]struct{})

	switch c.Kind {
	case KindFailedIDs:
		for _, id := range c.Failed {
			failed[id] = struct{}{}
		}
	case KindPassedIDs:
		passed := make(map[int]struct{}, len(c.Passed))
		for _, id := range c.Passed {
			passed[id] = struct{}{}
		}
		for _, id := range allIDsSlice {
			if _, ok := passed[id]; !ok {
				failed[id] = struct{}{}
			}
		}
	case KindBoolMap:
		for _, id := range allIDsSlice {
			if !c.Checks[id] {
				failed[id] = struct{}{}
			}
		}
	default:
		for _, id := range allIDsSlice {
			failed[id] = struct{}{}
		}
	}

	out := make([]int, 0, len(failed))
	for id := range failed {
		if _, known := byID[id]; known {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
