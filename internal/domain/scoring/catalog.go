// Пакет scoring — движок оценки аудитов звонков.
//
// Чек-лист из 24 критериев разбит на четыре взвешенные категории.
// По набору проваленных критериев считаются оценки категорий (0..10),
// взвешенная итоговая оценка и «светофор» (bajo / medio / alto).
// Пакет не зависит от хранилища — только чистые функции.
package scoring

import "sort"

// Category — категория критериев аудита.
type Category string

const (
	// CategoryApertura — приветствие и идентификация.
	CategoryApertura Category = "apertura"
	// CategoryNegociacion — ведение переговоров о долге.
	CategoryNegociacion Category = "negociacion"
	// CategoryCumplimiento — соблюдение нормативов.
	CategoryCumplimiento Category = "cumplimiento"
	// CategoryHabilidades — коммуникативные навыки.
	CategoryHabilidades Category = "habilidades"
)

// Categories — категории в порядке отображения.
var Categories = []Category{
	CategoryApertura,
	CategoryNegociacion,
	CategoryCumplimiento,
	CategoryHabilidades,
}

// Weights — веса категорий в итоговой оценке (сумма = 1.0).
var Weights = map[Category]float64{
	CategoryApertura:     0.10,
	CategoryNegociacion:  0.40,
	CategoryCumplimiento: 0.30,
	CategoryHabilidades:  0.20,
}

// Criterion — элемент справочника критериев.
type Criterion struct {
	ID       int      `json:"id"`
	Category Category `json:"categoria"`
	Label    string   `json:"label"`
}

// catalog — неизменяемый справочник критериев.
var catalog = []Criterion{
	{1, CategoryApertura, "Saluda y se presenta con nombre y empresa"},
	{2, CategoryApertura, "Valida la identidad del titular"},
	{3, CategoryApertura, "Informa el motivo del contacto"},

	{4, CategoryNegociacion, "Informa el monto adeudado correctamente"},
	{5, CategoryNegociacion, "Indaga el motivo del atraso"},
	{6, CategoryNegociacion, "Ofrece alternativas de pago vigentes"},
	{7, CategoryNegociacion, "Rebate objeciones con argumentos"},
	{8, CategoryNegociacion, "Obtiene fecha y monto concretos de pago"},
	{9, CategoryNegociacion, "Confirma medio de pago"},
	{10, CategoryNegociacion, "Resume el acuerdo alcanzado"},

	{11, CategoryCumplimiento, "No utiliza amenazas ni intimidación"},
	{12, CategoryCumplimiento, "No divulga la deuda a terceros"},
	{13, CategoryCumplimiento, "Respeta horario permitido de contacto"},
	{14, CategoryCumplimiento, "Informa entidad acreedora y cesión"},
	{15, CategoryCumplimiento, "Registra la gestión en el sistema"},
	{16, CategoryCumplimiento, "Cumple guion legal obligatorio"},

	{17, CategoryHabilidades, "Tono de voz cordial"},
	{18, CategoryHabilidades, "Escucha activa sin interrumpir"},
	{19, CategoryHabilidades, "Lenguaje claro y sin muletillas"},
	{20, CategoryHabilidades, "Empatía con la situación del deudor"},
	{21, CategoryHabilidades, "Manejo de silencios y esperas"},
	{22, CategoryHabilidades, "Control de la conversación"},
	{23, CategoryHabilidades, "Seguridad en la información brindada"},
	{24, CategoryHabilidades, "Cierre cordial de la comunicación"},
}

// Индексы, построенные по справочнику при инициализации пакета.
var (
	byID        map[int]Criterion
	totals      map[Category]int
	allIDsSlice []int
)

func init() {
	byID = make(map[int]Criterion, len(catalog))
	totals = make(map[Category]int, len(Categories))
	allIDsSlice = make([]int, 0, len(catalog))
	for _, c := range catalog {
		byID[c.ID] = c
		totals[c.Category]++
		allIDsSlice = append(allIDsSlice, c.ID)
	}
	sort.Ints(allIDsSlice)
}

// Catalog возвращает копию справочника критериев.
func Catalog() []Criterion {
	out := make([]Criterion, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup возвращает критерий по id.
func Lookup(id int) (Criterion, bool) {
	c, ok := byID[id]
	return c, ok
}

// CategoryTotal — количество критериев в категории.
// Считается по справочнику, а не задаётся константой.
func CategoryTotal(cat Category) int {
	return totals[cat]
}

// AllIDs возвращает все id справочника по возрастанию.
func AllIDs() []int {
	out := make([]int, len(allIDsSlice))
	copy(out, allIDsSlice)
	return out
}
