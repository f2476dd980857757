package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"material-matcher/internal/matching/model"
	"material-matcher/internal/matching/service"
)

// Index — поиск кандидатов по прайсу в памяти: триграммный инвертированный
// индекс для отбора и Jaccard по триграммам для релевантности.
// После New не меняется, безопасен для конкурентного Resolve.
type Index struct {
	items  []model.CatalogItem
	docs   []string         // нормализованный текст позиции
	inv    map[string][]int // trigram -> позиции в items по возрастанию
	metric *metrics.Jaccard

	minRelevance float64
}

type Option func(*Index)

// WithMinRelevance отбрасывает кандидатов с релевантностью ниже r (0..1).
func WithMinRelevance(r float64) Option { return func(x *Index) { x.minRelevance = r } }

func New(items []model.CatalogItem, opts ...Option) *Index {
	m := metrics.NewJaccard()
	m.NgramSize = 3

	x := &Index{
		items:        items,
		docs:         make([]string, len(items)),
		inv:          make(map[string][]int),
		metric:       m,
		minRelevance: 0.05,
	}
	for _, opt := range opts {
		opt(x)
	}

	for i, it := range items {
		doc := service.Normalize(document(it))
		x.docs[i] = doc
		if doc == "" {
			continue
		}
		for g := range trigramSet(doc) {
			x.inv[g] = append(x.inv[g], i)
		}
	}
	return x
}

func (x *Index) Len() int { return len(x.items) }

// document — что индексируем у позиции: наименование, артикул, бренд.
func document(it model.CatalogItem) string {
	parts := []string{it.Name}
	if it.Article != "" && !strings.Contains(it.Name, it.Article) {
		parts = append(parts, it.Article)
	}
	if it.Brand != "" && !strings.Contains(it.Name, it.Brand) {
		parts = append(parts, it.Brand)
	}
	return strings.Join(parts, " ")
}

// Query — текст запроса для материала: наименование, плюс код оборудования
// и завод-изготовитель, если их ещё нет в наименовании.
func Query(m model.Material) string {
	parts := []string{m.Name}
	if m.EquipmentCode != "" && !strings.Contains(m.Name, m.EquipmentCode) {
		parts = append(parts, m.EquipmentCode)
	}
	if m.Manufacturer != "" && !strings.Contains(m.Name, m.Manufacturer) {
		parts = append(parts, m.Manufacturer)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

type hit struct {
	i   int
	rel float64
}

// Resolve возвращает до maxCandidates позиций (<= 0: все найденные),
// лучшие первыми; при равной релевантности — по id.
func (x *Index) Resolve(ctx context.Context, m model.Material, maxCandidates int) ([]model.Candidate, error) {
	q := service.Normalize(Query(m))
	if q == "" {
		return []model.Candidate{}, nil
	}

	seen := make(map[int]struct{})
	for g := range trigramSet(q) {
		for _, i := range x.inv[g] {
			seen[i] = struct{}{}
		}
	}

	hits := make([]hit, 0, len(seen))
	n := 0
	for i := range seen {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rel := strutil.Similarity(q, x.docs[i], x.metric)
		if rel < x.minRelevance {
			continue
		}
		hits = append(hits, hit{i: i, rel: rel})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].rel != hits[b].rel {
			return hits[a].rel > hits[b].rel
		}
		if ia, ib := x.items[hits[a].i].ID, x.items[hits[b].i].ID; ia != ib {
			return ia < ib
		}
		return hits[a].i < hits[b].i
	})
	if maxCandidates > 0 && len(hits) > maxCandidates {
		hits = hits[:maxCandidates]
	}

	out := make([]model.Candidate, len(hits))
	for k, h := range hits {
		rel := h.rel
		out[k] = model.Candidate{Item: x.items[h.i], Relevance: &rel}
	}
	return out, nil
}

func trigramSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	if s == "" {
		return m
	}
	r := []rune(" " + s + " ")
	if len(r) < 3 {
		m[string(r)] = struct{}{}
		return m
	}
	for i := 0; i <= len(r)-3; i++ {
		m[string(r[i:i+3])] = struct{}{}
	}
	return m
}
