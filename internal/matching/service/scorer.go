package service

import (
	"fmt"

	"material-matcher/internal/matching/cache"
	"material-matcher/internal/matching/model"
)

// Record — сравниваемая часть записи. Материал и позиция прайса сводятся
// к одному виду, поэтому оценка симметрична: Score(a,b) == Score(b,a).
type Record struct {
	Name        string
	Description string
	Category    string
	Brand       string
	Specs       map[string]string
}

func MaterialRecord(m model.Material) Record {
	return Record{Name: m.Name, Description: m.Description, Category: m.Category, Brand: m.Brand, Specs: m.Specs}
}

func ItemRecord(it model.CatalogItem) Record {
	return Record{Name: it.Name, Description: it.Description, Category: it.Category, Brand: it.Brand, Specs: it.Specs}
}

func (r Record) value(f model.Field) Value {
	switch f {
	case model.FieldName:
		return Value{Text: r.Name}
	case model.FieldDescription:
		return Value{Text: r.Description}
	case model.FieldCategory:
		return Value{Text: r.Category}
	case model.FieldBrand:
		return Value{Text: r.Brand}
	case model.FieldSpecs:
		return Value{Specs: r.Specs}
	}
	return Value{}
}

// Fingerprint — отпечаток содержимого записи; salt отделяет оценки
// с разными весами и настройками сравнения в общем кэше.
func (r Record) Fingerprint(salt string) cache.Fingerprint {
	return cache.Sum(cache.Fields{
		Salt:        salt,
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Brand:       r.Brand,
		Specs:       r.Specs,
	})
}

// Scorer считает взвешенный процент схожести пары записей.
// Кэш разделяется между воркерами; больше общего изменяемого состояния нет.
type Scorer struct {
	cmp      Comparator
	weights  Weights
	criteria []model.Field
	cache    *cache.ScoreCache // nil — без кэша
	salt     string
}

func NewScorer(w Weights, cmp Comparator, c *cache.ScoreCache) *Scorer {
	salt := w.String()
	if st, ok := cmp.(fmt.Stringer); ok {
		salt += ";" + st.String()
	}
	return &Scorer{cmp: cmp, weights: w, criteria: w.Criteria(), cache: c, salt: salt}
}

// Score — оценка пары материал/позиция без порога и ранжирования.
func (s *Scorer) Score(m model.Material, it model.CatalogItem) model.MatchResult {
	res, _ := s.score(MaterialRecord(m), ItemRecord(it))
	res.MaterialID = m.ID
	res.ItemID = it.ID
	return res
}

// ScoreRecords — то же для произвольной пары записей.
func (s *Scorer) ScoreRecords(a, b Record) model.MatchResult {
	res, _ := s.score(a, b)
	return res
}

// score возвращает ещё и признак попадания в кэш.
func (s *Scorer) score(a, b Record) (model.MatchResult, bool) {
	var key cache.Key
	if s.cache != nil {
		key = cache.PairKey(a.Fingerprint(s.salt), b.Fingerprint(s.salt))
		if e, ok := s.cache.Get(key); ok {
			return model.MatchResult{Percentage: e.Percentage, Fields: e.Fields}, true
		}
	}

	fields, pct := s.compute(a, b)
	if s.cache != nil {
		s.cache.Put(key, cache.Entry{Fields: fields, Percentage: pct})
	}
	return model.MatchResult{Percentage: pct, Fields: fields}, false
}

// compute: сумма wᵢ·sᵢ / сумма wᵢ только по оценённым полям.
// Поле, пустое с обеих сторон, не входит ни в числитель, ни в знаменатель.
// Деление в самом конце: у идентичных записей числитель и знаменатель
// складываются одинаково и дают ровно 100.
func (s *Scorer) compute(a, b Record) ([]model.FieldScore, float64) {
	scored := make([]model.Field, 0, len(s.criteria))
	raw := make([]float64, 0, len(s.criteria))
	for _, f := range s.criteria {
		v, ok := s.cmp.Compare(a.value(f), b.value(f), f.Kind())
		if !ok {
			continue
		}
		scored = append(scored, f)
		raw = append(raw, clamp01(v))
	}
	if len(scored) == 0 {
		return []model.FieldScore{}, 0
	}

	norm := s.weights.Normalize(scored)
	fields := make([]model.FieldScore, len(scored))
	num, den := 0.0, 0.0
	for i, f := range scored {
		w := s.weights.Of(f)
		num += w * raw[i]
		den += w
		fields[i] = model.FieldScore{Field: f, Score: raw[i], Weight: norm[i]}
	}
	return fields, clamp01(num/den) * 100
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0: // NaN тоже в ноль
		return 0
	case v > 1:
		return 1
	}
	return v
}
