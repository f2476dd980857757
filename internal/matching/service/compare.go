package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"material-matcher/internal/matching/model"
)

// Value — значение одного поля с одной стороны пары.
type Value struct {
	Text  string
	Specs map[string]string
}

// Comparator сравнивает два значения поля.
// scored == false, когда поле пусто с обеих сторон и в расчёт не идёт.
type Comparator interface {
	Compare(a, b Value, kind model.Kind) (score float64, scored bool)
}

type CompareOptions struct {
	SpecAcceptance float64 // порог схожести значений характеристики (0..1)
	NumericPenalty float64 // множитель при конфликте числовых характеристик; при 1 гард выключен
}

// FuzzyComparator — нормализация + Дамерау-Левенштейн + token set.
type FuzzyComparator struct {
	opts CompareOptions
}

func NewFuzzyComparator(opts CompareOptions) *FuzzyComparator {
	return &FuzzyComparator{opts: opts}
}

func (c *FuzzyComparator) String() string {
	return fmt.Sprintf("fuzzy(spec=%g,penalty=%g)", c.opts.SpecAcceptance, c.opts.NumericPenalty)
}

func (c *FuzzyComparator) Compare(a, b Value, kind model.Kind) (float64, bool) {
	switch kind {
	case model.KindSpecs:
		return c.compareSpecs(a.Specs, b.Specs)
	case model.KindCategorical:
		return c.compareCategorical(a.Text, b.Text)
	case model.KindName:
		return c.compareText(a.Text, b.Text, true)
	default:
		return c.compareText(a.Text, b.Text, false)
	}
}

// numGuard включает штраф за конфликт чисел (только для наименования).
func (c *FuzzyComparator) compareText(a, b string, numGuard bool) (float64, bool) {
	na, nb := normalize(a), normalize(b)
	if na == "" && nb == "" {
		return 0, false
	}
	if na == "" || nb == "" {
		return 0, true // данные есть только с одной стороны — штраф
	}
	s := textSimilarity(na, nb)
	if numGuard && c.opts.NumericPenalty < 1 && numericConflict(extractNumUnits(na), extractNumUnits(nb)) {
		s *= c.opts.NumericPenalty
	}
	return s, true
}

// Бренды и категории у поставщиков пишутся по-разному ("ABB" / "abb S.p.A"),
// поэтому после точного сравнения падаем в нечёткое.
func (c *FuzzyComparator) compareCategorical(a, b string) (float64, bool) {
	na, nb := normalize(a), normalize(b)
	if na == "" && nb == "" {
		return 0, false
	}
	if na == "" || nb == "" {
		return 0, true
	}
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return 1, true
	}
	return textSimilarity(na, nb), true
}

// compareSpecs: доля ключей (из объединения), значения которых совпали не хуже порога
// (схожесть, равная SpecAcceptance, засчитывается).
func (c *FuzzyComparator) compareSpecs(a, b map[string]string) (float64, bool) {
	sa, sb := normSpecs(a), normSpecs(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0, false
	}
	union := len(sa)
	matched := 0
	for k, vb := range sb {
		va, ok := sa[k]
		if !ok {
			union++
			continue
		}
		if va == vb || textSimilarity(va, vb) >= c.opts.SpecAcceptance {
			matched++
		}
	}
	return float64(matched) / float64(union), true
}

// normSpecs нормализует ключи и значения. Из ключей, сводящихся к одному
// ("Напряжение" и "напряжение"), берётся лексикографически первый исходный.
func normSpecs(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	for _, k := range keys {
		nk, nv := normKey(k), normalize(m[k])
		if nk == "" || nv == "" {
			continue
		}
		if _, dup := out[nk]; dup {
			continue
		}
		out[nk] = nv
	}
	return out
}

// textSimilarity — максимум из посимвольной схожести и token set.
// Оба аргумента уже нормализованы.
func textSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	whole := editSimilarity(a, b)
	if ts := tokenSetSimilarity(a, b); ts > whole {
		return ts
	}
	return whole
}

// normalized Damerau-Levenshtein similarity in [0..1]
func editSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	m := utf8.RuneCountInString(a)
	if mb := utf8.RuneCountInString(b); mb > m {
		m = mb
	}
	if m == 0 {
		return 1
	}
	d := matchr.DamerauLevenshtein(a, b)
	if d >= m {
		return 0
	}
	return 1 - float64(d)/float64(m)
}

// tokenSetSimilarity не зависит от порядка слов: общая часть сравнивается
// с каждой из сторон, лучший результат побеждает.
// "кабель ввгнг" vs "кабель силовой ввгнг ls" → общая часть покрывает первую строку целиком.
func tokenSetSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	var sect, onlyA, onlyB []string
	for t := range ta {
		if _, ok := tb[t]; ok {
			sect = append(sect, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	if len(sect) == 0 {
		return editSimilarity(tokenSort(a), tokenSort(b))
	}
	s := strings.Join(sect, " ")
	ca := strings.TrimSpace(s + " " + strings.Join(onlyA, " "))
	cb := strings.TrimSpace(s + " " + strings.Join(onlyB, " "))

	best := editSimilarity(s, ca)
	if v := editSimilarity(s, cb); v > best {
		best = v
	}
	if v := editSimilarity(ca, cb); v > best {
		best = v
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	f := strings.Fields(s)
	m := make(map[string]struct{}, len(f))
	for _, t := range f {
		m[t] = struct{}{}
	}
	return m
}
