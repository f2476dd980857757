package service

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Латиница→кириллица (визуальные двойники). Применяется после ToLower,
// поэтому "ABB" и "abb" дают одно и то же.
var lookalikes = map[rune]rune{
	'a': 'а', 'b': 'в', 'c': 'с', 'e': 'е', 'h': 'н', 'k': 'к', 'm': 'м',
	'o': 'о', 'p': 'р', 't': 'т', 'x': 'х', 'y': 'у',
}

// 0,5 → 0.5
var decComma = regexp.MustCompile(`(\d),(\d)`)

// 3x2,5 / 3 х 2.5 / 3*2.5 → 3×2.5 (до замены двойников, иначе x станет буквой)
var reDims = regexp.MustCompile(`(\d)\s*[xXхХ×*]\s*(\d)`)

// разрешаем буквы/цифры/пробелы, точку, проценты и знак размера
var punct = regexp.MustCompile(`[^\p{L}\p{N}\s.%×²]+`)

// Единицы измерения, длинные варианты раньше коротких.
const unitWord = `мм²|мм2|квт|ква|вт|мл|мг|мм|см|кг|шт|л|г|м|в|а|%`

var reUnit = regexp.MustCompile(`^(?:` + unitWord + `)$`)

var reNumber = regexp.MustCompile(`^\d+(?:\.\d+)?(?:×\d+(?:\.\d+)?)*$`)

// "48мм", "3×2.5мм²", "3×1.5" — значимые числовые токены для гарда
var reNumUnit = regexp.MustCompile(`^\d+(?:\.\d+)?(?:(?:×\d+(?:\.\d+)?)+(?:` + unitWord + `)?|(?:` + unitWord + `))$`)

var markStrip = runes.Remove(runes.In(unicode.Mn))

// Normalize — тот же конвейер, что использует сравнение; нужен поиску,
// чтобы индекс и скоринг видели текст одинаково.
func Normalize(s string) string { return normalize(s) }

// normalize — конвейер подготовки текста к нечёткому сравнению.
func normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	out := foldAccents(s)

	// 1) размеры до всех замен
	for prev := ""; prev != out; {
		prev = out
		out = reDims.ReplaceAllString(out, "$1×$2") // 3x4x5 в два прохода
	}

	// 2) регистр, затем двойники
	out = strings.ToLower(out)
	out = unifyLookalikes(out)

	// 3) десятичные: 3,2 → 3.2 (ДО чистки пунктуации)
	out = decComma.ReplaceAllString(out, "$1.$2")

	// 4) пунктуация → пробелы, точки по краям токенов срезаем
	out = punct.ReplaceAllString(out, " ")
	tokens := strings.Fields(out)
	kept := tokens[:0]
	for _, t := range tokens {
		t = strings.Trim(t, ".")
		if t != "" {
			kept = append(kept, t)
		}
	}

	// 5) склейка "число + единица": "48 мм" → "48мм"
	return strings.Join(attachUnits(kept), " ")
}

// foldAccents снимает диакритику (ё→е, é→e), но оставляет й.
func foldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < utf8.RuneSelf || r == 'й' || r == 'Й' {
			b.WriteRune(r)
			continue
		}
		d, _, err := transform.String(markStrip, norm.NFD.String(string(r)))
		if err != nil || d == "" {
			b.WriteRune(r)
			continue
		}
		b.WriteString(norm.NFC.String(d))
	}
	return b.String()
}

func unifyLookalikes(s string) string {
	return strings.Map(func(r rune) rune {
		if rr, ok := lookalikes[r]; ok {
			return rr
		}
		return r
	}, s)
}

func attachUnits(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if i+1 < len(tokens) && reNumber.MatchString(t) && reUnit.MatchString(tokens[i+1]) {
			t += tokens[i+1]
			i++
		}
		out = append(out, t)
	}
	return out
}

// Лексикографическая сортировка токенов
func tokenSort(s string) string {
	f := strings.Fields(s)
	sort.Strings(f)
	return strings.Join(f, " ")
}

// extractNumUnits — отсортированное множество "число+единица" и размеров.
func extractNumUnits(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		if !reNumUnit.MatchString(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// numericConflict: у обеих строк есть числовые характеристики, и ни одна не совпала.
// Число без единицы совместимо с тем же числом с единицей: "3×2.5" и "3×2.5мм²".
func numericConflict(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, x := range a {
		for _, y := range b {
			if numCompatible(x, y) {
				return false
			}
		}
	}
	return true
}

var reNumCore = regexp.MustCompile(`^\d+(?:\.\d+)?(?:×\d+(?:\.\d+)?)*`)

func numCompatible(x, y string) bool {
	if x == y {
		return true
	}
	cx, cy := reNumCore.FindString(x), reNumCore.FindString(y)
	return cx == cy && (cx == x || cy == y)
}

// normKey — ключ характеристики: регистр, NBSP, ё→е, служебные символы.
func normKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(foldAccents(s)))
	s = strings.NewReplacer("\u00A0", " ", "\u202F", " ").Replace(s)
	s = reNonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

var reNonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)
