package handler

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var reHeaderJunk = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// нормализуем имя колонки: нижний регистр, ё→е, служебные символы и лишние пробелы
func normHeaderKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("\u00A0", " ", "\u202F", " ", "ё", "е").Replace(s)
	s = reHeaderJunk.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// resolveKey ищет реальный заголовок по желаемому имени.
// Поддерживает варианты через "|" (например: "Наименование|Номенклатура").
// Порядок: точное совпадение, нормализованное, затем самое длинное вхождение.
func resolveKey(headers []string, want string) string {
	want = strings.TrimSpace(want)
	if want == "" {
		return ""
	}
	alts := strings.Split(want, "|")
	for i := range alts {
		alts[i] = strings.TrimSpace(alts[i])
	}

	for _, a := range alts {
		for _, h := range headers {
			if h == a {
				return h
			}
		}
	}

	nAlts := make([]string, 0, len(alts))
	for _, a := range alts {
		if n := normHeaderKey(a); n != "" {
			nAlts = append(nAlts, n)
		}
	}
	for _, n := range nAlts {
		for _, h := range headers {
			if normHeaderKey(h) == n {
				return h
			}
		}
	}

	// частичное: "наименование товара" содержит "наименование";
	// при равенстве побеждает левая колонка
	bestKey, bestScore := "", 0
	for _, h := range headers {
		nk := normHeaderKey(h)
		if nk == "" {
			continue
		}
		score := 0
		for _, n := range nAlts {
			if len([]rune(n)) < 3 {
				continue // "id", "№" дают слишком много ложных вхождений
			}
			if strings.Contains(nk, n) {
				score = max(score, len(n))
			}
		}
		if score > bestScore {
			bestScore, bestKey = score, h
		}
	}
	return bestKey
}

// looksLikeHeaderRow — повтор шапки внутри данных (выгрузки 1С на несколько страниц).
func looksLikeHeaderRow(vals map[string]string) bool {
	cnt := 0
	for _, v := range vals {
		s := strings.ToLower(v)
		if strings.Contains(s, "наимен") || strings.Contains(s, "артикул") ||
			strings.Contains(s, "колич") || strings.Contains(s, "цена") {
			cnt++
		}
	}
	return cnt >= 2
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return i
}

func toFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}
