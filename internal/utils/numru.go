package utils

import (
	"regexp"
	"strconv"
	"strings"
)

var rxKeepNums = regexp.MustCompile(`[^\d\.\-]`)

// ParseFloatRU парсит "1 234,50", "197 ,00", "2 345,6" (NBSP/NNBSP) и т.п.
func ParseFloatRU(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	repl := strings.NewReplacer("\u00A0", "", "\u202F", "", " ", "", "\t", "", ",", ".")
	s = repl.Replace(s)
	s = rxKeepNums.ReplaceAllString(s, "")
	s = strings.Trim(s, ".") // "руб." оставляет хвостовую точку
	// "1.234.50" после замены запятой: последняя точка — десятичная
	if strings.Count(s, ".") > 1 {
		i := strings.LastIndex(s, ".")
		s = strings.ReplaceAll(s[:i], ".", "") + s[i:]
	}
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// ParseOptFloat — то же, но nil для пустых и мусорных значений.
func ParseOptFloat(s string) *float64 {
	f, ok := ParseFloatRU(s)
	if !ok {
		return nil
	}
	return &f
}

var currencies = []struct {
	code  string
	marks []string
}{
	{"RUB", []string{"₽", "руб", "rub", "р."}},
	{"USD", []string{"$", "usd", "долл"}},
	{"EUR", []string{"€", "eur", "евро"}},
	{"CNY", []string{"¥", "cny", "юан"}},
}

// DetectCurrency ищет обозначение валюты в ячейке цены ("1 200 руб.", "$15").
// Пустая строка, если валюта не указана.
func DetectCurrency(s string) string {
	s = strings.ToLower(s)
	for _, c := range currencies {
		for _, m := range c.marks {
			if strings.Contains(s, m) {
				return c.code
			}
		}
	}
	return ""
}

// ParsePrice разбирает цену вместе с валютой.
func ParsePrice(s string) (*float64, string) {
	return ParseOptFloat(s), DetectCurrency(s)
}
