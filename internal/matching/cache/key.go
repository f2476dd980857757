package cache

import (
	"bytes"
	"crypto/sha256"
	"sort"
	"strings"
)

// Fingerprint — детерминированный дайджест сравниваемых полей записи.
type Fingerprint [16]byte

// Key — неупорядоченная пара отпечатков: оценка симметрична,
// поэтому (a,b) и (b,a) попадают в одну запись.
type Key struct {
	Lo, Hi Fingerprint
}

func PairKey(a, b Fingerprint) Key {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Key{Lo: a, Hi: b}
}

// Fields — поля для отпечатка в фиксированном порядке.
type Fields struct {
	Salt                               string // настройки сравнения, влияющие на оценку
	Name, Description, Category, Brand string
	Specs                              map[string]string
}

// Sum считает отпечаток. Идентификатор записи не участвует:
// одинаковое содержимое даёт одинаковую оценку.
func Sum(f Fields) Fingerprint {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(f.Salt)
	write(f.Name)
	write(f.Description)
	write(f.Category)
	write(f.Brand)

	keys := make([]string, 0, len(f.Specs))
	for k := range f.Specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(strings.TrimSpace(k))
		write(f.Specs[k])
	}

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
