package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration — конфигурация не прошла проверку, работа не начинается.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrResolver — внешний поиск кандидатов вернул ошибку или не уложился в таймаут.
	ErrResolver = errors.New("shortlist resolver failure")

	// ErrMalformedRecord — у записи нет обязательного идентификатора.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrComparator — сбой при расчёте схожести.
	ErrComparator = errors.New("comparator failure")
)

// ConfigError указывает, какой параметр некорректен.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

func InvalidConfig(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type FailureKind uint8

const (
	ResolverFailure FailureKind = iota + 1
	ComparatorFailure
)

func (k FailureKind) String() string {
	switch k {
	case ResolverFailure:
		return "resolver"
	case ComparatorFailure:
		return "comparator"
	}
	return "unknown"
}

// Failure — ошибка обработки одного материала. Пакет при этом продолжается.
type Failure struct {
	MaterialID string
	Kind       FailureKind
	Err        error
}

func (f Failure) Error() string {
	return fmt.Sprintf("material %s: %v", f.MaterialID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		MaterialID string `json:"materialId"`
		Kind       string `json:"kind"`
		Error      string `json:"error"`
	}{f.MaterialID, f.Kind.String(), msg})
}

// Skip — запись, исключённая из пакета до начала обработки.
type Skip struct {
	Index  int    `json:"index"` // позиция во входной последовательности
	Reason string `json:"reason"`
}
