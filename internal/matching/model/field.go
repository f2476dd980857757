package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field — сравниваемый атрибут записи. Набор закрытый.
type Field uint8

const (
	FieldName Field = iota
	FieldDescription
	FieldCategory
	FieldBrand
	FieldSpecs

	NumFields = iota
)

// Fields — все критерии в порядке вывода разбивки.
var Fields = []Field{FieldName, FieldDescription, FieldCategory, FieldBrand, FieldSpecs}

var fieldNames = [...]string{"name", "description", "category", "brand", "specifications"}

func (f Field) String() string {
	if int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// Kind определяет, каким способом сравнивается поле.
func (f Field) Kind() Kind {
	switch f {
	case FieldCategory, FieldBrand:
		return KindCategorical
	case FieldSpecs:
		return KindSpecs
	case FieldName:
		return KindName
	default:
		return KindText
	}
}

func (f Field) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

func (f *Field) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseField(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseField понимает "name", "Name", "specs", "specifications".
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "specs" {
		return FieldSpecs, nil
	}
	for i, n := range fieldNames {
		if n == s {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

type Kind uint8

const (
	KindText Kind = iota
	KindCategorical
	KindSpecs
	KindName // текст с проверкой числовых характеристик
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCategorical:
		return "categorical"
	case KindSpecs:
		return "specs"
	case KindName:
		return "name"
	}
	return "unknown"
}

type BatchState uint8

const (
	StateIdle BatchState = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s BatchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

func (s BatchState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }
