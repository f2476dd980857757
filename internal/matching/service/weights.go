package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"material-matcher/internal/matching/model"
)

// Weights — неизменяемые веса критериев. Сумма не обязана быть 1:
// нормировка делается на каждой паре по реально оценённым полям.
type Weights struct {
	w [model.NumFields]float64
}

var fieldWeightsDefault = [model.NumFields]float64{
	model.FieldName:        0.4,
	model.FieldDescription: 0.2,
	model.FieldCategory:    0.15,
	model.FieldBrand:       0.15,
	model.FieldSpecs:       0.1,
}

func DefaultWeights() Weights {
	return Weights{w: fieldWeightsDefault}
}

// NewWeights проверяет веса: неотрицательные, конечные, хотя бы один > 0.
// Поля, которых нет в карте, получают вес 0 и не сравниваются.
func NewWeights(m map[model.Field]float64) (Weights, error) {
	var w Weights
	sum := 0.0
	for f, v := range m {
		if int(f) >= len(w.w) {
			return Weights{}, model.InvalidConfig("weights", "unknown field %s", f)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Weights{}, model.InvalidConfig("weights", "%s: weight is not a finite number", f)
		}
		if v < 0 {
			return Weights{}, model.InvalidConfig("weights", "%s: negative weight %g", f, v)
		}
		w.w[f] = v
		sum += v
	}
	if sum <= 0 {
		return Weights{}, model.InvalidConfig("weights", "at least one weight must be positive")
	}
	return w, nil
}

// ParseWeights читает "name=0.4,category=0.15".
func ParseWeights(s string) (Weights, error) {
	m := make(map[model.Field]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Weights{}, model.InvalidConfig("weights", "expected field=weight, got %q", part)
		}
		f, err := model.ParseField(k)
		if err != nil {
			return Weights{}, model.InvalidConfig("weights", "%v", err)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return Weights{}, model.InvalidConfig("weights", "%s: %v", f, err)
		}
		m[f] = x
	}
	return NewWeights(m)
}

func (w Weights) Of(f model.Field) float64 {
	if int(f) >= len(w.w) {
		return 0
	}
	return w.w[f]
}

// Criteria — поля с положительным весом, в порядке model.Fields.
func (w Weights) Criteria() []model.Field {
	out := make([]model.Field, 0, len(w.w))
	for _, f := range model.Fields {
		if w.w[f] > 0 {
			out = append(out, f)
		}
	}
	return out
}

// Normalize возвращает веса scored, делённые на их сумму.
func (w Weights) Normalize(scored []model.Field) []float64 {
	sum := 0.0
	for _, f := range scored {
		sum += w.w[f]
	}
	out := make([]float64, len(scored))
	if sum == 0 {
		return out
	}
	for i, f := range scored {
		out[i] = w.w[f] / sum
	}
	return out
}

func (w Weights) String() string {
	parts := make([]string, 0, len(w.w))
	for _, f := range model.Fields {
		parts = append(parts, fmt.Sprintf("%s=%g", f, w.w[f]))
	}
	return strings.Join(parts, ",")
}

func (w Weights) IsZero() bool { return w == Weights{} }
