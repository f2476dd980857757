package service

import (
	"math"
	"runtime"
	"time"

	"material-matcher/internal/matching/model"
)

// Config — вся настройка сопоставления, передаётся один раз при создании оркестратора.
type Config struct {
	Weights          Weights
	Threshold        float64       // минимальный процент, 0..100
	SpecAcceptance   float64       // порог схожести значений характеристик, 0..1
	NumericPenalty   float64       // 0..1, при 1 без штрафа за конфликт чисел
	TopN             int           // 0: без ограничения
	MaxCandidates    int           // размер шорт-листа, запрашиваемого у поиска
	Workers          int           // воркеры по материалам
	ScoreParallelism int           // параллельность оценки кандидатов одного материала
	ResolverTimeout  time.Duration // 0: без таймаута
	ResolverRPS      float64       // 0: без ограничения
	CacheCapacity    int
	CacheTTL         time.Duration // 0: без срока
}

// DefaultConfig — значения по умолчанию из рабочей конфигурации сервиса.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		Threshold:        20,
		SpecAcceptance:   0.8,
		NumericPenalty:   0.7,
		TopN:             5,
		MaxCandidates:    20,
		Workers:          runtime.GOMAXPROCS(0),
		ScoreParallelism: 4,
		ResolverTimeout:  10 * time.Second,
		CacheCapacity:    100_000,
		CacheTTL:         time.Hour,
	}
}

func (c Config) Validate() error {
	if c.Weights.IsZero() {
		return model.InvalidConfig("weights", "no positive weight configured")
	}
	if !finite(c.Threshold) || c.Threshold < 0 || c.Threshold > 100 {
		return model.InvalidConfig("threshold", "must be within [0,100], got %g", c.Threshold)
	}
	if !finite(c.SpecAcceptance) || c.SpecAcceptance < 0 || c.SpecAcceptance > 1 {
		return model.InvalidConfig("spec_acceptance", "must be within [0,1], got %g", c.SpecAcceptance)
	}
	if !finite(c.NumericPenalty) || c.NumericPenalty < 0 || c.NumericPenalty > 1 {
		return model.InvalidConfig("numeric_penalty", "must be within [0,1], got %g", c.NumericPenalty)
	}
	if c.TopN < 0 {
		return model.InvalidConfig("top_n", "must not be negative, got %d", c.TopN)
	}
	if c.MaxCandidates < 0 {
		return model.InvalidConfig("max_candidates", "must not be negative, got %d", c.MaxCandidates)
	}
	if c.Workers < 1 {
		return model.InvalidConfig("workers", "must be at least 1, got %d", c.Workers)
	}
	if c.ScoreParallelism < 1 {
		return model.InvalidConfig("score_parallelism", "must be at least 1, got %d", c.ScoreParallelism)
	}
	if c.ResolverTimeout < 0 {
		return model.InvalidConfig("resolver_timeout", "must not be negative, got %s", c.ResolverTimeout)
	}
	if !finite(c.ResolverRPS) || c.ResolverRPS < 0 {
		return model.InvalidConfig("resolver_rps", "must not be negative, got %g", c.ResolverRPS)
	}
	if c.CacheCapacity < 1 {
		return model.InvalidConfig("cache_capacity", "must be at least 1, got %d", c.CacheCapacity)
	}
	if c.CacheTTL < 0 {
		return model.InvalidConfig("cache_ttl", "must not be negative, got %s", c.CacheTTL)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
